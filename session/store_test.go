package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.True(t, ValidToken(a))
	assert.False(t, ValidToken("short"))
	assert.False(t, ValidToken(a[:62]+"zz"))
}

func TestCookieConfig(t *testing.T) {
	cfg := CookieConfig{MaxAge: time.Hour, Secure: true}

	ck := cfg.Cookie("v")
	assert.Equal(t, DefaultCookieName, ck.Name)
	assert.Equal(t, "/", ck.Path)
	assert.Equal(t, 3600, ck.MaxAge)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)

	assert.Equal(t, -1, cfg.Expired().MaxAge)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := cfg.Value(r)
	assert.False(t, ok)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "abc"})
	v, ok := cfg.Value(r)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestSecureCookieStore_SaveLoad(t *testing.T) {
	store, err := NewSecureCookieStore[identity](
		securecookie.GenerateRandomKey(32),
		securecookie.GenerateRandomKey(32),
		CookieConfig{MaxAge: time.Hour},
	)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	want := identity{Name: `CORP\alice`, Groups: []string{"staff"}}
	require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), want))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultStoreCookieName, cookies[0].Name)
	assert.NotContains(t, cookies[0].Value, "alice", "value must be encrypted")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookies[0])
	got, ok, err := store.Load(r)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestSecureCookieStore_TamperedCookieIsAbsent(t *testing.T) {
	store, err := NewSecureCookieStore[identity](securecookie.GenerateRandomKey(32), nil, CookieConfig{})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultStoreCookieName, Value: "forged"})
	_, ok, err := store.Load(r)
	require.NoError(t, err)
	assert.False(t, ok)

	w := httptest.NewRecorder()
	require.NoError(t, store.Clear(w, r))
	require.Len(t, w.Result().Cookies(), 1)
	assert.Equal(t, -1, w.Result().Cookies()[0].MaxAge)
}

func TestNewSecureCookieStore_Validation(t *testing.T) {
	_, err := NewSecureCookieStore[identity](nil, nil, CookieConfig{})
	assert.Error(t, err)

	_, err = NewSecureCookieStore[identity]([]byte("hash"), []byte("short"), CookieConfig{})
	assert.Error(t, err)
}
