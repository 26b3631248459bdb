package sso

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-negotiate/auth"
	"github.com/smnsjas/go-negotiate/session"
)

var (
	ntlmNegotiate    = []byte("NTLMSSP\x00\x01\x00\x00\x00")
	ntlmAuthenticate = []byte("NTLMSSP\x00\x03\x00\x00\x00")
	kerberosAPReq    = []byte{0x60, 0x82, 0x01, 0x00}
)

type fakeHandle struct {
	legs     int
	released int
}

func (h *fakeHandle) Release() error {
	h.released++
	return nil
}

// fakeAcceptor completes a context after legs AcceptContext calls.
type fakeAcceptor struct {
	legs       int
	peer       auth.PeerInfo
	acceptErr  error
	peerErr    error
	finalToken []byte

	acquired int
	accepted int
	creds    []*fakeHandle
	contexts []*fakeHandle
}

func (a *fakeAcceptor) AcquireCredentials(_ context.Context, _ string, dir auth.Direction) (auth.CredentialHandle, error) {
	if dir != auth.Inbound {
		return nil, errors.New("inbound only")
	}
	a.acquired++
	h := &fakeHandle{}
	a.creds = append(a.creds, h)
	return h, nil
}

func (a *fakeAcceptor) QueryPackageInfo(name string) (auth.PackageInfo, error) {
	return auth.PackageInfo{Name: name, MaxTokenSize: 48256}, nil
}

func (a *fakeAcceptor) AcceptContext(_ context.Context, in auth.AcceptInput) (auth.ContextResult, error) {
	a.accepted++
	if a.acceptErr != nil {
		return auth.ContextResult{}, a.acceptErr
	}
	h, _ := in.Context.(*fakeHandle)
	if h == nil {
		h = &fakeHandle{}
		a.contexts = append(a.contexts, h)
	}
	h.legs++
	if h.legs < a.legs {
		return auth.ContextResult{Token: []byte(fmt.Sprintf("server-%d", h.legs)), Context: h}, nil
	}
	return auth.ContextResult{Token: a.finalToken, Context: h, Complete: true}, nil
}

func (a *fakeAcceptor) PeerInfo(_ context.Context, h auth.ContextHandle) (auth.PeerInfo, error) {
	if a.peerErr != nil {
		return auth.PeerInfo{}, a.peerErr
	}
	return a.peer, nil
}

func (a *fakeAcceptor) assertReleased(t *testing.T) {
	t.Helper()
	for i, h := range a.creds {
		assert.Equal(t, 1, h.released, "credential %d release count", i)
	}
	for i, h := range a.contexts {
		assert.Equal(t, 1, h.released, "context %d release count", i)
	}
}

func alice() auth.PeerInfo {
	return auth.PeerInfo{
		Name:   "alice",
		Domain: "CORP",
		SID:    "S-1-5-21-1-2-3-1104",
		Groups: []string{`CORP\Domain Users`, `CORP\app-admins`, `BUILTIN\Users`},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMiddleware(t *testing.T, acc auth.Acceptor, opts Options, extra ...Option) (*Middleware, *session.MemoryCache[*Identity]) {
	t.Helper()
	cache, err := session.NewMemoryCache[*Identity](100)
	require.NoError(t, err)
	options := append([]Option{WithCache(cache), WithLogger(quietLogger())}, extra...)
	m, err := New(acc, opts, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, cache
}

// doRequest runs one request through the middleware and returns the response
// and the Object seen by the next handler.
func doRequest(m *Middleware, r *http.Request) (*httptest.ResponseRecorder, *Object, bool) {
	var (
		obj    *Object
		called bool
	)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		obj, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(rec, r)
	return rec, obj, called
}

func negotiateRequest(token []byte) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(token))
	return r
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestMiddleware_MissingHeaderChallenges(t *testing.T) {
	acc := &fakeAcceptor{legs: 1, peer: alice()}
	m, _ := newTestMiddleware(t, acc, DefaultOptions())

	rec, _, called := doRequest(m, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Negotiate", rec.Header().Get("WWW-Authenticate"))
	assert.Zero(t, acc.acquired)
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	for _, value := range []string{"Basic dXNlcjpwYXNz", "Negotiate", "Negotiate !!!"} {
		t.Run(value, func(t *testing.T) {
			acc := &fakeAcceptor{legs: 1, peer: alice()}
			m, _ := newTestMiddleware(t, acc, DefaultOptions())

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", value)
			rec, _, called := doRequest(m, r)

			assert.False(t, called)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, acc.accepted)
		})
	}
}

func TestMiddleware_KerberosSingleLeg(t *testing.T) {
	acc := &fakeAcceptor{legs: 1, peer: alice(), finalToken: []byte("mutual")}
	m, cache := newTestMiddleware(t, acc, DefaultOptions())

	rec, obj, called := doRequest(m, negotiateRequest(kerberosAPReq))

	require.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Negotiate "+base64.StdEncoding.EncodeToString([]byte("mutual")), rec.Header().Get("WWW-Authenticate"))
	require.NotNil(t, obj)
	assert.Equal(t, auth.MethodKerberos, obj.Method)
	assert.False(t, obj.Cached)
	assert.Equal(t, `CORP\alice`, obj.User.QualifiedName())
	assert.Len(t, obj.User.Groups, 3)

	cookie := sessionCookie(t, rec, session.DefaultCookieName)
	assert.True(t, session.ValidToken(cookie.Value))
	assert.True(t, cookie.HttpOnly)
	cached, ok, err := cache.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, obj.User, cached)
	assert.NotSame(t, obj.User, cached, "cache must hold its own copy")

	acc.assertReleased(t)
}

func TestMiddleware_NTLMTwoLegs(t *testing.T) {
	acc := &fakeAcceptor{legs: 2, peer: alice()}
	m, _ := newTestMiddleware(t, acc, DefaultOptions())

	rec, _, called := doRequest(m, negotiateRequest(ntlmNegotiate))
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Negotiate "+base64.StdEncoding.EncodeToString([]byte("server-1")), rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, 1, m.handshakes.len())
	require.Len(t, acc.contexts, 1)
	assert.Zero(t, acc.contexts[0].released, "context must stay open between legs")

	rec, obj, called := doRequest(m, negotiateRequest(ntlmAuthenticate))
	require.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, auth.MethodNTLM, obj.Method)
	assert.Equal(t, 1, acc.acquired, "second leg must reuse the handshake")
	assert.Len(t, acc.contexts, 1)
	assert.Zero(t, m.handshakes.len())
	acc.assertReleased(t)
}

func TestMiddleware_CookieCacheHit(t *testing.T) {
	acc := &fakeAcceptor{legs: 1, peer: alice()}
	m, _ := newTestMiddleware(t, acc, DefaultOptions())

	rec, first, _ := doRequest(m, negotiateRequest(kerberosAPReq))
	cookie := sessionCookie(t, rec, session.DefaultCookieName)
	accepted := acc.accepted

	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.AddCookie(cookie)
	rec, obj, called := doRequest(m, r)

	require.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, obj.Cached)
	assert.Equal(t, first.User, obj.User)
	assert.Equal(t, accepted, acc.accepted, "cache hit must not call the provider")
}

func TestMiddleware_CookieCacheHitAudited(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m, _ := newTestMiddleware(t, &fakeAcceptor{legs: 1, peer: alice()}, DefaultOptions(), WithLogger(logger))

	rec, _, _ := doRequest(m, negotiateRequest(kerberosAPReq))
	cookie := sessionCookie(t, rec, session.DefaultCookieName)
	assert.NotContains(t, buf.String(), "session.cache_hit")

	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.AddCookie(cookie)
	_, _, called := doRequest(m, r)
	require.True(t, called)

	var hits int
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "session.cache_hit") {
			hits++
			assert.Contains(t, line, "alice")
		}
	}
	assert.Equal(t, 1, hits)
}

func TestMiddleware_UnknownCookieNegotiates(t *testing.T) {
	acc := &fakeAcceptor{legs: 1, peer: alice()}
	m, _ := newTestMiddleware(t, acc, DefaultOptions())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "not-a-token"})
	rec, _, called := doRequest(m, r)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_ProviderFailureHidesDetail(t *testing.T) {
	acc := &fakeAcceptor{legs: 1, acceptErr: errors.New("SEC_E_INVALID_TOKEN secret detail")}
	m, _ := newTestMiddleware(t, acc, DefaultOptions())

	rec, _, called := doRequest(m, negotiateRequest(kerberosAPReq))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Negotiate", rec.Header().Get("WWW-Authenticate"))
	assert.NotContains(t, rec.Body.String(), "SEC_E")
	acc.assertReleased(t)
}

func TestMiddleware_RestartReleasesParkedHandshake(t *testing.T) {
	acc := &fakeAcceptor{legs: 2, peer: alice()}
	m, _ := newTestMiddleware(t, acc, DefaultOptions())

	doRequest(m, negotiateRequest(ntlmNegotiate))
	rec, _, _ := doRequest(m, negotiateRequest(ntlmNegotiate))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Len(t, acc.contexts, 2)
	assert.Equal(t, 1, acc.contexts[0].released)
	assert.Equal(t, 1, acc.creds[0].released)
	assert.Zero(t, acc.contexts[1].released)
}

func TestMiddleware_GuestAndAnonymous(t *testing.T) {
	tests := []struct {
		name    string
		peer    auth.PeerInfo
		opts    func(*Options)
		allowed bool
	}{
		{"guest rejected", auth.PeerInfo{Name: "Guest", Guest: true}, func(*Options) {}, false},
		{"guest allowed", auth.PeerInfo{Name: "Guest", Guest: true}, func(o *Options) { o.AllowsGuest = true }, true},
		{"anonymous rejected", auth.PeerInfo{Anonymous: true}, func(*Options) {}, false},
		{"anonymous allowed", auth.PeerInfo{Anonymous: true}, func(o *Options) { o.AllowsAnonymousLogon = true }, true},
		{"guest flag does not allow anonymous", auth.PeerInfo{Anonymous: true}, func(o *Options) { o.AllowsGuest = true }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.opts(&opts)
			acc := &fakeAcceptor{legs: 1, peer: tt.peer}
			m, _ := newTestMiddleware(t, acc, opts)

			rec, _, called := doRequest(m, negotiateRequest(ntlmAuthenticate))
			assert.Equal(t, tt.allowed, called)
			if tt.allowed {
				assert.Equal(t, http.StatusOK, rec.Code)
			} else {
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Empty(t, rec.Result().Cookies())
			}
			acc.assertReleased(t)
		})
	}
}

func TestMiddleware_Groups(t *testing.T) {
	t.Run("filter", func(t *testing.T) {
		opts := DefaultOptions()
		opts.GroupFilterRegex = `^CORP\\app-`
		m, _ := newTestMiddleware(t, &fakeAcceptor{legs: 1, peer: alice()}, opts)

		_, obj, _ := doRequest(m, negotiateRequest(kerberosAPReq))
		require.NotNil(t, obj)
		assert.Equal(t, []string{`CORP\app-admins`}, obj.User.Groups)
		assert.True(t, obj.User.HasGroup(`CORP\app-admins`))
	})
	t.Run("disabled", func(t *testing.T) {
		opts := DefaultOptions()
		opts.UseGroups = false
		m, _ := newTestMiddleware(t, &fakeAcceptor{legs: 1, peer: alice()}, opts)

		_, obj, _ := doRequest(m, negotiateRequest(kerberosAPReq))
		require.NotNil(t, obj)
		assert.Empty(t, obj.User.Groups)
	})
}

func TestMiddleware_DirectoryAndOwner(t *testing.T) {
	opts := DefaultOptions()
	opts.UseOwner = true

	dir := DirectoryFunc(func(_ context.Context, id *Identity) (*DirectoryEntry, error) {
		return &DirectoryEntry{
			DisplayName: "Alice Liddell",
			Attributes:  map[string]any{"mail": "alice@corp.example", "sn": "Liddell"},
		}, nil
	})
	ownerCalls := 0
	owner := func(context.Context) (*Identity, error) {
		ownerCalls++
		return &Identity{Name: "svc-web", Domain: "CORP"}, nil
	}
	m, _ := newTestMiddleware(t, &fakeAcceptor{legs: 1, peer: alice()}, opts, WithDirectory(dir), WithOwner(owner))

	_, obj, _ := doRequest(m, negotiateRequest(kerberosAPReq))
	require.NotNil(t, obj)
	assert.Equal(t, "Alice Liddell", obj.User.DisplayName)
	assert.Equal(t, "alice@corp.example", obj.User.Attributes["mail"])
	require.NotNil(t, obj.Owner)
	assert.Equal(t, `CORP\svc-web`, obj.Owner.QualifiedName())

	doRequest(m, negotiateRequest(kerberosAPReq))
	assert.Equal(t, 1, ownerCalls, "owner is resolved once")
}

func TestMiddleware_OwnerRetriedAfterFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.UseOwner = true

	ownerCalls := 0
	owner := func(context.Context) (*Identity, error) {
		ownerCalls++
		if ownerCalls == 1 {
			return nil, errors.New("token query failed")
		}
		return &Identity{Name: "svc-web", Domain: "CORP"}, nil
	}
	m, _ := newTestMiddleware(t, &fakeAcceptor{legs: 1, peer: alice()}, opts, WithOwner(owner))

	rec, _, called := doRequest(m, negotiateRequest(kerberosAPReq))
	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, obj, called := doRequest(m, negotiateRequest(kerberosAPReq))
	require.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, obj.Owner)
	assert.Equal(t, `CORP\svc-web`, obj.Owner.QualifiedName())

	doRequest(m, negotiateRequest(kerberosAPReq))
	assert.Equal(t, 2, ownerCalls, "a resolved owner is reused")
}

func TestMiddleware_DirectoryFailureIgnored(t *testing.T) {
	dir := DirectoryFunc(func(context.Context, *Identity) (*DirectoryEntry, error) {
		return nil, errors.New("ldap: connection refused")
	})
	m, _ := newTestMiddleware(t, &fakeAcceptor{legs: 1, peer: alice()}, DefaultOptions(), WithDirectory(dir))

	rec, obj, called := doRequest(m, negotiateRequest(kerberosAPReq))
	require.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, obj.User.DisplayName)
}

func TestMiddleware_PeerInfoFailureUsesErrorHandler(t *testing.T) {
	var handled error
	onError := func(w http.ResponseWriter, _ *http.Request, err error) {
		handled = err
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	acc := &fakeAcceptor{legs: 1, peerErr: errors.New("token query failed")}
	m, _ := newTestMiddleware(t, acc, DefaultOptions(), WithErrorHandler(onError))

	rec, _, called := doRequest(m, negotiateRequest(kerberosAPReq))
	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.EqualError(t, handled, "token query failed")
	acc.assertReleased(t)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (*Identity, bool, error) {
	return nil, false, fmt.Errorf("%w: dial tcp: refused", session.ErrBackend)
}

func (failingCache) Set(context.Context, string, *Identity, time.Duration) error {
	return fmt.Errorf("%w: dial tcp: refused", session.ErrBackend)
}

func (failingCache) Invalidate(context.Context, string) error { return nil }

func TestMiddleware_CacheBackendFailure(t *testing.T) {
	m, err := New(&fakeAcceptor{legs: 1, peer: alice()}, DefaultOptions(),
		WithCache(failingCache{}), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer m.Close()

	token, err := session.NewToken()
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	rec, _, called := doRequest(m, r)
	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _, called = doRequest(m, negotiateRequest(kerberosAPReq))
	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMiddleware_UseSession(t *testing.T) {
	store, err := session.NewSecureCookieStore[*Object](securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32), session.CookieConfig{})
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.UseCookies = false
	opts.UseSession = true
	acc := &fakeAcceptor{legs: 1, peer: alice()}
	m, err := New(acc, opts, WithStore(store), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer m.Close()

	rec, first, called := doRequest(m, negotiateRequest(kerberosAPReq))
	require.True(t, called)
	assert.False(t, first.Cached)
	stateCookie := sessionCookie(t, rec, session.DefaultStoreCookieName)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(stateCookie)
	_, obj, called := doRequest(m, r)
	require.True(t, called)
	assert.True(t, obj.Cached)
	assert.Equal(t, first.User, obj.User)
	assert.Equal(t, auth.MethodKerberos, obj.Method)
	assert.Equal(t, 1, acc.accepted)
}

func TestMiddleware_Logout(t *testing.T) {
	acc := &fakeAcceptor{legs: 1, peer: alice()}
	m, cache := newTestMiddleware(t, acc, DefaultOptions())

	rec, _, _ := doRequest(m, negotiateRequest(kerberosAPReq))
	cookie := sessionCookie(t, rec, session.DefaultCookieName)

	r := httptest.NewRequest(http.MethodPost, "/logout", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	require.NoError(t, m.Logout(w, r))

	_, ok, _ := cache.Get(context.Background(), cookie.Value)
	assert.False(t, ok)
	assert.Equal(t, -1, sessionCookie(t, w, session.DefaultCookieName).MaxAge)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	cache, err := session.NewMemoryCache[*Identity](1)
	require.NoError(t, err)
	acc := &fakeAcceptor{}

	tests := []struct {
		name     string
		acceptor auth.Acceptor
		opts     func(*Options)
		options  []Option
		field    string
	}{
		{"nil acceptor", nil, func(*Options) {}, []Option{WithCache(cache)}, "acceptor"},
		{"cookies without cache", acc, func(*Options) {}, nil, "useCookies"},
		{"session without store", acc, func(o *Options) { o.UseSession = true }, []Option{WithCache(cache)}, "useSession"},
		{"bad regex", acc, func(o *Options) { o.GroupFilterRegex = "([" }, []Option{WithCache(cache)}, "groupFilterRegex"},
		{"zero cookie ttl", acc, func(o *Options) { o.CookieTTL = 0 }, []Option{WithCache(cache)}, "cookieTTL"},
		{"zero handshake ttl", acc, func(o *Options) { o.HandshakeTTL = 0 }, []Option{WithCache(cache)}, "handshakeTTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.opts(&opts)
			_, err := New(tt.acceptor, opts, tt.options...)
			require.Error(t, err)

			var ce *auth.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestNew_ActiveDirectoryWithoutDirectoryIsAllowed(t *testing.T) {
	opts := DefaultOptions()
	opts.UseCookies = false
	m, err := New(&fakeAcceptor{legs: 1, peer: alice()}, opts, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer m.Close()
}
