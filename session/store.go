package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// DefaultStoreCookieName is the cookie used by SecureCookieStore.
const DefaultStoreCookieName = "SSO_STATE"

// Store keeps a value in the application's own session, attached to the
// request rather than to a server-side cache.
type Store[V any] interface {
	Load(r *http.Request) (value V, ok bool, err error)
	Save(w http.ResponseWriter, r *http.Request, value V) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

// SecureCookieStore keeps the value in an authenticated, optionally encrypted
// cookie. Browsers cap cookies near 4 KiB, which bounds the value size.
type SecureCookieStore[V any] struct {
	codec  *securecookie.SecureCookie
	cookie CookieConfig
}

// NewSecureCookieStore creates a cookie store. hashKey authenticates the
// cookie (32 or 64 bytes recommended); a non-empty blockKey (16, 24 or 32
// bytes) also encrypts it.
func NewSecureCookieStore[V any](hashKey, blockKey []byte, cfg CookieConfig) (*SecureCookieStore[V], error) {
	if len(hashKey) == 0 {
		return nil, errors.New("session store: hash key is required")
	}
	switch len(blockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("session store: block key must be 16, 24 or 32 bytes, got %d", len(blockKey))
	}
	if len(blockKey) == 0 {
		blockKey = nil
	}
	if cfg.Name == "" {
		cfg.Name = DefaultStoreCookieName
	}
	cfg = cfg.withDefaults()

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	if cfg.MaxAge > 0 {
		codec.MaxAge(int(cfg.MaxAge / time.Second))
	}
	return &SecureCookieStore[V]{codec: codec, cookie: cfg}, nil
}

// Load implements Store. A missing, tampered or expired cookie is reported as
// absent.
func (s *SecureCookieStore[V]) Load(r *http.Request) (V, bool, error) {
	var value V
	raw, ok := s.cookie.Value(r)
	if !ok {
		return value, false, nil
	}
	if err := s.codec.Decode(s.cookie.Name, raw, &value); err != nil {
		return value, false, nil
	}
	return value, true, nil
}

// Save implements Store.
func (s *SecureCookieStore[V]) Save(w http.ResponseWriter, _ *http.Request, value V) error {
	encoded, err := s.codec.Encode(s.cookie.Name, value)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, s.cookie.Cookie(encoded))
	return nil
}

// Clear implements Store.
func (s *SecureCookieStore[V]) Clear(w http.ResponseWriter, _ *http.Request) error {
	http.SetCookie(w, s.cookie.Expired())
	return nil
}
