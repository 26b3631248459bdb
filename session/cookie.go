package session

import (
	"net/http"
	"time"
)

// DefaultCookieName is the cookie carrying the session token.
const DefaultCookieName = "SSO_SESSION"

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = DefaultCookieName
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// Cookie builds an HttpOnly cookie carrying value.
func (c CookieConfig) Cookie(value string) *http.Cookie {
	c = c.withDefaults()
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge / time.Second),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	}
}

// Expired builds a cookie that makes the client drop the session cookie.
func (c CookieConfig) Expired() *http.Cookie {
	ck := c.Cookie("")
	ck.MaxAge = -1
	return ck
}

// Value returns the session cookie value of r, if any.
func (c CookieConfig) Value(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.withDefaults().Name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}
