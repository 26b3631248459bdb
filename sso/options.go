package sso

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/smnsjas/go-negotiate/auth"
	"github.com/smnsjas/go-negotiate/session"
)

const (
	// DefaultCookieTTL is how long a negotiated identity stays cached.
	DefaultCookieTTL = time.Hour

	// DefaultHandshakeTTL bounds how long a half-finished handshake is kept.
	DefaultHandshakeTTL = 2 * time.Minute

	// DefaultMaxHandshakes bounds the number of half-finished handshakes.
	DefaultMaxHandshakes = 10000
)

// Options toggles the middleware features. Keys in option maps use the
// camelCase names from the mapstructure tags.
type Options struct {
	// UseGroups keeps the group names reported for the client.
	UseGroups bool `mapstructure:"useGroups"`

	// UseActiveDirectory enriches the identity through the configured Directory.
	UseActiveDirectory bool `mapstructure:"useActiveDirectory"`

	// UseOwner attaches the identity the server process runs as.
	UseOwner bool `mapstructure:"useOwner"`

	// UseCookies caches identities behind a session cookie.
	UseCookies bool `mapstructure:"useCookies"`

	// GroupFilterRegex keeps only the groups it matches.
	GroupFilterRegex string `mapstructure:"groupFilterRegex"`

	// AllowsGuest accepts logons mapped to the guest account.
	AllowsGuest bool `mapstructure:"allowsGuest"`

	// AllowsAnonymousLogon accepts anonymous logons.
	AllowsAnonymousLogon bool `mapstructure:"allowsAnonymousLogon"`

	// UseSession keeps the whole Object in the application session Store.
	UseSession bool `mapstructure:"useSession"`

	CookieName    string        `mapstructure:"cookieName"`
	CookieTTL     time.Duration `mapstructure:"cookieTTL"`
	CookieSecure  bool          `mapstructure:"cookieSecure"`
	HandshakeTTL  time.Duration `mapstructure:"handshakeTTL"`
	MaxHandshakes int           `mapstructure:"maxHandshakes"`
}

// DefaultOptions returns the default option set.
func DefaultOptions() Options {
	return Options{
		UseGroups:          true,
		UseActiveDirectory: true,
		UseCookies:         true,
		GroupFilterRegex:   ".*",
		CookieName:         session.DefaultCookieName,
		CookieTTL:          DefaultCookieTTL,
		HandshakeTTL:       DefaultHandshakeTTL,
		MaxHandshakes:      DefaultMaxHandshakes,
	}
}

// DecodeOptions overlays an option map onto DefaultOptions. Durations may be
// given as strings such as "30m". Unknown keys are rejected.
func DecodeOptions(m map[string]any) (Options, error) {
	opts := DefaultOptions()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opts,
	})
	if err != nil {
		return Options{}, fmt.Errorf("create options decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return Options{}, &auth.ConfigurationError{Field: "options", Reason: err.Error()}
	}
	return opts, nil
}

// Validate checks option values that do not depend on collaborators.
func (o Options) Validate() error {
	if _, err := o.groupFilter(); err != nil {
		return err
	}
	if o.UseCookies {
		if o.CookieName == "" {
			return &auth.ConfigurationError{Field: "cookieName", Reason: "must not be empty"}
		}
		if o.CookieTTL <= 0 {
			return &auth.ConfigurationError{Field: "cookieTTL", Reason: "must be positive"}
		}
	}
	if o.HandshakeTTL <= 0 {
		return &auth.ConfigurationError{Field: "handshakeTTL", Reason: "must be positive"}
	}
	if o.MaxHandshakes <= 0 {
		return &auth.ConfigurationError{Field: "maxHandshakes", Reason: "must be positive"}
	}
	return nil
}

func (o Options) groupFilter() (*regexp.Regexp, error) {
	expr := o.GroupFilterRegex
	if expr == "" {
		expr = ".*"
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &auth.ConfigurationError{Field: "groupFilterRegex", Reason: err.Error()}
	}
	return re, nil
}

func (o Options) cookie() session.CookieConfig {
	return session.CookieConfig{
		Name:   o.CookieName,
		MaxAge: o.CookieTTL,
		Secure: o.CookieSecure,
	}
}
