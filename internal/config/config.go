// Package config loads sso-server settings from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/smnsjas/go-negotiate/auth"
	"github.com/smnsjas/go-negotiate/internal/listener"
	"github.com/smnsjas/go-negotiate/session"
	"github.com/smnsjas/go-negotiate/sso"
)

// Config holds the server configuration.
type Config struct {
	// Listen address: host:port, pipe:<name> or hvsock:<guid>
	Addr string

	// Service principal for inbound credentials (empty = process account)
	Principal string

	// Service keytab for the Kerberos acceptor used where SSPI is unavailable
	Keytab string

	// Identity cache
	CookieName   string
	CookieTTL    time.Duration
	CookieSecure bool
	CacheSize    int

	// Redis cache; empty RedisAddr selects the in-memory cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Circuit breaker in front of the Redis cache
	BreakerThreshold int
	BreakerReset     time.Duration

	// Hex-encoded securecookie keys. A hash key enables the session store.
	HashKey  []byte
	BlockKey []byte

	GroupFilter    string
	AllowGuest     bool
	AllowAnonymous bool
	UseOwner       bool

	HandshakeTTL    time.Duration
	ShutdownTimeout time.Duration

	LogLevel string
	LogFile  string
	LogJSON  bool
}

// Load reads configuration from environment variables with fallback defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:             getEnv("SSO_ADDR", "localhost:8080"),
		Principal:        getEnv("SSO_PRINCIPAL", ""),
		Keytab:           getEnv("SSO_KEYTAB", os.Getenv("KRB5_KTNAME")),
		CookieName:       getEnv("SSO_COOKIE_NAME", session.DefaultCookieName),
		CookieTTL:        getEnvDuration("SSO_COOKIE_TTL", sso.DefaultCookieTTL),
		CookieSecure:     getEnvBool("SSO_COOKIE_SECURE", false),
		CacheSize:        getEnvInt("SSO_CACHE_SIZE", session.DefaultMemorySize),
		RedisAddr:        getEnv("SSO_REDIS_ADDR", ""),
		RedisPassword:    getEnv("SSO_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("SSO_REDIS_DB", 0),
		RedisPrefix:      getEnv("SSO_REDIS_PREFIX", session.DefaultRedisPrefix),
		BreakerThreshold: getEnvInt("SSO_BREAKER_THRESHOLD", session.DefaultBreakerThreshold),
		BreakerReset:     getEnvDuration("SSO_BREAKER_RESET", session.DefaultBreakerReset),
		GroupFilter:      getEnv("SSO_GROUP_FILTER", ".*"),
		AllowGuest:       getEnvBool("SSO_ALLOW_GUEST", false),
		AllowAnonymous:   getEnvBool("SSO_ALLOW_ANONYMOUS", false),
		UseOwner:         getEnvBool("SSO_USE_OWNER", false),
		HandshakeTTL:     getEnvDuration("SSO_HANDSHAKE_TTL", sso.DefaultHandshakeTTL),
		ShutdownTimeout:  getEnvDuration("SSO_SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:         getEnv("SSO_LOG_LEVEL", "info"),
		LogFile:          getEnv("SSO_LOG_FILE", ""),
		LogJSON:          getEnvBool("SSO_LOG_JSON", false),
	}

	var err error
	if cfg.HashKey, err = getEnvHex("SSO_HASH_KEY"); err != nil {
		return nil, err
	}
	if cfg.BlockKey, err = getEnvHex("SSO_BLOCK_KEY"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. Flags may change fields after Load, so
// callers validate again before use.
func (c *Config) Validate() error {
	if _, err := listener.Parse(c.Addr); err != nil {
		return &auth.ConfigurationError{Field: "SSO_ADDR", Reason: err.Error()}
	}
	if c.CookieName == "" {
		return &auth.ConfigurationError{Field: "SSO_COOKIE_NAME", Reason: "must not be empty"}
	}
	if c.CookieTTL <= 0 {
		return &auth.ConfigurationError{Field: "SSO_COOKIE_TTL", Reason: "must be positive"}
	}
	if c.HandshakeTTL <= 0 {
		return &auth.ConfigurationError{Field: "SSO_HANDSHAKE_TTL", Reason: "must be positive"}
	}
	if len(c.BlockKey) > 0 && len(c.HashKey) == 0 {
		return &auth.ConfigurationError{Field: "SSO_BLOCK_KEY", Reason: "requires SSO_HASH_KEY"}
	}
	switch len(c.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return &auth.ConfigurationError{Field: "SSO_BLOCK_KEY", Reason: fmt.Sprintf("must be 16, 24 or 32 bytes, got %d", len(c.BlockKey))}
	}
	if c.RedisDB < 0 {
		return &auth.ConfigurationError{Field: "SSO_REDIS_DB", Reason: "must not be negative"}
	}
	return nil
}

// UseSession reports whether the signed-cookie session store is configured.
func (c *Config) UseSession() bool {
	return len(c.HashKey) > 0
}

// Options maps the configuration onto middleware options.
func (c *Config) Options() sso.Options {
	opts := sso.DefaultOptions()
	opts.CookieName = c.CookieName
	opts.CookieTTL = c.CookieTTL
	opts.CookieSecure = c.CookieSecure
	opts.GroupFilterRegex = c.GroupFilter
	opts.AllowsGuest = c.AllowGuest
	opts.AllowsAnonymousLogon = c.AllowAnonymous
	opts.UseOwner = c.UseOwner
	opts.UseSession = c.UseSession()
	opts.HandshakeTTL = c.HandshakeTTL
	return opts
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDuration retrieves a duration such as "30m" or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvHex(key string) ([]byte, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(value)
	if err != nil {
		return nil, &auth.ConfigurationError{Field: key, Reason: "must be hex encoded"}
	}
	return b, nil
}
