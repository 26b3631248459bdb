package negotiate

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultMaxRounds caps the authenticated requests of one negotiation.
	DefaultMaxRounds = 10

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second
)

// Option configures a Client.
type Option func(*Client)

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			// NTLM authenticates the connection, so every round of a handshake
			// must reuse it.
			DisableKeepAlives:   false,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// WithMaxRounds sets the maximum number of authenticated requests per
// negotiation. Values below 1 are ignored.
func WithMaxRounds(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRounds = n
		}
	}
}

// WithTargetName overrides the service principal name passed to the provider.
// The default is HTTP/<host of the request URL>.
func WithTargetName(spn string) Option {
	return func(c *Client) {
		c.targetName = spn
	}
}

// WithPackage selects the security package. The default is auth.PackageNegotiate.
func WithPackage(name string) Option {
	return func(c *Client) {
		c.packageName = name
	}
}

// WithLogger sets the logger for negotiation debug output and security events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client used by Fetch and Do.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithInsecureSkipVerify configures TLS to skip certificate verification.
// WARNING: Only use this for testing. Never use in production.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		if skip {
			fmt.Fprintf(os.Stderr, "WARNING: TLS certificate verification disabled. This is insecure and should only be used for testing.\n")
		}
		t := c.ensureHTTPTransport()
		if t.TLSClientConfig == nil {
			t.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		t.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// WithTLSConfig sets a custom TLS configuration.
// MinVersion is raised to TLS 1.2 if lower. A nil config is ignored.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		if cfg == nil {
			return
		}
		if cfg.MinVersion < tls.VersionTLS12 {
			cfg.MinVersion = tls.VersionTLS12
		}
		c.ensureHTTPTransport().TLSClientConfig = cfg
	}
}

// ensureHTTPTransport returns the client's *http.Transport, installing a fresh
// one if the current transport is something else.
func (c *Client) ensureHTTPTransport() *http.Transport {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		return t
	}
	t := newHTTPClient().Transport.(*http.Transport)
	c.httpClient.Transport = t
	return t
}

// RequestOptions describes one request issued by Fetch.
type RequestOptions struct {
	// Method defaults to GET.
	Method string

	// Header holds the caller's base headers. It is never modified; each
	// round sends a copy with its own Authorization value.
	Header http.Header

	// Body is replayed unchanged on every round.
	Body []byte
}
