package auth

import (
	"errors"
	"log/slog"
)

// Credentials holds explicit logon credentials for providers that cannot use
// the current user's logon session.
type Credentials struct {
	// Username is the user name for authentication. "DOMAIN\user" is split
	// into Domain and Username by the NTLM provider.
	Username string

	// Password is the password for authentication.
	Password string

	// Domain is the optional NetBIOS or DNS domain.
	Domain string
}

// Validate checks that required credential fields are populated.
// For Kerberos with ccache/keytab, password may be empty - use ValidateForKerberos instead.
func (c *Credentials) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// ValidateForKerberos checks credentials for Kerberos auth where password is optional.
func (c *Credentials) ValidateForKerberos() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// LogValue implements slog.LogValuer so a password never reaches a log sink.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("domain", c.Domain),
		slog.String("password", "[REDACTED]"),
	)
}
