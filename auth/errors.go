package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrRoundLimit is wrapped by the ProtocolError raised when a server keeps
	// challenging past the configured number of rounds.
	ErrRoundLimit = errors.New("negotiate round limit exceeded")

	// ErrMalformedHeader is wrapped when an Authorization or WWW-Authenticate
	// value is not "Negotiate <base64>".
	ErrMalformedHeader = errors.New("malformed negotiate header")

	// ErrNotSupported is returned by providers that have no backend on this platform.
	ErrNotSupported = errors.New("security provider not supported on this platform")
)

// TransportError is a network or HTTP layer failure during negotiation.
type TransportError struct {
	Method string
	URL    string
	Round  int
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("negotiate transport: %s %s (round %d): %v", e.Method, e.URL, e.Round, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// SecurityProviderError is a credential or token failure reported by the provider.
type SecurityProviderError struct {
	// Op is the provider call that failed, e.g. "InitializeContext".
	Op      string
	Package string
	Err     error
}

// Error implements the error interface.
func (e *SecurityProviderError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("security provider: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("security provider: %s (%s): %v", e.Op, e.Package, e.Err)
}

// Unwrap returns the underlying error.
func (e *SecurityProviderError) Unwrap() error { return e.Err }

// ProtocolError is a malformed header, an undecodable token or a server that
// exceeded the round cap.
type ProtocolError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "negotiate protocol: " + e.Reason
	}
	return fmt.Sprintf("negotiate protocol: %s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigurationError is an invalid option combination detected at setup time.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsProviderError reports whether err is or wraps a SecurityProviderError.
func IsProviderError(err error) bool {
	var e *SecurityProviderError
	return errors.As(err, &e)
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}
