//go:build !windows

package auth

const supportsSSO = false

// NewSSPIProvider is unavailable outside Windows.
func NewSSPIProvider(SSPIConfig) (SecurityProvider, error) {
	return nil, ErrNotSupported
}

// NewSSPIAcceptor is unavailable outside Windows.
func NewSSPIAcceptor(SSPIConfig) (Acceptor, error) {
	return nil, ErrNotSupported
}
