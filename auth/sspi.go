package auth

// SSPIConfig holds configuration for the Windows SSPI provider and acceptor.
type SSPIConfig struct {
	// Credentials selects explicit credentials for outbound contexts.
	// Nil uses the logged-on user (single sign-on).
	Credentials *Credentials

	// PrincipalName is the server principal for inbound credentials.
	// Empty uses the service account the process runs as.
	PrincipalName string
}

// SupportsSSO reports whether the platform provider can authenticate as the
// logged-on user without explicit credentials.
func SupportsSSO() bool {
	return supportsSSO
}
