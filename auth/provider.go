package auth

import "context"

// PackageNegotiate is the SPNEGO package name used for HTTP Negotiate.
const PackageNegotiate = "Negotiate"

// PackageKerberos selects Kerberos only (no NTLM fallback).
const PackageKerberos = "Kerberos"

// Direction selects the credential use of an acquired handle.
type Direction int

const (
	// Outbound credentials initiate contexts (client side).
	Outbound Direction = iota + 1
	// Inbound credentials accept contexts (server side).
	Inbound
)

// String returns the SSPI name of the direction.
func (d Direction) String() string {
	switch d {
	case Outbound:
		return "SECPKG_CRED_OUTBOUND"
	case Inbound:
		return "SECPKG_CRED_INBOUND"
	default:
		return "UNKNOWN"
	}
}

// CredentialHandle is an opaque credential acquired from a provider.
// The holder must call Release exactly once.
type CredentialHandle interface {
	Release() error
}

// ContextHandle is an opaque security context. It belongs to a single
// negotiation and must be released by that negotiation's owner.
type ContextHandle interface {
	Release() error
}

// PackageInfo describes a security package.
type PackageInfo struct {
	Name         string
	MaxTokenSize uint32
}

// InitializeInput is the input of one client-side context step.
//
// Context and PeerToken are nil on the first step. On later steps Context is
// the handle returned by the previous step and PeerToken is the decoded
// server challenge.
type InitializeInput struct {
	Credential   CredentialHandle
	TargetName   string
	MaxTokenSize uint32
	Context      ContextHandle
	PeerToken    []byte
}

// AcceptInput is the input of one server-side context step.
type AcceptInput struct {
	Credential   CredentialHandle
	MaxTokenSize uint32
	Context      ContextHandle
	PeerToken    []byte
}

// ContextResult is the output of a context step.
//
// Token may be empty when the step completes without a reply. Context is the
// handle to pass to the next step; providers may return the same handle they
// were given.
type ContextResult struct {
	Token    []byte
	Context  ContextHandle
	Complete bool
}

// SecurityProvider produces client tokens for the Negotiate exchange.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across distinct
// negotiations. A single ContextHandle is never used concurrently.
//
// # Authentication Flow
//
//  1. AcquireCredentials(PackageNegotiate, Outbound)
//  2. QueryPackageInfo(PackageNegotiate) for the maximum token size
//  3. InitializeContext with no context and no peer token -> first token
//  4. Send the token, receive the server challenge
//  5. InitializeContext with the previous context and the challenge
//  6. Repeat 4-5 while the server keeps challenging
type SecurityProvider interface {
	AcquireCredentials(ctx context.Context, packageName string, dir Direction) (CredentialHandle, error)
	QueryPackageInfo(packageName string) (PackageInfo, error)
	InitializeContext(ctx context.Context, in InitializeInput) (ContextResult, error)
}

// PeerInfo is what an acceptor reports about the client of a completed context.
type PeerInfo struct {
	Name        string
	Domain      string
	SID         string
	DisplayName string
	Groups      []string

	// Guest is set when the logon was mapped to the guest account.
	Guest bool
	// Anonymous is set for an anonymous (null session) logon.
	Anonymous bool
}

// Acceptor validates client tokens on the server side.
type Acceptor interface {
	AcquireCredentials(ctx context.Context, packageName string, dir Direction) (CredentialHandle, error)
	QueryPackageInfo(packageName string) (PackageInfo, error)
	AcceptContext(ctx context.Context, in AcceptInput) (ContextResult, error)

	// PeerInfo resolves the client of a completed context.
	PeerInfo(ctx context.Context, h ContextHandle) (PeerInfo, error)
}

// ReleaseAll releases every non-nil handle and returns the first error.
func ReleaseAll(handles ...interface{ Release() error }) error {
	var first error
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
