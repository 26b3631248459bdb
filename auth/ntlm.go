package auth

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/Azure/go-ntlmssp"
	ntlmcbt "github.com/smnsjas/go-ntlm-cbt"
)

const (
	// ntlmMaxToken is the NTLM package's advertised maximum token size.
	ntlmMaxToken = 2888
	// negotiateMaxToken is the Negotiate package's advertised maximum token size.
	negotiateMaxToken = 48256
)

// NTLMOption configures an NTLMProvider.
type NTLMOption func(*NTLMProvider)

// WithWorkstation sets the workstation name sent in the NEGOTIATE message.
func WithWorkstation(name string) NTLMOption {
	return func(p *NTLMProvider) {
		p.workstation = name
	}
}

// WithServerCertificate enables Extended Protection: the AUTHENTICATE message
// carries a tls-server-end-point channel binding computed from cert.
func WithServerCertificate(cert *x509.Certificate) NTLMOption {
	return func(p *NTLMProvider) {
		p.serverCert = cert
	}
}

// NTLMProvider is a client-side SecurityProvider that speaks raw NTLMSSP inside
// the Negotiate scheme using explicit credentials. It never needs a platform
// logon session, which makes it usable on any OS.
type NTLMProvider struct {
	creds       Credentials
	workstation string
	serverCert  *x509.Certificate
}

// NewNTLMProvider creates an NTLM provider for the given credentials.
func NewNTLMProvider(creds Credentials, opts ...NTLMOption) (*NTLMProvider, error) {
	if err := creds.Validate(); err != nil {
		return nil, &ConfigurationError{Field: "credentials", Reason: err.Error()}
	}
	p := &NTLMProvider{creds: creds}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type ntlmCredential struct{}

func (ntlmCredential) Release() error { return nil }

// ntlmContext tracks one NTLM handshake: NEGOTIATE sent, then AUTHENTICATE.
type ntlmContext struct {
	mu            sync.Mutex
	cbt           *ntlmcbt.Negotiator
	authenticated bool
	released      bool
}

func (c *ntlmContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.cbt = nil
	return nil
}

// AcquireCredentials implements SecurityProvider.
func (p *NTLMProvider) AcquireCredentials(_ context.Context, packageName string, dir Direction) (CredentialHandle, error) {
	if dir != Outbound {
		return nil, fmt.Errorf("ntlm provider: %s credentials not supported", dir)
	}
	if packageName != PackageNegotiate && packageName != "NTLM" {
		return nil, fmt.Errorf("ntlm provider: unsupported package %q", packageName)
	}
	return ntlmCredential{}, nil
}

// QueryPackageInfo implements SecurityProvider.
func (p *NTLMProvider) QueryPackageInfo(packageName string) (PackageInfo, error) {
	switch packageName {
	case PackageNegotiate:
		return PackageInfo{Name: packageName, MaxTokenSize: negotiateMaxToken}, nil
	case "NTLM":
		return PackageInfo{Name: packageName, MaxTokenSize: ntlmMaxToken}, nil
	}
	return PackageInfo{}, fmt.Errorf("ntlm provider: unknown package %q", packageName)
}

// InitializeContext implements SecurityProvider.
func (p *NTLMProvider) InitializeContext(_ context.Context, in InitializeInput) (ContextResult, error) {
	user, domain, domainNeeded := ntlmssp.GetDomain(p.creds.Username)
	if domain == "" {
		domain = p.creds.Domain
	}

	if in.Context == nil {
		nc := &ntlmContext{}
		var (
			msg []byte
			err error
		)
		if p.serverCert != nil {
			nc.cbt = &ntlmcbt.Negotiator{ChannelBindings: ntlmcbt.ComputeTLSServerEndpoint(p.serverCert)}
			msg, err = nc.cbt.Negotiate(domain, p.workstation)
		} else {
			msg, err = ntlmssp.NewNegotiateMessage(domain, p.workstation)
		}
		if err != nil {
			return ContextResult{}, fmt.Errorf("build negotiate message: %w", err)
		}
		return ContextResult{Token: msg, Context: nc}, nil
	}

	nc, ok := in.Context.(*ntlmContext)
	if !ok {
		return ContextResult{}, fmt.Errorf("ntlm provider: foreign context handle %T", in.Context)
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()

	switch {
	case nc.released:
		return ContextResult{}, errors.New("ntlm provider: context already released")
	case nc.authenticated:
		return ContextResult{}, errors.New("ntlm provider: challenge after authenticate message")
	case len(in.PeerToken) == 0:
		return ContextResult{}, errors.New("ntlm provider: missing challenge message")
	}

	var (
		msg []byte
		err error
	)
	if nc.cbt != nil {
		name := user
		if domain != "" && domainNeeded {
			name = domain + `\` + user
		}
		msg, err = nc.cbt.ChallengeResponse(in.PeerToken, name, p.creds.Password)
	} else {
		msg, err = ntlmssp.ProcessChallenge(in.PeerToken, user, p.creds.Password, domainNeeded)
	}
	if err != nil {
		return ContextResult{}, fmt.Errorf("process challenge: %w", err)
	}
	nc.authenticated = true
	return ContextResult{Token: msg, Context: nc, Complete: true}, nil
}
