package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/spnego"
)

// kerberosMaxToken is the Kerberos package's advertised maximum token size.
const kerberosMaxToken = 48000

// KerberosConfig holds the configuration for the KerberosProvider.
type KerberosConfig struct {
	// Realm is the Kerberos realm (e.g. EXAMPLE.COM).
	Realm string

	// Krb5ConfPath is the path to the krb5.conf file.
	// Defaults to $KRB5_CONFIG, then /etc/krb5.conf.
	Krb5ConfPath string

	// KeytabPath is the path to the keytab file (optional).
	KeytabPath string

	// CCachePath is the path to the credential cache (optional).
	CCachePath string

	// Credentials are used if KeytabPath/CCachePath are empty.
	// With a keytab only Username is required.
	Credentials *Credentials
}

// KerberosProvider is a client-side SecurityProvider backed by the pure Go
// krb5 library. Kerberos over HTTP completes in one leg: the first token
// carries the AP-REQ.
type KerberosProvider struct {
	client *client.Client

	loginOnce sync.Once
	loginErr  error
}

// NewKerberosProvider creates a pure Go Kerberos provider.
func NewKerberosProvider(cfg KerberosConfig) (*KerberosProvider, error) {
	if cfg.Krb5ConfPath == "" {
		cfg.Krb5ConfPath = os.Getenv("KRB5_CONFIG")
		if cfg.Krb5ConfPath == "" {
			cfg.Krb5ConfPath = "/etc/krb5.conf"
		}
	}
	conf, err := config.Load(cfg.Krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf from %s: %w", cfg.Krb5ConfPath, err)
	}

	var cl *client.Client

	switch {
	case cfg.KeytabPath != "":
		if cfg.Credentials == nil || cfg.Credentials.ValidateForKerberos() != nil {
			return nil, &ConfigurationError{Field: "credentials", Reason: "username is required with a keytab"}
		}
		kt, err := keytab.Load(cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("load keytab from %s: %w", cfg.KeytabPath, err)
		}
		cl = client.NewWithKeytab(cfg.Credentials.Username, cfg.Realm, kt, conf, client.DisablePAFXFAST(true))
	case cfg.CCachePath != "":
		cc, err := credentials.LoadCCache(cfg.CCachePath)
		if err != nil {
			return nil, fmt.Errorf("load ccache from %s: %w", cfg.CCachePath, err)
		}
		cl, err = client.NewFromCCache(cc, conf, client.DisablePAFXFAST(true))
		if err != nil {
			return nil, fmt.Errorf("create client from ccache: %w", err)
		}
	case cfg.Credentials != nil:
		if err := cfg.Credentials.Validate(); err != nil {
			return nil, &ConfigurationError{Field: "credentials", Reason: err.Error()}
		}
		cl = client.NewWithPassword(
			cfg.Credentials.Username,
			cfg.Realm,
			cfg.Credentials.Password,
			conf,
			client.DisablePAFXFAST(true),
		)
	default:
		return nil, &ConfigurationError{Field: "credentials", Reason: "keytab, ccache, or password required"}
	}

	return &KerberosProvider{client: cl}, nil
}

type kerberosCredential struct{}

func (kerberosCredential) Release() error { return nil }

type kerberosContext struct{}

func (*kerberosContext) Release() error { return nil }

// AcquireCredentials implements SecurityProvider. The first call logs in to the KDC.
func (p *KerberosProvider) AcquireCredentials(_ context.Context, packageName string, dir Direction) (CredentialHandle, error) {
	if dir != Outbound {
		return nil, fmt.Errorf("kerberos provider: %s credentials not supported", dir)
	}
	if packageName != PackageNegotiate && packageName != PackageKerberos {
		return nil, fmt.Errorf("kerberos provider: unsupported package %q", packageName)
	}
	p.loginOnce.Do(func() {
		if err := p.client.Login(); err != nil {
			p.loginErr = fmt.Errorf("kerberos login: %w", err)
		}
	})
	if p.loginErr != nil {
		return nil, p.loginErr
	}
	return kerberosCredential{}, nil
}

// QueryPackageInfo implements SecurityProvider.
func (p *KerberosProvider) QueryPackageInfo(packageName string) (PackageInfo, error) {
	switch packageName {
	case PackageNegotiate:
		return PackageInfo{Name: packageName, MaxTokenSize: negotiateMaxToken}, nil
	case PackageKerberos:
		return PackageInfo{Name: packageName, MaxTokenSize: kerberosMaxToken}, nil
	}
	return PackageInfo{}, fmt.Errorf("kerberos provider: unknown package %q", packageName)
}

// InitializeContext implements SecurityProvider.
func (p *KerberosProvider) InitializeContext(_ context.Context, in InitializeInput) (ContextResult, error) {
	if in.Context != nil {
		// A further challenge means the server wants a mutual-auth round trip,
		// which the SPNEGO client does not expose.
		return ContextResult{}, errors.New("kerberos provider: server token after AP-REQ (mutual auth continuation not supported)")
	}
	if in.TargetName == "" {
		return ContextResult{}, errors.New("kerberos provider: target SPN is required")
	}

	tkn, err := spnego.SPNEGOClient(p.client, in.TargetName).InitSecContext()
	if err != nil {
		return ContextResult{}, fmt.Errorf("init sec context for %s: %w", in.TargetName, err)
	}
	token, err := tkn.Marshal()
	if err != nil {
		return ContextResult{}, fmt.Errorf("marshal token: %w", err)
	}
	if limit := int(in.MaxTokenSize); limit > 0 && len(token) > limit {
		return ContextResult{}, fmt.Errorf("kerberos token of %d bytes exceeds package maximum %d", len(token), limit)
	}
	return ContextResult{Token: token, Context: &kerberosContext{}, Complete: true}, nil
}

// Close destroys the Kerberos client and its tickets.
func (p *KerberosProvider) Close() error {
	p.client.Destroy()
	return nil
}
