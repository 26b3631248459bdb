package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-krb5/x/encoding/asn1"

	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/gssapi"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/service"
	"github.com/go-krb5/krb5/spnego"
)

// negTokenAcceptCompleted is the SPNEGO NegTokenResp (accept-completed, KRB5)
// returned to the client once its AP-REQ verifies.
var negTokenAcceptCompleted, _ = base64.StdEncoding.DecodeString("oRQwEqADCgEAoQsGCSqGSIb3EgECAg==")

// KerberosAcceptorConfig holds the configuration for the keytab acceptor.
type KerberosAcceptorConfig struct {
	// KeytabPath is the service keytab. Required.
	KeytabPath string

	// PrincipalName selects the keytab entry, e.g. HTTP/web.example.com.
	// Empty matches the SPN the client asked for.
	PrincipalName string
}

// KerberosAcceptor is a server-side Acceptor that verifies SPNEGO Kerberos
// AP-REQs against a service keytab. It never speaks NTLM, and the handshake
// always completes in one leg.
type KerberosAcceptor struct {
	spnego *spnego.SPNEGO
}

// NewKerberosAcceptor loads the keytab and builds the acceptor.
func NewKerberosAcceptor(cfg KerberosAcceptorConfig) (*KerberosAcceptor, error) {
	if cfg.KeytabPath == "" {
		return nil, &ConfigurationError{Field: "keytab", Reason: "service keytab path is required"}
	}
	kt, err := keytab.Load(cfg.KeytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab from %s: %w", cfg.KeytabPath, err)
	}
	return newKerberosAcceptor(kt, cfg.PrincipalName), nil
}

func newKerberosAcceptor(kt *keytab.Keytab, principal string) *KerberosAcceptor {
	var opts []func(*service.Settings)
	if principal != "" {
		opts = append(opts, service.KeytabPrincipal(principal))
	}
	return &KerberosAcceptor{spnego: spnego.SPNEGOService(kt, opts...)}
}

// krb5ServerContext holds the verified client credentials of one handshake.
type krb5ServerContext struct {
	creds *credentials.Credentials
}

func (*krb5ServerContext) Release() error { return nil }

// AcquireCredentials implements Acceptor.
func (a *KerberosAcceptor) AcquireCredentials(_ context.Context, packageName string, dir Direction) (CredentialHandle, error) {
	if dir != Inbound {
		return nil, fmt.Errorf("kerberos acceptor: %s credentials not supported", dir)
	}
	if packageName != PackageNegotiate && packageName != PackageKerberos {
		return nil, fmt.Errorf("kerberos acceptor: unsupported package %q", packageName)
	}
	return kerberosCredential{}, nil
}

// QueryPackageInfo implements Acceptor.
func (a *KerberosAcceptor) QueryPackageInfo(packageName string) (PackageInfo, error) {
	switch packageName {
	case PackageNegotiate:
		return PackageInfo{Name: packageName, MaxTokenSize: negotiateMaxToken}, nil
	case PackageKerberos:
		return PackageInfo{Name: packageName, MaxTokenSize: kerberosMaxToken}, nil
	}
	return PackageInfo{}, fmt.Errorf("kerberos acceptor: unknown package %q", packageName)
}

// AcceptContext implements Acceptor. The token is a SPNEGO NegTokenInit or a
// raw Kerberos AP-REQ.
func (a *KerberosAcceptor) AcceptContext(_ context.Context, in AcceptInput) (ContextResult, error) {
	if in.Context != nil {
		return ContextResult{}, errors.New("kerberos acceptor: unexpected continuation token")
	}
	if len(in.PeerToken) == 0 {
		return ContextResult{}, errors.New("kerberos acceptor: empty token")
	}
	if limit := int(in.MaxTokenSize); limit > 0 && len(in.PeerToken) > limit {
		return ContextResult{}, fmt.Errorf("kerberos token of %d bytes exceeds package maximum %d", len(in.PeerToken), limit)
	}

	st, err := spnegoToken(in.PeerToken)
	if err != nil {
		return ContextResult{}, err
	}
	ok, gctx, status := a.spnego.AcceptSecContext(st)
	if status.Code != gssapi.StatusComplete {
		return ContextResult{}, fmt.Errorf("accept security context: %w", status)
	}
	if !ok || gctx == nil {
		return ContextResult{}, errors.New("kerberos acceptor: AP-REQ not verified")
	}
	creds, _ := gctx.Value(spnego.CTXKey).(*credentials.Credentials)
	if creds == nil {
		return ContextResult{}, errors.New("kerberos acceptor: verified context carries no credentials")
	}
	return ContextResult{
		Token:    negTokenAcceptCompleted,
		Context:  &krb5ServerContext{creds: creds},
		Complete: true,
	}, nil
}

func spnegoToken(b []byte) (*spnego.SPNEGOToken, error) {
	var st spnego.SPNEGOToken
	spnegoErr := st.Unmarshal(b)
	if spnegoErr == nil {
		if st.Init && len(st.NegTokenInit.MechTypes) == 0 {
			return nil, errors.New("kerberos acceptor: NegTokenInit lists no mechanisms")
		}
		return &st, nil
	}
	var k5 spnego.KRB5Token
	if err := k5.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("kerberos acceptor: not a SPNEGO or Kerberos token: %w", spnegoErr)
	}
	st = spnego.SPNEGOToken{
		Init: true,
		NegTokenInit: spnego.NegTokenInit{
			MechTypes:      []asn1.ObjectIdentifier{k5.OID},
			MechTokenBytes: b,
		},
	}
	return &st, nil
}

// PeerInfo implements Acceptor. Groups are the SIDs carried in the PAC.
func (a *KerberosAcceptor) PeerInfo(_ context.Context, h ContextHandle) (PeerInfo, error) {
	c, ok := h.(*krb5ServerContext)
	if !ok {
		return PeerInfo{}, fmt.Errorf("kerberos acceptor: foreign context handle %T", h)
	}
	return peerFromCredentials(c.creds), nil
}

func peerFromCredentials(creds *credentials.Credentials) PeerInfo {
	info := PeerInfo{
		Name:        creds.UserName(),
		Domain:      creds.Domain(),
		DisplayName: creds.DisplayName(),
	}
	ad := creds.GetADCredentials()
	if ad.LogonDomainName != "" {
		info.Domain = ad.LogonDomainName
	}
	if ad.LogonDomainID != "" && ad.UserID != 0 {
		info.SID = ad.LogonDomainID + "-" + strconv.Itoa(ad.UserID)
	}
	if len(ad.GroupMembershipSIDs) > 0 {
		info.Groups = append([]string(nil), ad.GroupMembershipSIDs...)
	}
	info.Guest = ad.UserID == guestUserID
	return info
}

// guestUserID is the relative identifier of the built-in Guest account.
const guestUserID = 501
