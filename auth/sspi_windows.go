//go:build windows

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"syscall"
	"unsafe"

	"github.com/alexbrainman/sspi"
	"github.com/alexbrainman/sspi/negotiate"
	"golang.org/x/sys/windows"
)

const supportsSSO = true

// guestRID is the relative identifier of the built-in Guest account.
const guestRID = "-501"

// NewSSPIProvider creates a client-side provider backed by Windows SSPI.
func NewSSPIProvider(cfg SSPIConfig) (SecurityProvider, error) {
	return &sspiProvider{creds: cfg.Credentials}, nil
}

// NewSSPIAcceptor creates a server-side acceptor backed by Windows SSPI.
func NewSSPIAcceptor(cfg SSPIConfig) (Acceptor, error) {
	return &sspiAcceptor{principal: cfg.PrincipalName}, nil
}

type sspiCredential struct {
	cred *sspi.Credentials
}

func (c *sspiCredential) Release() error {
	return c.cred.Release()
}

func queryPackageInfo(packageName string) (PackageInfo, error) {
	info, err := sspi.QueryPackageInfo(packageName)
	if err != nil {
		return PackageInfo{}, fmt.Errorf("query SSPI package %s: %w", packageName, err)
	}
	return PackageInfo{Name: info.Name, MaxTokenSize: info.MaxToken}, nil
}

type sspiProvider struct {
	creds *Credentials
}

type sspiClientContext struct {
	cc *negotiate.ClientContext
}

func (c *sspiClientContext) Release() error {
	return c.cc.Release()
}

func (p *sspiProvider) AcquireCredentials(_ context.Context, packageName string, dir Direction) (CredentialHandle, error) {
	if dir != Outbound {
		return nil, fmt.Errorf("sspi provider: %s credentials not supported", dir)
	}
	var (
		cred *sspi.Credentials
		err  error
	)
	if p.creds == nil || p.creds.Username == "" {
		slog.Debug("Acquiring current user credentials (SSO)", "package", packageName)
		cred, err = sspi.AcquireCredentials("", packageName, sspi.SECPKG_CRED_OUTBOUND, nil)
	} else {
		slog.Debug("Acquiring user credentials", "package", packageName, "domain", p.creds.Domain, "username", p.creds.Username)
		identity, identityErr := buildAuthIdentity(p.creds.Domain, p.creds.Username, p.creds.Password)
		if identityErr != nil {
			return nil, fmt.Errorf("build auth identity: %w", identityErr)
		}
		cred, err = sspi.AcquireCredentials("", packageName, sspi.SECPKG_CRED_OUTBOUND, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire SSPI credentials: %w", err)
	}
	return &sspiCredential{cred: cred}, nil
}

func (p *sspiProvider) QueryPackageInfo(packageName string) (PackageInfo, error) {
	return queryPackageInfo(packageName)
}

func (p *sspiProvider) InitializeContext(_ context.Context, in InitializeInput) (ContextResult, error) {
	if in.Context == nil {
		cred, ok := in.Credential.(*sspiCredential)
		if !ok {
			return ContextResult{}, fmt.Errorf("sspi provider: foreign credential handle %T", in.Credential)
		}
		cc, token, err := negotiate.NewClientContext(cred.cred, in.TargetName)
		if err != nil {
			return ContextResult{}, fmt.Errorf("InitializeSecurityContext: %w", err)
		}
		return ContextResult{Token: token, Context: &sspiClientContext{cc: cc}}, nil
	}

	c, ok := in.Context.(*sspiClientContext)
	if !ok {
		return ContextResult{}, fmt.Errorf("sspi provider: foreign context handle %T", in.Context)
	}
	done, token, err := c.cc.Update(in.PeerToken)
	if err != nil {
		return ContextResult{}, fmt.Errorf("InitializeSecurityContext: %w", err)
	}
	slog.Debug("SSPI client step", "tokenLen", len(token), "complete", done)
	return ContextResult{Token: token, Context: c, Complete: done}, nil
}

type sspiAcceptor struct {
	principal string
}

type sspiServerContext struct {
	sc *negotiate.ServerContext
}

func (c *sspiServerContext) Release() error {
	return c.sc.Release()
}

func (a *sspiAcceptor) AcquireCredentials(_ context.Context, packageName string, dir Direction) (CredentialHandle, error) {
	if dir != Inbound {
		return nil, fmt.Errorf("sspi acceptor: %s credentials not supported", dir)
	}
	cred, err := sspi.AcquireCredentials(a.principal, packageName, sspi.SECPKG_CRED_INBOUND, nil)
	if err != nil {
		return nil, fmt.Errorf("acquire SSPI server credentials: %w", err)
	}
	return &sspiCredential{cred: cred}, nil
}

func (a *sspiAcceptor) QueryPackageInfo(packageName string) (PackageInfo, error) {
	return queryPackageInfo(packageName)
}

func (a *sspiAcceptor) AcceptContext(_ context.Context, in AcceptInput) (ContextResult, error) {
	if in.Context == nil {
		cred, ok := in.Credential.(*sspiCredential)
		if !ok {
			return ContextResult{}, fmt.Errorf("sspi acceptor: foreign credential handle %T", in.Credential)
		}
		sc, done, token, err := negotiate.NewServerContext(cred.cred, in.PeerToken)
		if err != nil {
			return ContextResult{}, fmt.Errorf("AcceptSecurityContext: %w", err)
		}
		return ContextResult{Token: token, Context: &sspiServerContext{sc: sc}, Complete: done}, nil
	}

	c, ok := in.Context.(*sspiServerContext)
	if !ok {
		return ContextResult{}, fmt.Errorf("sspi acceptor: foreign context handle %T", in.Context)
	}
	done, token, err := c.sc.Update(in.PeerToken)
	if err != nil {
		return ContextResult{}, fmt.Errorf("AcceptSecurityContext: %w", err)
	}
	return ContextResult{Token: token, Context: c, Complete: done}, nil
}

// PeerInfo impersonates the client on a locked OS thread and reads its access
// token: user SID, account name and group names.
func (a *sspiAcceptor) PeerInfo(_ context.Context, h ContextHandle) (PeerInfo, error) {
	c, ok := h.(*sspiServerContext)
	if !ok {
		return PeerInfo{}, fmt.Errorf("sspi acceptor: foreign context handle %T", h)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := c.sc.ImpersonateUser(); err != nil {
		return PeerInfo{}, fmt.Errorf("impersonate client: %w", err)
	}
	defer func() {
		if err := c.sc.RevertToSelf(); err != nil {
			slog.Error("SSPI revert to self failed", "error", err)
		}
	}()

	var tok windows.Token
	if err := windows.OpenThreadToken(windows.CurrentThread(), windows.TOKEN_QUERY, true, &tok); err != nil {
		return PeerInfo{}, fmt.Errorf("open thread token: %w", err)
	}
	defer tok.Close()

	tu, err := tok.GetTokenUser()
	if err != nil {
		return PeerInfo{}, fmt.Errorf("query token user: %w", err)
	}
	sid := tu.User.Sid
	info := PeerInfo{
		SID:       sid.String(),
		Anonymous: sid.IsWellKnown(windows.WinAnonymousSid),
	}
	info.Guest = strings.HasSuffix(info.SID, guestRID)
	if account, domain, _, err := sid.LookupAccount(""); err == nil {
		info.Name = account
		info.Domain = domain
	}

	tg, err := tok.GetTokenGroups()
	if err != nil {
		return PeerInfo{}, fmt.Errorf("query token groups: %w", err)
	}
	for _, g := range tg.AllGroups() {
		account, domain, _, err := g.Sid.LookupAccount("")
		if err != nil {
			// Logon SIDs and capability SIDs have no account name.
			continue
		}
		if domain != "" {
			account = domain + `\` + account
		}
		info.Groups = append(info.Groups, account)
	}
	return info, nil
}

// buildAuthIdentity creates a SEC_WINNT_AUTH_IDENTITY structure for explicit credentials.
func buildAuthIdentity(domain, username, password string) (*byte, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}
	d, err := syscall.UTF16FromString(domain)
	if err != nil {
		return nil, fmt.Errorf("encode domain to UTF-16: %w", err)
	}
	u, err := syscall.UTF16FromString(username)
	if err != nil {
		return nil, fmt.Errorf("encode username to UTF-16: %w", err)
	}
	pw, err := syscall.UTF16FromString(password)
	if err != nil {
		return nil, fmt.Errorf("encode password to UTF-16: %w", err)
	}
	identity := &sspi.SEC_WINNT_AUTH_IDENTITY{
		User:           &u[0],
		UserLength:     uint32(len(u) - 1),
		Domain:         &d[0],
		DomainLength:   uint32(len(d) - 1),
		Password:       &pw[0],
		PasswordLength: uint32(len(pw) - 1),
		Flags:          sspi.SEC_WINNT_AUTH_IDENTITY_UNICODE,
	}
	return (*byte)(unsafe.Pointer(identity)), nil
}
