// Package auth defines the security provider capability used by the Negotiate
// client and the SSO middleware, together with the header codec and the error
// taxonomy they share.
//
// # Providers
//
//   - NTLMProvider: raw NTLMSSP with explicit credentials (github.com/Azure/go-ntlmssp),
//     optionally with a tls-server-end-point channel binding (github.com/smnsjas/go-ntlm-cbt)
//   - KerberosProvider: pure Go Kerberos via github.com/go-krb5/krb5 using a
//     password, keytab or credential cache
//   - SSPI provider and acceptor: Windows SSPI via github.com/alexbrainman/sspi,
//     including single sign-on as the logged-on user
//   - KerberosAcceptor: server-side Kerberos on any platform, verifying AP-REQs
//     against a service keytab
//
// On platforms other than Windows the SSPI constructors return ErrNotSupported.
//
// # Handshake
//
// A client handshake is a sequence of InitializeContext calls. The first call
// has no context and no peer token; every later call passes the context handle
// from the previous result and the token the server returned:
//
//	cred, _ := p.AcquireCredentials(ctx, auth.PackageNegotiate, auth.Outbound)
//	defer cred.Release()
//	res, _ := p.InitializeContext(ctx, auth.InitializeInput{
//	    Credential: cred,
//	    TargetName: "HTTP/web.example.com",
//	})
//	defer res.Context.Release()
//
// # Errors
//
// Failures are reported as *TransportError, *SecurityProviderError,
// *ProtocolError or *ConfigurationError. Use errors.As or the Is* helpers to
// tell them apart.
package auth
