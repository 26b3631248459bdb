package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-negotiate/auth"
	logpkg "github.com/smnsjas/go-negotiate/internal/log"
	"github.com/smnsjas/go-negotiate/negotiate"
)

type getFlags struct {
	user     string
	domain   string
	pass     string
	ntlm     bool
	kerberos bool
	cbt      bool

	realm    string
	krb5conf string
	ccache   string
	keytab   string
	spn      string

	maxRounds int
	headers   []string
	method    string
	data      string
	insecure  bool
	timeout   time.Duration
	include   bool
}

var getOpts getFlags

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Fetch a URL with Negotiate authentication",
	Long: `Fetches a URL, answering Negotiate challenges until the server accepts or
rejects the client. The response body is written to stdout.

Credentials:
  Windows default      current logon session (SSPI)
  --ntlm               NTLM with --user/--domain and a password
  --kerberos           Kerberos with --ccache, --keytab or a password

The password is read from --pass, NEGOTIATE_PASSWORD, or a prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closer, err := logpkg.New(logpkg.Config{Level: logLevel, File: logFile})
		if err != nil {
			return err
		}
		defer closer.Close()
		slog.SetDefault(logger)

		return runGet(cmd.Context(), args[0], getOpts, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	f := getCmd.Flags()
	f.StringVarP(&getOpts.user, "user", "u", "", "User name (DOMAIN\\user or user@REALM accepted)")
	f.StringVar(&getOpts.domain, "domain", "", "Domain for NTLM")
	f.StringVar(&getOpts.pass, "pass", "", "Password (prefer NEGOTIATE_PASSWORD or the prompt)")
	f.BoolVar(&getOpts.ntlm, "ntlm", false, "Use NTLM with explicit credentials")
	f.BoolVar(&getOpts.kerberos, "kerberos", false, "Use pure Go Kerberos")
	f.BoolVar(&getOpts.cbt, "cbt", false, "Send NTLM channel binding for HTTPS (Extended Protection)")
	f.StringVar(&getOpts.realm, "realm", "", "Kerberos realm")
	f.StringVar(&getOpts.krb5conf, "krb5conf", "", "Path to krb5.conf (default $KRB5_CONFIG or /etc/krb5.conf)")
	f.StringVar(&getOpts.ccache, "ccache", "", "Kerberos credential cache")
	f.StringVar(&getOpts.keytab, "keytab", "", "Kerberos keytab")
	f.StringVar(&getOpts.spn, "spn", "", "Target service principal (default HTTP/<host>)")
	f.IntVar(&getOpts.maxRounds, "max-rounds", negotiate.DefaultMaxRounds, "Maximum authenticated requests")
	f.StringArrayVarP(&getOpts.headers, "header", "H", nil, "Extra request header \"Name: value\" (repeatable)")
	f.StringVarP(&getOpts.method, "method", "X", http.MethodGet, "HTTP method")
	f.StringVarP(&getOpts.data, "data", "d", "", "Request body; @file reads a file")
	f.BoolVar(&getOpts.insecure, "insecure", false, "Skip TLS certificate verification (testing only)")
	f.DurationVar(&getOpts.timeout, "timeout", negotiate.DefaultTimeout, "Overall request timeout")
	f.BoolVarP(&getOpts.include, "include", "i", false, "Print the status line and response headers")
}

func runGet(ctx context.Context, rawURL string, opts getFlags, logger *slog.Logger, stdout, stderr io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid URL %q: expected http or https", rawURL)
	}
	header, err := parseHeaders(opts.headers)
	if err != nil {
		return err
	}
	body, err := readData(opts.data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	provider, err := newProvider(ctx, u, opts)
	if err != nil {
		return err
	}
	if c, ok := provider.(io.Closer); ok {
		defer c.Close()
	}

	clientOpts := []negotiate.Option{
		negotiate.WithMaxRounds(opts.maxRounds),
		negotiate.WithLogger(logger),
		negotiate.WithTimeout(opts.timeout),
	}
	if opts.spn != "" {
		clientOpts = append(clientOpts, negotiate.WithTargetName(opts.spn))
	}
	if opts.insecure {
		clientOpts = append(clientOpts, negotiate.WithInsecureSkipVerify(true))
	}
	client, err := negotiate.New(provider, clientOpts...)
	if err != nil {
		return err
	}

	resp, err := client.Fetch(ctx, u.String(), negotiate.RequestOptions{
		Method: strings.ToUpper(opts.method),
		Header: header,
		Body:   body,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if opts.include {
		fmt.Fprintf(stdout, "%s %s\n", resp.Proto, resp.Status)
		if err := resp.Header.Write(stdout); err != nil {
			return err
		}
		fmt.Fprintln(stdout)
	}
	if _, err := io.Copy(stdout, resp.Body); err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		fmt.Fprintln(stderr, "Server rejected the credentials (401 Unauthorized)")
		return fmt.Errorf("authentication failed")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

// newProvider selects the security provider from the flags.
func newProvider(ctx context.Context, u *url.URL, opts getFlags) (auth.SecurityProvider, error) {
	switch {
	case opts.ntlm && opts.kerberos:
		return nil, &auth.ConfigurationError{Field: "--ntlm/--kerberos", Reason: "choose one"}

	case opts.ntlm:
		if opts.user == "" {
			return nil, &auth.ConfigurationError{Field: "--user", Reason: "required with --ntlm"}
		}
		creds := credentialsFrom(opts)
		creds.Password = resolvePassword(opts.pass)
		var ntlmOpts []auth.NTLMOption
		if host, err := os.Hostname(); err == nil {
			ntlmOpts = append(ntlmOpts, auth.WithWorkstation(strings.ToUpper(host)))
		}
		if opts.cbt {
			cert, err := serverCertificate(ctx, u, opts.insecure)
			if err != nil {
				return nil, err
			}
			ntlmOpts = append(ntlmOpts, auth.WithServerCertificate(cert))
		}
		return auth.NewNTLMProvider(creds, ntlmOpts...)

	case opts.kerberos:
		cfg := auth.KerberosConfig{
			Realm:        opts.realm,
			Krb5ConfPath: opts.krb5conf,
			KeytabPath:   opts.keytab,
			CCachePath:   opts.ccache,
		}
		if opts.user != "" {
			creds := credentialsFrom(opts)
			if opts.keytab == "" && opts.ccache == "" {
				creds.Password = resolvePassword(opts.pass)
			}
			cfg.Credentials = &creds
		}
		return auth.NewKerberosProvider(cfg)
	}

	if !auth.SupportsSSO() {
		return nil, &auth.ConfigurationError{Field: "provider", Reason: "single sign-on needs Windows; use --ntlm or --kerberos"}
	}
	cfg := auth.SSPIConfig{}
	if opts.user != "" {
		creds := credentialsFrom(opts)
		creds.Password = resolvePassword(opts.pass)
		cfg.Credentials = &creds
	}
	return auth.NewSSPIProvider(cfg)
}

func credentialsFrom(opts getFlags) auth.Credentials {
	creds := auth.Credentials{Username: opts.user, Domain: opts.domain}
	if domain, user, ok := strings.Cut(opts.user, `\`); ok && creds.Domain == "" {
		creds.Domain, creds.Username = domain, user
	}
	return creds
}

// serverCertificate fetches the leaf certificate for NTLM channel binding.
func serverCertificate(ctx context.Context, u *url.URL, insecure bool) (*x509.Certificate, error) {
	if u.Scheme != "https" {
		return nil, &auth.ConfigurationError{Field: "--cbt", Reason: "channel binding requires https"}
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "443")
	}
	d := tls.Dialer{Config: &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         u.Hostname(),
		InsecureSkipVerify: insecure, //nolint:gosec // opt-in testing flag
	}}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("fetch server certificate: %w", err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("fetch server certificate: server sent none")
	}
	return certs[0], nil
}

func parseHeaders(values []string) (http.Header, error) {
	h := make(http.Header, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: expected \"Name: value\"", v)
		}
		if strings.EqualFold(name, auth.HeaderAuthorization) {
			return nil, fmt.Errorf("the Authorization header is managed by the client")
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func readData(data string) ([]byte, error) {
	if path, ok := strings.CutPrefix(data, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return b, nil
	}
	if data == "" {
		return nil, nil
	}
	return []byte(data), nil
}
