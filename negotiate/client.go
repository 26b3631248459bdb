package negotiate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smnsjas/go-negotiate/auth"
	"github.com/smnsjas/go-negotiate/internal/audit"
	"github.com/smnsjas/go-negotiate/internal/telemetry"
)

// maxDrainBytes bounds how much of an intermediate 401 body is read so the
// connection can be reused for the next round.
const maxDrainBytes = 64 << 10

// Client issues HTTP requests and answers Negotiate challenges with tokens
// from a SecurityProvider. A Client is safe for concurrent use; every call
// runs its own negotiation with its own credential and context handles.
type Client struct {
	provider    auth.SecurityProvider
	httpClient  *http.Client
	maxRounds   int
	targetName  string
	packageName string
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

// New creates a Client that obtains tokens from provider.
func New(provider auth.SecurityProvider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, &auth.ConfigurationError{Field: "provider", Reason: "security provider is required"}
	}
	c := &Client{
		provider:    provider,
		httpClient:  newHTTPClient(),
		maxRounds:   DefaultMaxRounds,
		packageName: auth.PackageNegotiate,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.packageName == "" {
		return nil, &auth.ConfigurationError{Field: "package", Reason: "security package name is required"}
	}

	m, err := telemetry.NewMetrics()
	if err != nil {
		c.logger.Warn("Negotiate metrics disabled", "error", err)
	}
	c.metrics = m
	return c, nil
}

// Name returns the scheme name.
func (c *Client) Name() string {
	return "Negotiate"
}

// Fetch issues a request for resource and negotiates if the server asks for it.
//
// The returned response is the last one received: a success, a failure that is
// not a Negotiate continuation, or a 401 whose challenge carries no token. The
// caller must close its body.
func (c *Client) Fetch(ctx context.Context, resource string, opts RequestOptions) (*http.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, resource, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if opts.Header != nil {
		req.Header = opts.Header.Clone()
	}
	return c.run(ctx, req, opts.Body, c.httpClient.Do)
}

// Do sends req with the Client's HTTP client, negotiating as needed.
// The request body is consumed and replayed from memory on each round.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	return c.run(req.Context(), req, body, c.httpClient.Do)
}

type sendFunc func(*http.Request) (*http.Response, error)

// run drives one request through the challenge loop.
func (c *Client) run(ctx context.Context, tmpl *http.Request, body []byte, send sendFunc) (resp *http.Response, err error) {
	target := c.targetFor(tmpl.URL)
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerClient, "negotiate.Fetch",
		attribute.String(telemetry.AttrTarget, target),
		attribute.String(telemetry.AttrPackage, c.packageName),
	)
	defer span.End()
	defer func() { telemetry.RecordError(span, err) }()

	resp, err = c.send(ctx, tmpl, body, "", 0, send)
	if err != nil {
		return nil, err
	}
	if _, ok := challenge(resp); !ok {
		return resp, nil
	}

	events := audit.New(c.logger, "go-negotiate", target)
	events.Authentication(audit.SubtypeAttempt, audit.OutcomeAttempt, audit.SeverityInfo, map[string]any{
		"url":     tmpl.URL.Redacted(),
		"package": c.packageName,
	})

	drain(resp)
	resp, rounds, err := c.negotiate(ctx, span, tmpl, body, target, send)
	span.SetAttributes(attribute.Int(telemetry.AttrRounds, rounds))

	switch {
	case err != nil:
		c.metrics.RecordNegotiation(ctx, telemetry.OutcomeFailure, rounds)
		events.Authentication(audit.SubtypeFailure, audit.OutcomeFailure, audit.SeverityError, map[string]any{
			"rounds": rounds,
			"error":  err.Error(),
		})
		return nil, err
	case resp.StatusCode == http.StatusUnauthorized:
		c.metrics.RecordNegotiation(ctx, telemetry.OutcomeFailure, rounds)
		events.Authentication(audit.SubtypeDenied, audit.OutcomeDenied, audit.SeverityWarning, map[string]any{
			"rounds": rounds,
			"status": resp.StatusCode,
		})
	default:
		c.metrics.RecordNegotiation(ctx, telemetry.OutcomeSuccess, rounds)
		events.Authentication(audit.SubtypeSuccess, audit.OutcomeSuccess, audit.SeverityInfo, map[string]any{
			"rounds": rounds,
			"status": resp.StatusCode,
		})
	}
	span.SetAttributes(attribute.Int(telemetry.AttrStatus, resp.StatusCode))
	return resp, nil
}

// negotiate runs the token exchange after the first 401. It owns the
// credential and context handles and releases them on every return.
func (c *Client) negotiate(ctx context.Context, span trace.Span, tmpl *http.Request, body []byte, target string, send sendFunc) (_ *http.Response, rounds int, err error) {
	cred, err := c.provider.AcquireCredentials(ctx, c.packageName, auth.Outbound)
	if err != nil {
		return nil, 0, &auth.SecurityProviderError{Op: "AcquireCredentials", Package: c.packageName, Err: err}
	}
	var handle auth.ContextHandle
	defer func() {
		if rerr := auth.ReleaseAll(handle, cred); rerr != nil {
			c.logger.Warn("Failed to release security handles", "target", target, "error", rerr)
		}
	}()

	info, err := c.provider.QueryPackageInfo(c.packageName)
	if err != nil {
		return nil, 0, &auth.SecurityProviderError{Op: "QueryPackageInfo", Package: c.packageName, Err: err}
	}

	var peer []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, rounds, fmt.Errorf("negotiate %s: %w", target, err)
		}
		res, err := c.provider.InitializeContext(ctx, auth.InitializeInput{
			Credential:   cred,
			TargetName:   target,
			MaxTokenSize: info.MaxTokenSize,
			Context:      handle,
			PeerToken:    peer,
		})
		if err != nil {
			return nil, rounds, &auth.SecurityProviderError{Op: "InitializeContext", Package: c.packageName, Err: err}
		}
		if res.Context != nil && res.Context != handle {
			if handle != nil {
				_ = handle.Release()
			}
			handle = res.Context
		}

		rounds++
		msgType := auth.DetectMessageType(res.Token)
		telemetry.AddEvent(span, "negotiate.round",
			attribute.Int(telemetry.AttrRound, rounds),
			attribute.String(telemetry.AttrMessageType, string(msgType)),
			attribute.Int(telemetry.AttrTokenLen, len(res.Token)),
		)
		c.logger.Debug("Negotiate round",
			"target", target,
			"round", rounds,
			"message", msgType,
			"tokenLen", len(res.Token),
			"complete", res.Complete,
		)

		resp, err := c.send(ctx, tmpl, body, auth.FormatNegotiate(res.Token), rounds, send)
		if err != nil {
			return nil, rounds, err
		}

		value, ok := challenge(resp)
		if !ok {
			return resp, rounds, nil
		}
		token, ok, err := auth.ChallengeToken(value)
		if err != nil {
			drain(resp)
			return nil, rounds, err
		}
		if !ok {
			return resp, rounds, nil
		}
		drain(resp)
		if rounds >= c.maxRounds {
			return nil, rounds, &auth.ProtocolError{
				Reason: fmt.Sprintf("server still challenging after %d rounds", rounds),
				Err:    auth.ErrRoundLimit,
			}
		}
		peer = token
	}
}

// send issues one round. Each round gets its own copy of the template's
// headers, so the caller's header map is never written.
func (c *Client) send(ctx context.Context, tmpl *http.Request, body []byte, authorization string, round int, send sendFunc) (*http.Response, error) {
	req := tmpl.Clone(ctx)
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	switch {
	case len(body) > 0:
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req.ContentLength = int64(len(body))
	case req.Body != nil:
		req.Body = http.NoBody
		req.GetBody = nil
		req.ContentLength = 0
	}
	if authorization != "" {
		req.Header.Set(auth.HeaderAuthorization, authorization)
	}

	resp, err := send(req)
	if err != nil {
		return nil, &auth.TransportError{Method: req.Method, URL: req.URL.Redacted(), Round: round, Err: err}
	}
	return resp, nil
}

func (c *Client) targetFor(u *url.URL) string {
	if c.targetName != "" {
		return c.targetName
	}
	return "HTTP/" + u.Hostname()
}

// challenge returns the Negotiate challenge of a 401 response.
func challenge(resp *http.Response) (string, bool) {
	if resp.StatusCode != http.StatusUnauthorized {
		return "", false
	}
	return auth.NegotiateChallenge(resp.Header)
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return b, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()
}
