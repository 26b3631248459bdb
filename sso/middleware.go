package sso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smnsjas/go-negotiate/auth"
	"github.com/smnsjas/go-negotiate/internal/audit"
	"github.com/smnsjas/go-negotiate/internal/telemetry"
	"github.com/smnsjas/go-negotiate/session"
)

// ErrorHandler reports failures that are neither protocol nor provider
// errors, such as an unreachable session backend.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option configures a Middleware.
type Option func(*Middleware)

// WithCache sets the identity cache used when UseCookies is enabled.
func WithCache(c session.Cache[*Identity]) Option {
	return func(m *Middleware) {
		m.cache = c
	}
}

// WithStore sets the application session store used when UseSession is enabled.
func WithStore(s session.Store[*Object]) Option {
	return func(m *Middleware) {
		m.store = s
	}
}

// WithDirectory sets the directory used when UseActiveDirectory is enabled.
func WithDirectory(d Directory) Option {
	return func(m *Middleware) {
		m.directory = d
	}
}

// WithOwner overrides how the process owner is resolved for UseOwner.
func WithOwner(f OwnerFunc) Option {
	return func(m *Middleware) {
		if f != nil {
			m.ownerFunc = f
		}
	}
}

// WithErrorHandler sets the handler for unexpected failures. The default logs
// the error and replies 500.
func WithErrorHandler(h ErrorHandler) Option {
	return func(m *Middleware) {
		if h != nil {
			m.onError = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPackage selects the security package. The default is auth.PackageNegotiate.
func WithPackage(name string) Option {
	return func(m *Middleware) {
		m.packageName = name
	}
}

// Middleware authenticates requests with the Negotiate scheme and attaches an
// Object to the request context.
type Middleware struct {
	acceptor    auth.Acceptor
	opts        Options
	packageName string
	groups      *regexp.Regexp
	cookie      session.CookieConfig

	cache     session.Cache[*Identity]
	store     session.Store[*Object]
	directory Directory
	ownerFunc OwnerFunc
	onError   ErrorHandler
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	handshakes *handshakeStore

	ownerMu sync.Mutex
	owner   *Identity
}

// New creates the middleware. Invalid option combinations are reported as
// *auth.ConfigurationError.
func New(acceptor auth.Acceptor, opts Options, options ...Option) (*Middleware, error) {
	if acceptor == nil {
		return nil, &auth.ConfigurationError{Field: "acceptor", Reason: "security provider is required"}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	groups, err := opts.groupFilter()
	if err != nil {
		return nil, err
	}

	m := &Middleware{
		acceptor:    acceptor,
		opts:        opts,
		packageName: auth.PackageNegotiate,
		groups:      groups,
		cookie:      opts.cookie(),
		ownerFunc:   ProcessOwner,
		logger:      slog.Default(),
	}
	for _, o := range options {
		o(m)
	}
	if m.onError == nil {
		m.onError = m.defaultErrorHandler
	}

	switch {
	case m.packageName == "":
		return nil, &auth.ConfigurationError{Field: "package", Reason: "security package name is required"}
	case opts.UseCookies && m.cache == nil:
		return nil, &auth.ConfigurationError{Field: "useCookies", Reason: "a session cache is required"}
	case opts.UseSession && m.store == nil:
		return nil, &auth.ConfigurationError{Field: "useSession", Reason: "a session store is required"}
	}
	if opts.UseActiveDirectory && m.directory == nil {
		m.logger.Info("Active Directory lookup enabled without a directory; identities are not enriched")
	}

	if mt, err := telemetry.NewMetrics(); err != nil {
		m.logger.Warn("SSO metrics disabled", "error", err)
	} else {
		m.metrics = mt
	}
	m.handshakes = newHandshakeStore(opts.MaxHandshakes, opts.HandshakeTTL, m.logger)
	return m, nil
}

// Handler wraps next. It has the func(http.Handler) http.Handler shape used by
// chi and similar routers.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serve(w, r, next)
	})
}

// Close releases every parked handshake.
func (m *Middleware) Close() error {
	m.handshakes.purge()
	return nil
}

// Logout drops the cached identity of r, any handshake parked for its
// address, and clears the session cookies.
func (m *Middleware) Logout(w http.ResponseWriter, r *http.Request) error {
	m.handshakes.drop(r.RemoteAddr)

	var errs []error
	if m.opts.UseCookies {
		if token, ok := m.cookie.Value(r); ok && session.ValidToken(token) {
			if err := m.cache.Invalidate(r.Context(), token); err != nil {
				errs = append(errs, err)
			}
		}
		http.SetCookie(w, m.cookie.Expired())
	}
	if m.opts.UseSession {
		if err := m.store.Clear(w, r); err != nil {
			errs = append(errs, err)
		}
	}
	audit.New(m.logger, "sso", r.Host).Session(audit.SubtypeInvalidated, audit.OutcomeSuccess, audit.SeverityInfo, nil)
	return errors.Join(errs...)
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx, span := telemetry.StartSpan(r.Context(), telemetry.TracerMiddleware, "sso.Authenticate")
	defer span.End()
	r = r.WithContext(ctx)

	if obj, ok, err := m.cached(ctx, r); err != nil {
		telemetry.RecordError(span, err)
		m.onError(w, r, err)
		return
	} else if ok {
		span.SetAttributes(attribute.Bool(telemetry.AttrCached, true))
		m.record(ctx, span, telemetry.OutcomeSuccess, true)
		audit.New(m.logger, "sso", r.Host).WithUser(obj.User.QualifiedName()).
			Session(audit.SubtypeCacheHit, audit.OutcomeSuccess, audit.SeverityInfo, map[string]any{
				"remote": r.RemoteAddr,
			})
		next.ServeHTTP(w, r.WithContext(WithObject(ctx, obj)))
		return
	}

	header := r.Header.Get(auth.HeaderAuthorization)
	if header == "" {
		m.record(ctx, span, telemetry.OutcomeChallenge, false)
		m.challenge(w, nil)
		return
	}
	token, err := auth.ParseAuthorization(header)
	if err != nil {
		m.logger.Debug("Malformed Authorization header", "remote", r.RemoteAddr, "error", err)
		m.record(ctx, span, telemetry.OutcomeMalformed, false)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	events := audit.New(m.logger, "sso", r.Host)
	m.authenticate(ctx, span, events, w, r, token, next)
}

// cached returns the Object for a request that already holds a session.
func (m *Middleware) cached(ctx context.Context, r *http.Request) (*Object, bool, error) {
	if m.opts.UseCookies {
		if token, ok := m.cookie.Value(r); ok && session.ValidToken(token) {
			id, ok, err := m.cache.Get(ctx, token)
			if err != nil {
				return nil, false, err
			}
			if ok && id != nil {
				return &Object{User: id.Clone(), Cached: true}, true, nil
			}
		}
	}
	if m.opts.UseSession {
		obj, ok, err := m.store.Load(r)
		if err != nil {
			return nil, false, err
		}
		if ok && obj != nil && obj.User != nil {
			obj.Cached = true
			return obj, true, nil
		}
	}
	return nil, false, nil
}

func (m *Middleware) authenticate(ctx context.Context, span trace.Span, events *audit.SecurityLogger, w http.ResponseWriter, r *http.Request, token []byte, next http.Handler) {
	key := r.RemoteAddr
	msgType := auth.DetectMessageType(token)
	span.SetAttributes(attribute.String(telemetry.AttrMessageType, string(msgType)))

	hs, err := m.resume(ctx, key, token, msgType)
	if err != nil {
		m.reject(ctx, span, events, w, r, err)
		return
	}

	res, err := m.acceptor.AcceptContext(ctx, auth.AcceptInput{
		Credential:   hs.cred,
		MaxTokenSize: hs.maxToken,
		Context:      hs.ctx,
		PeerToken:    token,
	})
	if err != nil {
		_ = hs.release()
		m.reject(ctx, span, events, w, r, &auth.SecurityProviderError{Op: "AcceptContext", Package: m.packageName, Err: err})
		return
	}
	if res.Context != nil && res.Context != hs.ctx {
		if hs.ctx != nil {
			_ = hs.ctx.Release()
		}
		hs.ctx = res.Context
	}
	hs.legs++

	if !res.Complete {
		m.handshakes.put(key, hs)
		m.logger.Debug("Negotiate continue", "remote", key, "message", msgType, "leg", hs.legs)
		m.record(ctx, span, telemetry.OutcomeContinue, false)
		events.Authentication(audit.SubtypeContinue, audit.OutcomeAttempt, audit.SeverityInfo, map[string]any{
			"remote": key,
			"leg":    hs.legs,
		})
		m.challenge(w, res.Token)
		return
	}

	peer, err := m.acceptor.PeerInfo(ctx, hs.ctx)
	if rerr := hs.release(); rerr != nil {
		m.logger.Warn("Failed to release security handles", "remote", key, "error", rerr)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		m.onError(w, r, err)
		return
	}

	if (peer.Guest && !m.opts.AllowsGuest) || (peer.Anonymous && !m.opts.AllowsAnonymousLogon) {
		m.logger.Info("Guest or anonymous logon rejected", "remote", key, "guest", peer.Guest, "anonymous", peer.Anonymous)
		m.record(ctx, span, telemetry.OutcomeRejected, false)
		events.Authentication(audit.SubtypeDenied, audit.OutcomeDenied, audit.SeverityWarning, map[string]any{
			"remote":    key,
			"guest":     peer.Guest,
			"anonymous": peer.Anonymous,
		})
		m.challenge(w, nil)
		return
	}

	obj, err := m.buildObject(ctx, peer, hs.method)
	if err != nil {
		telemetry.RecordError(span, err)
		m.onError(w, r, err)
		return
	}
	events = events.WithUser(obj.User.QualifiedName())

	if m.opts.UseCookies {
		if err := m.issueCookie(ctx, w, obj.User); err != nil {
			telemetry.RecordError(span, err)
			m.onError(w, r, err)
			return
		}
		events.Session(audit.SubtypeCookieIssued, audit.OutcomeSuccess, audit.SeverityInfo, nil)
	}
	if m.opts.UseSession {
		if err := m.store.Save(w, r, obj); err != nil {
			telemetry.RecordError(span, err)
			m.onError(w, r, err)
			return
		}
	}
	if len(res.Token) > 0 {
		w.Header().Set(auth.HeaderWWWAuthenticate, auth.FormatNegotiate(res.Token))
	}

	span.SetAttributes(
		attribute.String(telemetry.AttrMethod, string(obj.Method)),
		attribute.Bool(telemetry.AttrCached, false),
	)
	m.record(ctx, span, telemetry.OutcomeSuccess, false)
	events.Authentication(audit.SubtypeSuccess, audit.OutcomeSuccess, audit.SeverityInfo, map[string]any{
		"method": string(obj.Method),
		"legs":   hs.legs,
	})
	next.ServeHTTP(w, r.WithContext(WithObject(ctx, obj)))
}

// resume returns the parked handshake for key or starts a new one. A client
// that sends an initial token restarts the handshake.
func (m *Middleware) resume(ctx context.Context, key string, token []byte, msgType auth.MessageType) (*handshake, error) {
	if hs, ok := m.handshakes.take(key); ok {
		if msgType != auth.MessageNTLMNegotiate && msgType != auth.MessageKerberosInitial {
			return hs, nil
		}
		m.logger.Debug("Client restarted handshake", "remote", key, "message", msgType)
		_ = hs.release()
	}

	cred, err := m.acceptor.AcquireCredentials(ctx, m.packageName, auth.Inbound)
	if err != nil {
		return nil, &auth.SecurityProviderError{Op: "AcquireCredentials", Package: m.packageName, Err: err}
	}
	info, err := m.acceptor.QueryPackageInfo(m.packageName)
	if err != nil {
		_ = cred.Release()
		return nil, &auth.SecurityProviderError{Op: "QueryPackageInfo", Package: m.packageName, Err: err}
	}
	return &handshake{
		cred:     cred,
		maxToken: info.MaxTokenSize,
		method:   auth.MethodOf(msgType),
	}, nil
}

// buildObject turns peer into the request Object, applying the group,
// directory and owner options.
func (m *Middleware) buildObject(ctx context.Context, peer auth.PeerInfo, method auth.Method) (*Object, error) {
	id := identityFromPeer(peer)
	if m.opts.UseGroups {
		id.Groups = filterGroups(m.groups, id.Groups)
	} else {
		id.Groups = nil
	}

	if m.opts.UseActiveDirectory && m.directory != nil {
		entry, err := m.directory.LookupUser(ctx, id)
		if err != nil {
			m.logger.Warn("Directory lookup failed", "user", id.QualifiedName(), "error", err)
		} else {
			mergeDirectoryEntry(id, entry)
		}
	}

	obj := &Object{User: id, Method: method}
	if m.opts.UseOwner {
		owner, err := m.processOwner(ctx)
		if err != nil {
			return nil, err
		}
		obj.Owner = owner.Clone()
	}
	return obj, nil
}

// processOwner resolves the process owner once. A failed lookup is retried
// on the next handshake.
func (m *Middleware) processOwner(ctx context.Context) (*Identity, error) {
	m.ownerMu.Lock()
	defer m.ownerMu.Unlock()
	if m.owner != nil {
		return m.owner, nil
	}
	owner, err := m.ownerFunc(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve process owner: %w", err)
	}
	m.owner = owner
	return owner, nil
}

func (m *Middleware) issueCookie(ctx context.Context, w http.ResponseWriter, id *Identity) error {
	token, err := session.NewToken()
	if err != nil {
		return err
	}
	if err := m.cache.Set(ctx, token, id.Clone(), m.opts.CookieTTL); err != nil {
		return err
	}
	http.SetCookie(w, m.cookie.Cookie(token))
	return nil
}

// reject answers a failed handshake with a bare challenge. Provider detail is
// logged, never sent.
func (m *Middleware) reject(ctx context.Context, span trace.Span, events *audit.SecurityLogger, w http.ResponseWriter, r *http.Request, err error) {
	telemetry.RecordError(span, err)
	m.logger.Info("Negotiate authentication failed", "remote", r.RemoteAddr, "error", err)
	m.record(ctx, span, telemetry.OutcomeFailure, false)
	events.Authentication(audit.SubtypeFailure, audit.OutcomeFailure, audit.SeverityWarning, map[string]any{
		"remote": r.RemoteAddr,
	})
	m.challenge(w, nil)
}

// record stamps the span with the authentication outcome and counts it.
func (m *Middleware) record(ctx context.Context, span trace.Span, outcome string, cached bool) {
	span.SetAttributes(attribute.String(telemetry.AttrResult, outcome))
	m.metrics.RecordAuthResult(ctx, outcome, cached)
}

func (m *Middleware) challenge(w http.ResponseWriter, token []byte) {
	w.Header().Set(auth.HeaderWWWAuthenticate, auth.FormatNegotiate(token))
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

func (m *Middleware) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	m.logger.Error("SSO middleware failure", "path", r.URL.Path, "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
