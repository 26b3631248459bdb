// Package sso provides HTTP middleware that authenticates requests with the
// Negotiate scheme (Kerberos or NTLM) and attaches the caller's identity to
// the request context.
//
// # Flow
//
// A request carrying a live session cookie is served from the identity cache
// without a handshake. Otherwise the middleware answers 401 with
// "WWW-Authenticate: Negotiate" and feeds each client token to the Acceptor.
// NTLM needs two legs; the half-finished server context is parked per client
// address until the next leg arrives or the handshake TTL expires.
//
// # Usage
//
//	acceptor, err := auth.NewSSPIAcceptor(auth.SSPIConfig{})
//	if err != nil {
//	    return err
//	}
//	cache, _ := session.NewMemoryCache[*sso.Identity](0)
//	mw, err := sso.New(acceptor, sso.DefaultOptions(), sso.WithCache(cache))
//	if err != nil {
//	    return err
//	}
//	defer mw.Close()
//
//	r := chi.NewRouter()
//	r.With(mw.Handler).Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
//	    obj, _ := sso.FromContext(r.Context())
//	    fmt.Fprintln(w, obj.User.QualifiedName())
//	})
//
// Provider failures are answered with a bare challenge and never disclosed to
// the client. Unexpected failures go to the ErrorHandler.
package sso
