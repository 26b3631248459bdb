// Package negotiate implements the client side of HTTP Negotiate (SPNEGO)
// authentication.
//
// A Client sends a request unmodified. When the server answers 401 with a
// "WWW-Authenticate: Negotiate" challenge, the Client asks its
// auth.SecurityProvider for a token and resends the request with
// "Authorization: Negotiate <token>". It keeps answering challenges that carry
// a server token until the server stops challenging or DefaultMaxRounds
// authenticated requests have been sent:
//
//	provider, _ := auth.NewNTLMProvider(auth.Credentials{Username: `CORP\alice`, Password: pw})
//	client, _ := negotiate.New(provider)
//	resp, err := client.Fetch(ctx, "https://intranet.example.com/", negotiate.RequestOptions{})
//
// Kerberos typically completes in two requests, NTLM in three. Errors are
// *auth.TransportError, *auth.SecurityProviderError or *auth.ProtocolError;
// a server that never stops challenging yields a ProtocolError wrapping
// auth.ErrRoundLimit.
package negotiate
