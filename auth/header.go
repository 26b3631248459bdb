package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	// HeaderAuthorization carries client tokens.
	HeaderAuthorization = "Authorization"
	// HeaderWWWAuthenticate carries server challenges.
	HeaderWWWAuthenticate = "WWW-Authenticate"

	schemeNegotiate = "Negotiate"
	prefixNegotiate = schemeNegotiate + " "
)

// FormatNegotiate renders a token as a "Negotiate <base64>" header value.
// An empty token renders the bare scheme.
func FormatNegotiate(token []byte) string {
	if len(token) == 0 {
		return schemeNegotiate
	}
	return prefixNegotiate + base64.StdEncoding.EncodeToString(token)
}

// NegotiateChallenge returns the first WWW-Authenticate value that starts with
// "Negotiate".
func NegotiateChallenge(h http.Header) (string, bool) {
	for _, v := range h.Values(HeaderWWWAuthenticate) {
		if strings.HasPrefix(v, schemeNegotiate) {
			return v, true
		}
	}
	return "", false
}

// ChallengeToken extracts the server token from a challenge value.
//
// ok is false when the value is not "Negotiate " followed by a non-empty
// token, which ends the client loop. A present but undecodable token is a
// ProtocolError.
func ChallengeToken(value string) (token []byte, ok bool, err error) {
	if !strings.HasPrefix(value, prefixNegotiate) {
		return nil, false, nil
	}
	encoded := strings.TrimSpace(value[len(prefixNegotiate):])
	if encoded == "" {
		return nil, false, nil
	}
	token, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, &ProtocolError{Reason: "decode server token", Err: err}
	}
	return token, true, nil
}

// ParseAuthorization decodes a client "Negotiate <base64>" Authorization value.
// The scheme is matched case-insensitively.
func ParseAuthorization(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	scheme, encoded, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, schemeNegotiate) {
		return nil, &ProtocolError{Reason: "authorization scheme", Err: ErrMalformedHeader}
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, &ProtocolError{Reason: "empty authorization token", Err: ErrMalformedHeader}
	}
	token, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &ProtocolError{Reason: "decode authorization token", Err: err}
	}
	return token, nil
}
