package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenLength is the number of random bytes in a cookie token.
const TokenLength = 32

// NewToken generates a cryptographically secure random cookie token as a hex string.
func NewToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidToken reports whether s has the shape of a token from NewToken.
// Cookies failing the check are not looked up.
func ValidToken(s string) bool {
	if len(s) != hex.EncodedLen(TokenLength) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
