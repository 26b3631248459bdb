// Package session caches authenticated identities between requests so that a
// client holding a session cookie does not repeat the Negotiate handshake.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrBackend is wrapped by cache errors caused by the storage backend.
var ErrBackend = errors.New("session cache backend unavailable")

// ErrInvalidTTL is returned by Set for a non-positive ttl.
var ErrInvalidTTL = errors.New("session ttl must be positive")

// Cache maps cookie tokens to cached values.
//
// Get on an unknown or expired token reports ok=false with a nil error.
// Concurrent Sets for one token race; the last writer wins.
type Cache[V any] interface {
	Get(ctx context.Context, token string) (value V, ok bool, err error)
	Set(ctx context.Context, token string, value V, ttl time.Duration) error
	Invalidate(ctx context.Context, token string) error
}
