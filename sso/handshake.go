package sso

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/smnsjas/go-negotiate/auth"
)

// handshake is the server half of one in-progress negotiation.
type handshake struct {
	cred     auth.CredentialHandle
	ctx      auth.ContextHandle
	maxToken uint32
	method   auth.Method
	legs     int

	// parked is set while the handshake waits in the store for the next leg.
	// Eviction releases only parked handshakes.
	parked atomic.Bool
}

func (h *handshake) release() error {
	return auth.ReleaseAll(h.ctx, h.cred)
}

// handshakeStore parks multi-leg handshakes between requests. NTLM
// authenticates a connection, so handshakes are keyed by the client address.
type handshakeStore struct {
	lru *expirable.LRU[string, *handshake]
}

func newHandshakeStore(size int, ttl time.Duration, logger *slog.Logger) *handshakeStore {
	onEvict := func(key string, h *handshake) {
		if !h.parked.CompareAndSwap(true, false) {
			return
		}
		if err := h.release(); err != nil {
			logger.Warn("Failed to release abandoned handshake", "remote", key, "error", err)
			return
		}
		logger.Debug("Released abandoned handshake", "remote", key, "legs", h.legs)
	}
	return &handshakeStore{lru: expirable.NewLRU[string, *handshake](size, onEvict, ttl)}
}

// take removes and returns the parked handshake for key.
func (s *handshakeStore) take(key string) (*handshake, bool) {
	h, ok := s.lru.Get(key)
	if !ok || !h.parked.CompareAndSwap(true, false) {
		return nil, false
	}
	s.lru.Remove(key)
	return h, true
}

// put parks h until the next leg arrives or the entry expires. A handshake
// already parked under key is released.
func (s *handshakeStore) put(key string, h *handshake) {
	if old, ok := s.take(key); ok && old != h {
		_ = old.release()
	}
	h.parked.Store(true)
	s.lru.Add(key, h)
}

// drop releases the parked handshake for key, if any.
func (s *handshakeStore) drop(key string) {
	if h, ok := s.take(key); ok {
		_ = h.release()
	}
}

func (s *handshakeStore) len() int {
	return s.lru.Len()
}

// purge releases every parked handshake.
func (s *handshakeStore) purge() {
	s.lru.Purge()
}
