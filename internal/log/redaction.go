package log

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively as substrings of attribute keys.
var sensitiveKeys = []string{
	"password",
	"pass",
	"secret",
	"token",
	"authorization",
	"cookie",
	"ticket",
	"cred",
	"hash_key",
	"block_key",
	"hashkey",
	"blockkey",
}

// safeSuffixes exempt size and count attributes such as "tokenLen".
var safeSuffixes = []string{"len", "count", "size", "type"}

// RedactingHandler is a slog.Handler that removes secrets from attributes:
// values of sensitive keys, and Negotiate tokens in any string value.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		group := make([]any, len(attrs))
		for i, attr := range attrs {
			group[i] = redactAttr(attr)
		}
		return slog.Group(a.Key, group...)
	}

	if isSensitive(a.Key) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if v, ok := redactNegotiate(a.Value.String()); ok {
			return slog.String(a.Key, v)
		}
	}
	return a
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range safeSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// redactNegotiate replaces the token of a "Negotiate <token>" header value.
func redactNegotiate(v string) (string, bool) {
	scheme, token, found := strings.Cut(v, " ")
	if !found || token == "" || !strings.EqualFold(scheme, "Negotiate") {
		return v, false
	}
	return scheme + " " + redacted, true
}
