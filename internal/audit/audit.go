// Package audit writes structured security events for Negotiate
// authentication, following the NIST SP 800-92 field layout.
package audit

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventAuthentication = "authentication"
	EventSession        = "session"
)

// Event subtypes.
const (
	SubtypeAttempt  = "attempt"
	SubtypeContinue = "continue"
	SubtypeSuccess  = "success"
	SubtypeFailure  = "failure"
	SubtypeDenied   = "denied"

	SubtypeCacheHit     = "cache_hit"
	SubtypeCookieIssued = "cookie_issued"
	SubtypeInvalidated  = "invalidated"
)

// Event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
	OutcomeAttempt = "attempt"
)

// Event severities.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Event is one structured security event.
type Event struct {
	Timestamp string `json:"timestamp"` // ISO 8601 UTC
	EventType string `json:"event_type"`
	Subtype   string `json:"subtype"`
	Severity  string `json:"severity"`

	User          string `json:"user,omitempty"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	CorrelationID string `json:"correlation_id"`

	Action  string         `json:"action"`
	Outcome string         `json:"outcome"`
	Details map[string]any `json:"details,omitempty"`
}

// String returns the JSON representation of the event.
func (e *Event) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// SecurityLogger stamps events with a source, target and a correlation id
// shared by every event of one negotiation. A nil *SecurityLogger discards
// events.
type SecurityLogger struct {
	logger        *slog.Logger
	source        string
	user          string
	target        string
	correlationID string
	now           func() time.Time
}

// New creates a logger with a fresh correlation id.
func New(logger *slog.Logger, source, target string) *SecurityLogger {
	return &SecurityLogger{
		logger:        logger,
		source:        source,
		target:        target,
		correlationID: uuid.New().String(),
		now:           time.Now,
	}
}

// WithUser returns a copy that attributes events to user. The correlation id is kept.
func (l *SecurityLogger) WithUser(user string) *SecurityLogger {
	if l == nil {
		return nil
	}
	cp := *l
	cp.user = user
	return &cp
}

// CorrelationID returns the id stamped on every event.
func (l *SecurityLogger) CorrelationID() string {
	if l == nil {
		return ""
	}
	return l.correlationID
}

// Log constructs and writes an event at the level matching severity.
func (l *SecurityLogger) Log(eventType, subtype, severity, outcome string, details map[string]any) {
	if l == nil || l.logger == nil {
		return
	}
	if details == nil {
		details = make(map[string]any)
	}
	event := &Event{
		Timestamp:     l.now().UTC().Format(time.RFC3339),
		EventType:     eventType,
		Subtype:       subtype,
		Severity:      severity,
		User:          l.user,
		Source:        l.source,
		Target:        l.target,
		CorrelationID: l.correlationID,
		Action:        eventType + "." + subtype,
		Outcome:       outcome,
		Details:       details,
	}

	switch severity {
	case SeverityWarning:
		l.logger.Warn("SecurityEvent", "event", event)
	case SeverityError, SeverityCritical:
		l.logger.Error("SecurityEvent", "event", event)
	default:
		l.logger.Info("SecurityEvent", "event", event)
	}
}

// Authentication logs an authentication event.
func (l *SecurityLogger) Authentication(subtype, outcome, severity string, details map[string]any) {
	l.Log(EventAuthentication, subtype, severity, outcome, details)
}

// Session logs a session cookie or cache event.
func (l *SecurityLogger) Session(subtype, outcome, severity string, details map[string]any) {
	l.Log(EventSession, subtype, severity, outcome, details)
}
