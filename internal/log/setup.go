// Package log builds the slog loggers used by the commands: level parsing,
// secret redaction and size-based file rotation.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects where and how much to log.
type Config struct {
	// Level is debug, info, warn or error. Empty disables logging.
	Level string
	// File receives the log instead of stderr when set.
	File string
	// JSON selects the JSON handler instead of text.
	JSON bool

	MaxSize    int64
	MaxBackups int
}

// ParseLevel parses a level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a redacting logger for cfg. The returned closer releases the log
// file, if any.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	if cfg.Level == "" {
		return slog.New(slog.DiscardHandler), nopCloser{}, nil
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rf, err := NewRotatingFile(cfg.File, cfg.MaxSize, cfg.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		w, closer = rf, rf
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewRedactingHandler(h)), closer, nil
}
