package log

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_Disabled(t *testing.T) {
	logger, closer, err := New(Config{})
	require.NoError(t, err)
	defer closer.Close()

	assert.False(t, logger.Enabled(t.Context(), slog.LevelError))
}

func TestNew_FileRedacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	logger, closer, err := New(Config{Level: "debug", File: path, JSON: true})
	require.NoError(t, err)

	logger.Debug("Negotiate round", "password", "hunter2", "round", 1)
	require.NoError(t, closer.Close())

	out := readFile(t, path)
	assert.Contains(t, out, `"password":"[REDACTED]"`)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, `"round":1`)
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}
