package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/runnerr0/tabtrail/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(config.LoggingConfig{Level: "info", Format: "json"}, &buf), "daemon")

	logger.Info("listening", slog.String("addr", "127.0.0.1:8731"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "listening", rec["msg"])
	assert.Equal(t, "daemon", rec["component"])
	assert.Equal(t, "tabtrail", rec["system"])
	assert.Equal(t, "127.0.0.1:8731", rec["addr"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestOpen_FileUnderDir(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := Open(config.LoggingConfig{Level: "info", Format: "text", File: "logs/tabtrail.log"}, dir, true)
	require.NoError(t, err)

	logger.Debug("verbose forces debug")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "logs", "tabtrail.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "verbose forces debug")
}

func TestOpen_StderrByDefault(t *testing.T) {
	logger, closer, err := Open(config.LoggingConfig{}, t.TempDir(), false)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
}
