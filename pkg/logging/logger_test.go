package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestFileLoggerWritesTaggedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dwnd.log")

	logger, err := New(Options{Level: "info", OutputFile: path, EnableColors: true})
	require.NoError(t, err)

	logger.ComponentInfo(ComponentStream, "subscription active", zap.String("tenant", "did:example:1"))
	logger.ComponentDebug(ComponentStream, "filtered out")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	// file output never carries ANSI sequences
	assert.Contains(t, out, "[STREAM] subscription active")
	assert.Contains(t, out, "did:example:1")
	assert.NotContains(t, out, "\033[")
	assert.NotContains(t, out, "filtered out")
}

func TestForNamesLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "json.log")

	logger, err := New(Options{Level: "debug", Format: "json", OutputFile: path})
	require.NoError(t, err)

	logger.For(ComponentBroker).Debug("topic created", zap.String("topic", "t_events"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"broker"`)
	assert.Contains(t, string(data), `"topic":"t_events"`)
}
