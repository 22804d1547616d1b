package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewZapAdapter(zap.New(core))

	l.Debug("hidden")
	l.Info("visible", "kind", "run")
	LogExecution(l, "read", "act-1", 15*time.Millisecond, true, nil)
	l.Error("broken", "action_id", "act-2")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "visible", entries[0].Message)
	assert.Equal(t, "run", entries[0].ContextMap()["kind"])
	assert.Equal(t, "act-1", entries[1].ContextMap()["action_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestZapAdapter_NilIsNop(t *testing.T) {
	l := NewZapAdapter(nil)
	assert.NotPanics(t, func() { l.Warn("nothing", "k", 1) })
}

func TestNewZapLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.Level = LogLevelWarn
	cfg.Component = "codec"

	l := NewZapLogger(cfg)
	l.Info("dropped")
	LogRejected(l, "screenshot", []byte(`{"observation_type":"screenshot"}`), errors.New("unknown observation kind"))
	require.NoError(t, l.Close())

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "observation.rejected", lines[0]["msg"])
	assert.Equal(t, "codec", lines[0]["component"])
	assert.Equal(t, "screenshot", lines[0]["tag"])
	assert.Equal(t, "warn", lines[0]["level"])
}

func TestNewBackend(t *testing.T) {
	cfg := DefaultLoggerConfig()
	cfg.Output = &bytes.Buffer{}

	assert.IsType(t, &ZapAdapter{}, NewBackend(BackendZap, cfg))
	assert.IsType(t, &StructuredLogger{}, NewBackend(BackendSlog, cfg))
	assert.IsType(t, &StructuredLogger{}, NewBackend("", cfg))
}
