package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "default config", config: DefaultConfig()},
		{name: "text format", config: Config{Level: "info", Format: "text"}},
		{name: "debug level", config: Config{Level: "debug", Format: "json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, New(tt.config))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestLogger_WithComponentAndExecution(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)

	logger.WithComponent("reconcile").WithExecution("E1").Info("drained")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "reconcile", entry["component"])
	assert.Equal(t, "E1", entry["execution_id"])
	assert.Equal(t, "drained", entry["msg"])
}

func TestContextHandler_LiftsIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithEventID(ctx, "evt-1")
	ctx = WithExecutionID(ctx, "E1")
	ctx = WithErrorCode(ctx, "01012")
	logger.InfoContext(ctx, "ingested")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "evt-1", entry["event_id"])
	assert.Equal(t, "E1", entry["execution_id"])
	assert.Equal(t, "01012", entry["error_code"])
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogger_RedactsTaskToken(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info", Format: "json", Redact: true}, &buf)

	logger.Info("parked", "task_token", "abc123", "execution_id", "E1")

	entry := decodeLine(t, &buf)
	assert.Equal(t, RedactedValue, entry["task_token"])
	assert.Equal(t, "E1", entry["execution_id"])
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	Component(base, "ingest").Info("x")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "ingest", entry["component"])
	assert.NotNil(t, Component(nil, "ingest"))
}
