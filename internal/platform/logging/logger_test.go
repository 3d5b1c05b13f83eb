package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "info", "json"))

	logger.Info("hello", "k", "v")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestNewHandler_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "warn", "text"))

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestInitLogger_WritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "stresspulse.log")
	closer := InitLogger(Options{Level: "info", Format: "text", File: path})

	Logger.Info("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestCorrelationID_Roundtrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc123")
	id, ok := CorrelationID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc123", id)

	_, ok = CorrelationID(context.Background())
	assert.False(t, ok)

	_, ok = CorrelationID(WithCorrelationID(context.Background(), ""))
	assert.False(t, ok)
}

func TestNewCorrelationID(t *testing.T) {
	ids := make(map[string]struct{}, 50)
	for range 50 {
		id := NewCorrelationID()
		assert.Len(t, id, 12)
		ids[id] = struct{}{}
	}
	assert.Len(t, ids, 50)
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newCorrelationHandler(NewHandler(&buf, "debug", "text"))).With("component", "test")

	logger.InfoContext(WithCorrelationID(context.Background(), "req42"), "with id")
	assert.Contains(t, buf.String(), "correlation_id=req42")
	assert.Contains(t, buf.String(), "component=test")

	buf.Reset()
	logger.InfoContext(context.Background(), "without id")
	assert.NotContains(t, buf.String(), "correlation_id")
}
