package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
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
		{"INFO", slog.LevelInfo},
		{" warning ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "claims", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, float64(3), rec["claims"])
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "text").Debug("chunk done", "chunk", 2)
	assert.Contains(t, buf.String(), "chunk=2")
}

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, "info", "text")

	ctx := WithAttrs(context.Background(), "analysis_id", "abc")
	ctx = WithAttrs(ctx, "claim", 1)
	Ctx(ctx, base).Info("judged")

	out := buf.String()
	assert.Contains(t, out, "analysis_id=abc")
	assert.Contains(t, out, "claim=1")

	assert.Same(t, base, Ctx(context.Background(), base))
	assert.NotNil(t, Ctx(context.Background(), nil))
}
