package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", SessionID(ctx))
	assert.Equal(t, "", Tool(ctx))
	assert.Equal(t, "", TransportSession(ctx))

	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithTool(ctx, "get_media_list")
	ctx = WithTransportSession(ctx, "mcp-9")

	assert.Equal(t, "sess-1", SessionID(ctx))
	assert.Equal(t, "get_media_list", Tool(ctx))
	assert.Equal(t, "mcp-9", TransportSession(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithTool(WithSessionID(context.Background(), "sess-abc"), "version")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "session_id=sess-abc")
	assert.Contains(t, output, "tool=version")
	assert.NotContains(t, output, "transport_session")
	assert.Contains(t, output, "test message")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "session_id")
	assert.NotContains(t, output, "tool=")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithTransportSession(WithSessionID(context.Background(), "sess-auto"), "mcp-auto")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"session_id":"sess-auto"`)
	assert.Contains(t, output, `"transport_session":"mcp-auto"`)
	assert.NotContains(t, output, `"tool"`)
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "index")}))

	ctx := WithSessionID(context.Background(), "sess-attr")
	logger.InfoContext(ctx, "with attrs")
	assert.Contains(t, buf.String(), `"session_id":"sess-attr"`)
	assert.Contains(t, buf.String(), `"component":"index"`)

	buf.Reset()
	slog.New(handler.WithGroup("tools")).InfoContext(ctx, "grouped", "key", "val")
	assert.Contains(t, buf.String(), "sess-attr")
	assert.Contains(t, buf.String(), "grouped")
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	require.NoError(t, err)
	logger.DebugContext(WithSessionID(context.Background(), "s"), "hello")
	assert.Contains(t, buf.String(), `"session_id":"s"`)

	_, err = New(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = New(&buf, "info", "xml")
	assert.Error(t, err)

	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
