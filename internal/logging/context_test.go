package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", FlowID(ctx))
	assert.Equal(t, "", SessionID(ctx))
	assert.Equal(t, "", StepID(ctx))

	ctx = WithFlowID(ctx, "password-login")
	ctx = WithSessionID(ctx, "sess-42")
	ctx = WithStepID(ctx, "verify-hash")

	assert.Equal(t, "password-login", FlowID(ctx))
	assert.Equal(t, "sess-42", SessionID(ctx))
	assert.Equal(t, "verify-hash", StepID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "jwt-refresh", "sess-x", "rotate")
	LogWith(ctx, logger).Info("step entered")

	output := buf.String()
	assert.Contains(t, output, "flow_id=jwt-refresh")
	assert.Contains(t, output, "session_id=sess-x")
	assert.Contains(t, output, "step_id=rotate")
	assert.Contains(t, output, "step entered")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithFlowID(context.Background(), "flow-only")
	LogWith(ctx, logger).Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "flow_id=flow-only")
	assert.NotContains(t, output, "session_id")
	assert.NotContains(t, output, "step_id")
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "f-1", "s-2", "st-3")
	assert.Equal(t, "f-1", FlowID(ctx))
	assert.Equal(t, "s-2", SessionID(ctx))
	assert.Equal(t, "st-3", StepID(ctx))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "oauth2-pkce", "sess-auto", "tokens")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"flow_id":"oauth2-pkce"`)
	assert.Contains(t, output, `"session_id":"sess-auto"`)
	assert.Contains(t, output, `"step_id":"tokens"`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "flow_id")
	assert.NotContains(t, output, "session_id")
	assert.NotContains(t, output, "step_id")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "session")}))

	ctx := WithSessionID(context.Background(), "sess-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"session_id":"sess-attr"`)
	assert.Contains(t, output, `"component":"session"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner).WithGroup("playback"))

	ctx := WithFlowID(context.Background(), "flow-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "flow-grp")
	assert.Contains(t, output, "grouped")
}
