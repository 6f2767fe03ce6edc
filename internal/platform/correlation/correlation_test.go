package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, NewID())
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	_, ok := ID(ctx)
	assert.False(t, ok)

	ctx = WithID(ctx, "abcd1234")
	id, ok := ID(ctx)
	require.True(t, ok)
	assert.Equal(t, "abcd1234", id)

	ctx = WithSession(ctx, "session-1")
	sid, ok := Session(ctx)
	require.True(t, ok)
	assert.Equal(t, "session-1", sid)
}

func TestHandlerInjectsContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithSession(WithID(context.Background(), "abcd1234"), "session-1")
	logger.InfoContext(ctx, "hello")

	out := buf.String()
	assert.Contains(t, out, `"correlation_id":"abcd1234"`)
	assert.Contains(t, out, `"session_id":"session-1"`)
}

func TestHandlerWithoutContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))

	logger.Info("hello")

	out := buf.String()
	assert.NotContains(t, out, "correlation_id")
	assert.NotContains(t, out, "session_id")
}
