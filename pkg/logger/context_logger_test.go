package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithConnectionID(ctx, "conn-1")
	ctx = WithRequestID(ctx, "req-1")

	cl.WithContext(ctx).Info("attached")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "sess-1", fields["session_id"])
		assert.Equal(t, "conn-1", fields["connection_id"])
		assert.Equal(t, "req-1", fields["request_id"])
		assert.NotContains(t, fields, "identity")
	}
}

func TestContextLogger_LogRequest(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	cl.LogRequest(WithIdentity(context.Background(), "alice"), "POST", "/live/start", 201, 3)

	entries := logs.FilterMessage("http_request").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "alice", fields["identity"])
		assert.Equal(t, int64(201), fields["status_code"])
	}
}

func TestNewWithFormat(t *testing.T) {
	l := NewWithFormat("debug", "console")
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	l = New("not-a-level")
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
}
