package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "livesignal", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceSignalMessage(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceSignalMessage(context.Background(), SignalMessage{
		Kind:         "offer",
		SessionID:    "sess-1",
		ConnectionID: "conn-1",
		Role:         "viewer",
		Seq:          3,
	})
	RecordError(ctx, errors.New("bad sdp"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "signal.offer", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), ConnectionIDKey.String("conn-1"))
	assert.Contains(t, spans[0].Attributes(), RoleKey.String("viewer"))
	assert.Contains(t, spans[0].Attributes(), MessageSeqKey.Int64(3))
	assert.Len(t, spans[0].Events(), 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTraceSessionOperation(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceSessionOperation(context.Background(), "terminate", "sess-1")
	AddSpanAttributes(ctx, attribute.String("reason", "idle-timeout"))
	MeasureDuration(ctx, time.Now(), "terminate")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "session.terminate", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), SessionIDKey.String("sess-1"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("reason", "idle-timeout"))
}

func TestTraceSessionOperation_WithoutID(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceSessionOperation(context.Background(), "start", "")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	for _, kv := range spans[0].Attributes() {
		assert.NotEqual(t, SessionIDKey, kv.Key)
	}
}

func TestTraceHTTPRequestAndStore(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "POST", "/live/start")
	span.End()
	_, span = TraceStoreOperation(context.Background(), "save", "redis")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "http.POST", spans[0].Name())
	assert.Equal(t, "store.save", spans[1].Name())
}
