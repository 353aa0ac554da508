package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/services"
	httphandlers "livesignal/internal/handlers/http"
	"livesignal/internal/infrastructure/middleware"
	signalinfra "livesignal/internal/infrastructure/signal"
	"livesignal/pkg/client"
	"livesignal/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFormatMessage(t *testing.T) {
	chat := &domain.Message{Sender: "01V", Kind: domain.KindChat, Seq: 3, Payload: []byte(`{"text":"hi"}`)}
	line := formatMessage(chat, false)
	assert.Contains(t, line, "chat")
	assert.Contains(t, line, "from=01V seq=3")
	assert.Contains(t, line, `{"text":"hi"}`)

	assert.JSONEq(t, `{"senderConnectionId":"01V","kind":"chat","seq":3,"payload":{"text":"hi"}}`, formatMessage(chat, true))

	ending := domain.NewControlMessage(7, &domain.ControlEvent{
		Event:       domain.EventSessionEnding,
		State:       "ending",
		Reason:      "stopped",
		GraceMillis: 5000,
	})
	line = formatMessage(ending, false)
	assert.Contains(t, line, "session-ending")
	assert.Contains(t, line, "state=ending reason=stopped")
	assert.Contains(t, line, "grace=5.00s")
	assert.NotContains(t, line, "identity=")
}

func TestFormatMessage_TruncatesLongPayloads(t *testing.T) {
	msg := &domain.Message{Sender: "01V", Kind: domain.KindChat, Seq: 1, Payload: []byte(`"` + strings.Repeat("x", 500) + `"`)}
	line := formatMessage(msg, false)
	assert.True(t, strings.HasSuffix(line, "..."))
	assert.Less(t, len(line), 300)
}

func TestWatch_FollowsSessionUntilEnded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()

	registry := services.NewRegistry(nil, logger)
	fanout := services.NewFanoutCoordinator(registry, nil, nil, logger)
	lifecycle := services.NewLifecycleManager(services.LifecycleConfig{
		IdleTimeout: time.Minute,
		GracePeriod: 5 * time.Second,
		Cleanup:     retry.Config{Enabled: false},
	}, registry, nil, nil, logger)
	manager := services.NewChannelManager(services.DefaultChannelConfig(), registry, fanout, lifecycle, nil, logger)
	auth := services.NewAuthService("test-secret", time.Hour, time.Minute)
	sessions := services.NewSessionService(registry, fanout, lifecycle, nil, 0)
	ws := signalinfra.NewWebSocketServer(signalinfra.DefaultServerConfig(), manager, auth, auth, logger)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	httphandlers.NewLiveHandler(sessions, auth).SetupRoutes(router, middleware.AuthMiddleware(auth))
	router.GET("/live/ws", ws.Handler())
	srv := httptest.NewServer(router)
	defer srv.Close()
	defer func() { _ = manager.Shutdown(context.Background()) }()

	newClient := func(identity domain.Identity) *client.Client {
		c, err := client.New(srv.URL)
		require.NoError(t, err)
		token, err := auth.GenerateToken(identity, "")
		require.NoError(t, err)
		c.SetToken(token)
		return c
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	owner := newClient("owner")
	started, err := owner.Start(ctx, 0)
	require.NoError(t, err)

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- watch(ctx, newClient("viewer"), started.SessionID, &out) }()

	require.Eventually(t, func() bool {
		rec, err := owner.Session(ctx, started.SessionID)
		return err == nil && rec.ViewerCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = owner.Stop(ctx, started.SessionID)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("watch did not return after the session ended")
	}

	text := out.String()
	assert.Contains(t, text, "welcome")
	assert.Contains(t, text, "session-ending")
	assert.Contains(t, text, "session-ended")
	assert.Contains(t, text, "watched "+string(started.SessionID))
}
