package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/internal/core/services"
	apperrors "livesignal/pkg/errors"
	ctxlog "livesignal/pkg/logger"
	"livesignal/pkg/optimize"
	"livesignal/pkg/tracing"
	"livesignal/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxCloseReason is the longest reason text that fits a close control frame.
const maxCloseReason = 123

// frameBuffers holds the encode buffers shared by every write pump.
var frameBuffers = optimize.NewBufferPool(1024, 64*1024)

// ChannelTokenValidator resolves the short-lived channel tokens issued by the
// control plane.
type ChannelTokenValidator interface {
	ValidateChannelToken(token string) (*services.ChannelClaims, error)
}

type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string

	// NewLimiter returns the inbound limiter for one connection. Nil, or a
	// nil limiter, disables inbound rate limiting.
	NewLimiter func() *rate.Limiter
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:   20 * time.Second,
		PongTimeout:    45 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
		AllowedOrigins: []string{"*"},
	}
}

var _ ports.WebSocketHandler = (*WebSocketServer)(nil)

// WebSocketServer is the transport for signaling channels: one reader, one
// writer and one pinger goroutine per connection, all driven by a
// ports.Channel from the signaling service.
type WebSocketServer struct {
	cfg       ServerConfig
	signaling ports.SignalingService
	tokens    ChannelTokenValidator
	verifier  ports.IdentityVerifier
	upgrader  websocket.Upgrader
	logger    *zap.SugaredLogger
	ctxLogger *ctxlog.ContextLogger

	wg     sync.WaitGroup
	active atomic.Int64
}

func NewWebSocketServer(
	cfg ServerConfig,
	signaling ports.SignalingService,
	tokens ChannelTokenValidator,
	verifier ports.IdentityVerifier,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	s := &WebSocketServer{
		cfg:       cfg,
		signaling: signaling,
		tokens:    tokens,
		verifier:  verifier,
		logger:    logger,
		ctxLogger: ctxlog.NewContextLogger(logger.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler adapts the server to a gin route.
func (s *WebSocketServer) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.HandleWebSocket(c.Writer, c.Request)
	}
}

// ActiveConnections returns the number of connections being served.
func (s *WebSocketServer) ActiveConnections() int64 {
	return s.active.Load()
}

// Wait blocks until every connection goroutine has exited or ctx is done.
func (s *WebSocketServer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// HandleWebSocket authorizes the request, opens the channel and upgrades.
// Failures before the upgrade are answered with a JSON error and the mapped
// HTTP status.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, role, identity, err := s.authorize(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ch, err := s.signaling.OpenChannel(r.Context(), sessionID, role, identity)
	if err != nil {
		s.logger.Debugw("channel rejected",
			"session_id", sessionID,
			"role", role,
			"identity", identity,
			"error", err,
		)
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "connection_id", ch.ID(), "error", err)
		s.signaling.Close(ch.ID(), domain.CloseReasonTransportError)
		return
	}

	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		s.serve(conn, ch)
	}()
}

// authorize accepts a channel token (?token=) or a bearer identity with
// ?role= and an optional ?sessionId=.
func (s *WebSocketServer) authorize(r *http.Request) (domain.SessionID, domain.Role, domain.Identity, error) {
	q := r.URL.Query()

	if token := q.Get("token"); token != "" {
		claims, err := s.tokens.ValidateChannelToken(token)
		if err != nil {
			s.logger.Debugw("invalid channel token", "token", utils.MaskSensitive(token, 8), "error", err)
			return "", "", "", err
		}
		return claims.SessionID, claims.Role, claims.Identity, nil
	}

	header := r.Header.Get("Authorization")
	bearer, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || bearer == "" {
		return "", "", "", fmt.Errorf("%w: channel token or bearer token required", domain.ErrUnauthenticated)
	}
	identity, err := s.verifier.Verify(bearer)
	if err != nil {
		return "", "", "", err
	}

	role, err := domain.ParseRole(q.Get("role"))
	if err != nil {
		return "", "", "", err
	}
	return domain.SessionID(q.Get("sessionId")), role, identity, nil
}

func (s *WebSocketServer) serve(conn *websocket.Conn, ch ports.Channel) {
	ctx := ctxlog.WithSessionID(context.Background(), string(ch.SessionID()))
	ctx = ctxlog.WithConnectionID(ctx, string(ch.ID()))
	log := s.ctxLogger.Sugar(ctx).With("role", ch.Role())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, ch, log)
	}()
	go s.pinger(conn, ch, writerDone)

	reason := s.readPump(ctx, conn, ch, log)
	s.signaling.Close(ch.ID(), reason)

	<-writerDone
	log.Debugw("connection served", "close_reason", ch.CloseReason())
}

// readPump decodes inbound frames and hands them to the signaling service.
// It returns the reason the transport ended.
func (s *WebSocketServer) readPump(ctx context.Context, conn *websocket.Conn, ch ports.Channel, log *zap.SugaredLogger) domain.CloseReason {
	var limiter *rate.Limiter
	if s.cfg.NewLimiter != nil {
		limiter = s.cfg.NewLimiter()
	}

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return domain.CloseReasonClientClosed
			}
			select {
			case <-ch.Done():
			default:
				log.Infow("websocket read failed", "error", err)
			}
			return domain.CloseReasonTransportError
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if limiter != nil && !limiter.Allow() {
			s.signaling.NotifyError(ctx, ch.ID(), domain.PeekSeq(data), apperrors.NewRateLimitError())
			continue
		}

		msg, err := domain.DecodeMessage(data)
		if err != nil {
			s.signaling.NotifyError(ctx, ch.ID(), domain.PeekSeq(data), err)
			continue
		}

		msgCtx, span := tracing.TraceSignalMessage(ctx, tracing.SignalMessage{
			Kind:         string(msg.Kind),
			SessionID:    string(ch.SessionID()),
			ConnectionID: string(ch.ID()),
			Role:         string(ch.Role()),
			Seq:          msg.Seq,
		})
		err = s.signaling.Send(msgCtx, ch.ID(), msg)
		if err != nil {
			tracing.RecordError(msgCtx, err)
		}
		span.End()

		if errors.Is(err, domain.ErrConnectionClosed) || errors.Is(err, domain.ErrConnectionNotFound) {
			return ch.CloseReason()
		}
	}
}

// writePump drains the channel until it is closed and then sends a close
// frame carrying the close reason.
func (s *WebSocketServer) writePump(conn *websocket.Conn, ch ports.Channel, log *zap.SugaredLogger) {
	defer conn.Close()

	for {
		msg, err := ch.Next(context.Background())
		if err != nil {
			break
		}

		if err := s.writeFrame(conn, msg); err != nil {
			log.Debugw("websocket write failed", "error", err)
			s.signaling.Close(ch.ID(), domain.CloseReasonTransportError)
			// keep draining so Next observes the close
			continue
		}
	}

	reason := ch.CloseReason()
	frame := websocket.FormatCloseMessage(closeCode(reason), utils.TruncateString(string(reason), maxCloseReason))
	_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(s.cfg.WriteTimeout))
}

func (s *WebSocketServer) writeFrame(conn *websocket.Conn, msg *domain.Message) error {
	buf := frameBuffers.Get()
	defer frameBuffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func (s *WebSocketServer) pinger(conn *websocket.Conn, ch ports.Channel, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.signaling.Close(ch.ID(), domain.CloseReasonTransportError)
				return
			}
		case <-ch.Done():
			return
		case <-stop:
			return
		}
	}
}

func closeCode(reason domain.CloseReason) int {
	switch reason {
	case domain.CloseReasonSlowConsumer:
		return websocket.CloseTryAgainLater
	case domain.CloseReasonShutdown:
		return websocket.CloseGoingAway
	case domain.CloseReasonTransportError:
		return websocket.CloseInternalServerErr
	default:
		return websocket.CloseNormalClosure
	}
}

func writeError(w http.ResponseWriter, err error) {
	appErr := apperrors.FromDomain(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
