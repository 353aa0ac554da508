package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	apperrors "livesignal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type ChannelConfig struct {
	OutboundBuffer int
	ReorderWindow  int
}

func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		OutboundBuffer: 256,
		ReorderWindow:  32,
	}
}

// ChannelManager owns participant connections and routes inbound signaling
// messages: negotiation kinds are relayed point to point, chat and control
// go through the fan-out coordinator.
type ChannelManager struct {
	cfg       ChannelConfig
	registry  *Registry
	fanout    *FanoutCoordinator
	lifecycle *LifecycleManager
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger

	mu    sync.RWMutex
	conns map[domain.ConnectionID]*Connection
}

func NewChannelManager(
	cfg ChannelConfig,
	registry *Registry,
	fanout *FanoutCoordinator,
	lifecycle *LifecycleManager,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *ChannelManager {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &ChannelManager{
		cfg:       cfg,
		registry:  registry,
		fanout:    fanout,
		lifecycle: lifecycle,
		metrics:   metrics,
		logger:    logger,
		conns:     make(map[domain.ConnectionID]*Connection),
	}
	fanout.closer = m.closeConnection
	lifecycle.closer = m.closeConnection
	return m
}

var _ ports.SignalingService = (*ChannelManager)(nil)

// OpenChannel attaches a new participant connection. A broadcaster with an
// empty session id creates a fresh session it owns.
func (m *ChannelManager) OpenChannel(ctx context.Context, sessionID domain.SessionID, role domain.Role, identity domain.Identity) (ports.Channel, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", domain.ErrUnauthenticated)
	}

	var (
		conn *Connection
		err  error
	)
	switch role {
	case domain.RoleBroadcaster:
		conn, err = m.openBroadcaster(ctx, sessionID, identity)
	case domain.RoleViewer:
		conn, err = m.openViewer(ctx, sessionID, identity)
	default:
		err = fmt.Errorf("%w: unknown role %q", domain.ErrInvalid, role)
	}
	if err != nil {
		return nil, err
	}

	conn.activate()
	m.metrics.RecordConnectionOpened(role)
	m.logger.Infow("channel opened",
		"session_id", conn.sessionID,
		"connection_id", conn.id,
		"role", role,
		"identity", identity,
	)
	return conn, nil
}

func (m *ChannelManager) openBroadcaster(ctx context.Context, sessionID domain.SessionID, identity domain.Identity) (*Connection, error) {
	var (
		s   *Session
		err error
	)
	if sessionID == "" {
		s, err = m.lifecycle.Create(ctx, identity, 0)
	} else {
		s, err = m.registry.Lookup(sessionID)
	}
	if err != nil {
		return nil, err
	}

	conn := m.newConnection(s.id, domain.RoleBroadcaster, identity)
	m.register(conn)

	s.mu.Lock()
	switch {
	case !s.State().Active():
		err = fmt.Errorf("%w: session %s is %s", domain.ErrSessionEnded, s.id, s.State())
	case s.owner != identity:
		err = fmt.Errorf("%w: %s does not own session %s", domain.ErrRoleConflict, identity, s.id)
	case s.broadcaster != nil:
		err = fmt.Errorf("%w: session %s already has a broadcaster", domain.ErrRoleConflict, s.id)
	}
	if err != nil {
		s.mu.Unlock()
		m.unregister(conn.id)
		return nil, err
	}
	s.broadcaster = conn
	s.touchLocked()
	slow := s.joinLocked(conn)
	s.mu.Unlock()

	m.fanout.closeSlow(slow)
	m.fanout.notify.participant(ctx, domain.SessionEventParticipantJoined, s, conn)
	m.registry.persist(ctx, s)
	return conn, nil
}

func (m *ChannelManager) openViewer(ctx context.Context, sessionID domain.SessionID, identity domain.Identity) (*Connection, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: viewers must name a session", domain.ErrInvalid)
	}
	conn := m.newConnection(sessionID, domain.RoleViewer, identity)
	m.register(conn)
	if err := m.fanout.AttachViewer(ctx, sessionID, conn); err != nil {
		m.unregister(conn.id)
		return nil, err
	}
	return conn, nil
}

func (m *ChannelManager) newConnection(sessionID domain.SessionID, role domain.Role, identity domain.Identity) *Connection {
	id := domain.ConnectionID(ulid.Make().String())
	return newConnection(id, sessionID, role, identity, m.cfg.OutboundBuffer, m.cfg.ReorderWindow)
}

func (m *ChannelManager) register(c *Connection) {
	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()
}

func (m *ChannelManager) unregister(id domain.ConnectionID) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conns[id]
	delete(m.conns, id)
	return c
}

func (m *ChannelManager) lookup(id domain.ConnectionID) (*Connection, error) {
	m.mu.RLock()
	c, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	return c, nil
}

// Connection returns an open connection by id.
func (m *ChannelManager) Connection(id domain.ConnectionID) (ports.Channel, error) {
	c, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Send accepts one inbound message from connectionID. Messages are released
// in per-sender seq order; every failure is also reported to the sender as
// an error control frame. A rejected message still consumes its seq.
func (m *ChannelManager) Send(ctx context.Context, connectionID domain.ConnectionID, msg *domain.Message) error {
	conn, err := m.lookup(connectionID)
	if err != nil {
		return err
	}
	if conn.State() >= domain.ConnClosing {
		return fmt.Errorf("%w: %s", domain.ErrConnectionClosed, connectionID)
	}

	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()

	s, err := m.registry.Lookup(conn.sessionID)
	if err != nil {
		err = fmt.Errorf("%w: session %s is gone", domain.ErrSessionEnded, conn.sessionID)
		m.reject(conn, msg.Seq, err)
		return err
	}
	if conn.role == domain.RoleBroadcaster {
		m.lifecycle.Heartbeat(s)
	}

	if err := checkInbound(conn, msg); err != nil {
		m.reject(conn, msg.Seq, err)
		_ = m.release(ctx, s, conn, msg.Seq, nil)
		return err
	}
	stamped := *msg
	stamped.Sender = connectionID
	return m.release(ctx, s, conn, stamped.Seq, &stamped)
}

func checkInbound(conn *Connection, msg *domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Sender != "" && msg.Sender != conn.id {
		return fmt.Errorf("%w: sender %s does not match connection", domain.ErrInvalid, msg.Sender)
	}
	return nil
}

// release hands seq to the sender's sequencer and dispatches whatever became
// deliverable. A nil msg marks seq as consumed without delivering it. The
// caller holds conn.sendMu.
func (m *ChannelManager) release(ctx context.Context, s *Session, conn *Connection, seq uint64, msg *domain.Message) error {
	var (
		ready  []*domain.Message
		seqErr error
	)
	if msg != nil {
		ready, seqErr = conn.seq.accept(msg)
	} else {
		ready, seqErr = conn.seq.skip(seq)
	}

	var firstErr error
	for _, r := range ready {
		if err := m.dispatch(ctx, s, conn, r); err != nil {
			m.reject(conn, r.Seq, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if seqErr != nil {
		m.metrics.RecordDrop("out_of_order")
		m.reject(conn, seq, seqErr)
		if firstErr == nil {
			firstErr = seqErr
		}
	}
	return firstErr
}

func (m *ChannelManager) dispatch(ctx context.Context, s *Session, conn *Connection, msg *domain.Message) error {
	m.metrics.RecordMessage(msg.Kind)

	switch msg.Kind {
	case domain.KindOffer, domain.KindAnswer, domain.KindICECandidate:
		return m.relay(ctx, s, conn, msg)
	case domain.KindChat:
		return m.fanout.broadcast(s, msg, conn.id)
	case domain.KindControl:
		return m.control(ctx, s, conn, msg)
	default:
		return fmt.Errorf("%w: unknown message kind %q", domain.ErrInvalid, msg.Kind)
	}
}

// relay delivers a negotiation message to the single participant named in
// the payload. One side of every negotiation must be the broadcaster.
func (m *ChannelManager) relay(ctx context.Context, s *Session, conn *Connection, msg *domain.Message) error {
	p, err := parseNegotiation(msg)
	if err != nil {
		return err
	}
	if p.To == conn.id {
		return fmt.Errorf("%w: cannot negotiate with itself", domain.ErrInvalid)
	}

	s.mu.Lock()
	if st := s.State(); !st.Active() {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionEnded, s.id, st)
	}
	target := s.participantLocked(p.To)
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is not in session %s", domain.ErrConnectionNotFound, p.To, s.id)
	}
	if conn.role != domain.RoleBroadcaster && target.role != domain.RoleBroadcaster {
		s.mu.Unlock()
		return fmt.Errorf("%w: negotiation must involve the broadcaster", domain.ErrRoleConflict)
	}

	_, sendErr := target.enqueue(msg)
	completed := false
	if sendErr == nil {
		switch msg.Kind {
		case domain.KindOffer:
			s.offers[negotiationPair{from: conn.id, to: target.id}] = struct{}{}
		case domain.KindAnswer:
			pair := negotiationPair{from: target.id, to: conn.id}
			if _, ok := s.offers[pair]; ok {
				delete(s.offers, pair)
				completed = true
			}
		}
	}
	s.mu.Unlock()

	if errors.Is(sendErr, domain.ErrSlowConsumer) {
		m.fanout.closeSlow([]*Connection{target})
		return nil
	}
	if sendErr != nil {
		return sendErr
	}
	if completed {
		m.lifecycle.MarkLive(ctx, s)
	}
	return nil
}

func (m *ChannelManager) control(ctx context.Context, s *Session, conn *Connection, msg *domain.Message) error {
	var p domain.ControlPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("%w: malformed control payload: %v", domain.ErrInvalid, err)
	}

	switch p.Action {
	case domain.ActionHeartbeat:
		return nil
	case domain.ActionStop:
		if conn.role != domain.RoleBroadcaster {
			return fmt.Errorf("%w: only the broadcaster can stop the session", domain.ErrRoleConflict)
		}
		if s.State() == domain.SessionEnding {
			return nil
		}
		return m.lifecycle.BeginEnding(ctx, s, domain.EndReasonStopped)
	case domain.ActionAck:
		m.lifecycle.Ack(ctx, s, conn.id)
		return nil
	case "":
		return fmt.Errorf("%w: control action is required", domain.ErrInvalid)
	default:
		return m.fanout.broadcast(s, msg, conn.id)
	}
}

// reject queues an error frame to the offending connection.
func (m *ChannelManager) reject(conn *Connection, seq uint64, err error) {
	frame := domain.NewControlMessage(0, &domain.ControlEvent{
		Event:     domain.EventError,
		SessionID: conn.sessionID,
		Code:      string(apperrors.Code(err)),
		Message:   err.Error(),
		Seq:       seq,
	})
	if _, qerr := conn.enqueue(frame); errors.Is(qerr, domain.ErrSlowConsumer) {
		m.closeConnection(conn, domain.CloseReasonSlowConsumer)
	}
	m.logger.Debugw("message rejected",
		"session_id", conn.sessionID,
		"connection_id", conn.id,
		"seq", seq,
		"error", err,
	)
}

// NotifyError reports a transport level failure to the connection. A non
// zero seq names the frame that failed; it is consumed so later frames from
// the same sender are not held behind it.
func (m *ChannelManager) NotifyError(ctx context.Context, connectionID domain.ConnectionID, seq uint64, err error) {
	conn, lerr := m.lookup(connectionID)
	if lerr != nil {
		return
	}

	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()

	m.reject(conn, seq, err)
	if seq == 0 {
		return
	}
	if s, lerr := m.registry.Lookup(conn.sessionID); lerr == nil {
		_ = m.release(ctx, s, conn, seq, nil)
	}
}

// Close starts closing the connection. It never blocks on the transport:
// the writer drains what is already queued and exits.
func (m *ChannelManager) Close(connectionID domain.ConnectionID, reason domain.CloseReason) {
	conn, err := m.lookup(connectionID)
	if err != nil {
		return
	}
	m.closeConnection(conn, reason)
}

func (m *ChannelManager) closeConnection(conn *Connection, reason domain.CloseReason) {
	m.unregister(conn.id)
	if !conn.beginClose(reason) {
		return
	}

	ctx := context.Background()
	if s, err := m.registry.Lookup(conn.sessionID); err == nil {
		switch conn.role {
		case domain.RoleViewer:
			_ = m.fanout.DetachViewer(ctx, s.id, conn.id)
			m.lifecycle.ViewerGone(ctx, s, conn.id)
		case domain.RoleBroadcaster:
			m.lifecycle.BroadcasterGone(ctx, s, conn.id)
		}
	}

	m.metrics.RecordConnectionClosed(conn.role, reason)
	m.logger.Infow("channel closed",
		"session_id", conn.sessionID,
		"connection_id", conn.id,
		"role", conn.role,
		"reason", reason,
	)
}

// Shutdown ends every session and closes whatever connections remain.
func (m *ChannelManager) Shutdown(ctx context.Context) error {
	m.lifecycle.Shutdown(ctx)

	m.mu.RLock()
	remaining := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		remaining = append(remaining, c)
	}
	m.mu.RUnlock()

	for _, c := range remaining {
		m.closeConnection(c, domain.CloseReasonShutdown)
	}
	return ctx.Err()
}
