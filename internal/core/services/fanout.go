package services

import (
	"context"
	"fmt"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"

	"go.uber.org/zap"
)

// closeFunc closes a participant connection outside any session lock.
type closeFunc func(c *Connection, reason domain.CloseReason)

// FanoutCoordinator maintains viewer sets and delivers session-wide
// messages. Each recipient has its own bounded queue, so one slow viewer
// never stalls the rest.
type FanoutCoordinator struct {
	registry *Registry
	notify   *notifier
	closer   closeFunc
	logger   *zap.SugaredLogger
}

func NewFanoutCoordinator(registry *Registry, publisher ports.EventPublisher, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *FanoutCoordinator {
	n := newNotifier(publisher, metrics, logger)
	return &FanoutCoordinator{
		registry: registry,
		notify:   n,
		closer:   func(c *Connection, reason domain.CloseReason) { c.beginClose(reason) },
		logger:   n.logger,
	}
}

// CanAttach reports whether a viewer could attach to the session right now.
func (f *FanoutCoordinator) CanAttach(sessionID domain.SessionID) (*Session, error) {
	s, err := f.registry.Lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.admitLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// AttachViewer adds conn to the session's viewer set. The session owner is
// refused. On failure the session is left untouched.
func (f *FanoutCoordinator) AttachViewer(ctx context.Context, sessionID domain.SessionID, conn *Connection) error {
	s, err := f.registry.Lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.admitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if conn.identity == s.owner {
		s.mu.Unlock()
		return fmt.Errorf("%w: the owner cannot join as a viewer", domain.ErrRoleConflict)
	}
	if _, ok := s.viewers[conn.id]; ok {
		s.mu.Unlock()
		return nil
	}
	s.viewers[conn.id] = conn
	slow := s.joinLocked(conn)
	viewers := len(s.viewers)
	s.mu.Unlock()

	f.closeSlow(slow)
	f.logger.Debugw("viewer attached",
		"session_id", sessionID,
		"connection_id", conn.id,
		"viewers", viewers,
	)
	f.notify.participant(ctx, domain.SessionEventParticipantJoined, s, conn)
	f.registry.persist(ctx, s)
	return nil
}

// DetachViewer removes the viewer and announces its departure. Detaching a
// connection that is not attached is a no-op.
func (f *FanoutCoordinator) DetachViewer(ctx context.Context, sessionID domain.SessionID, connID domain.ConnectionID) error {
	s, err := f.registry.Lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn, ok := s.viewers[connID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.viewers, connID)
	slow := s.leaveLocked(conn)
	s.mu.Unlock()

	f.closeSlow(slow)
	f.logger.Debugw("viewer detached",
		"session_id", sessionID,
		"connection_id", connID,
	)
	f.notify.participant(ctx, domain.SessionEventParticipantLeft, s, conn)
	f.registry.persist(ctx, s)
	return nil
}

// Broadcast delivers msg to every participant except exclude. Delivery to
// each recipient is independent: chat overflow is dropped per recipient and
// a recipient that cannot take a critical message is closed as a slow
// consumer.
func (f *FanoutCoordinator) Broadcast(ctx context.Context, sessionID domain.SessionID, msg *domain.Message, exclude domain.ConnectionID) error {
	s, err := f.registry.Lookup(sessionID)
	if err != nil {
		return err
	}
	return f.broadcast(s, msg, exclude)
}

func (f *FanoutCoordinator) broadcast(s *Session, msg *domain.Message, exclude domain.ConnectionID) error {
	s.mu.Lock()
	if s.State() == domain.SessionEnded {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrSessionEnded, s.id)
	}
	slow, dropped := s.broadcastLocked(msg, exclude)
	s.mu.Unlock()

	for i := 0; i < dropped; i++ {
		f.notify.metrics.RecordDrop("buffer_full")
	}
	f.closeSlow(slow)
	return nil
}

func (f *FanoutCoordinator) closeSlow(conns []*Connection) {
	for _, c := range conns {
		f.logger.Warnw("closing slow consumer",
			"session_id", c.sessionID,
			"connection_id", c.id,
			"role", c.role,
		)
		f.notify.metrics.RecordDrop("slow_consumer")
		f.closer(c, domain.CloseReasonSlowConsumer)
	}
}
