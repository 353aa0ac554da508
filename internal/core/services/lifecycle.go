package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/circuitbreaker"
	"livesignal/pkg/retry"
	"livesignal/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type LifecycleConfig struct {
	IdleTimeout time.Duration
	GracePeriod time.Duration
	Cleanup     retry.Config
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		IdleTimeout: 30 * time.Second,
		GracePeriod: 5 * time.Second,
		Cleanup: retry.Config{
			Enabled:      true,
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// LifecycleManager drives sessions through Created, Live, Ending and Ended.
type LifecycleManager struct {
	cfg      LifecycleConfig
	registry *Registry
	notify   *notifier
	closer   closeFunc
	logger   *zap.SugaredLogger
}

func NewLifecycleManager(cfg LifecycleConfig, registry *Registry, publisher ports.EventPublisher, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *LifecycleManager {
	n := newNotifier(publisher, metrics, logger)
	return &LifecycleManager{
		cfg:      cfg,
		registry: registry,
		notify:   n,
		closer:   func(c *Connection, reason domain.CloseReason) { c.beginClose(reason) },
		logger:   n.logger,
	}
}

// Create registers a session and starts its idle clock.
func (l *LifecycleManager) Create(ctx context.Context, owner domain.Identity, maxViewers int) (*Session, error) {
	s, err := l.registry.CreateSession(ctx, owner, maxViewers)
	if err != nil {
		return nil, err
	}

	if l.cfg.IdleTimeout > 0 {
		s.mu.Lock()
		s.idleTimer = time.AfterFunc(l.cfg.IdleTimeout, func() { l.checkIdle(s) })
		s.mu.Unlock()
	}

	l.notify.metrics.RecordSessionCreated(s.id)
	l.notify.metrics.RecordSessionState(s.id, domain.SessionCreated)
	l.notify.session(ctx, domain.SessionEventCreated, s, "")
	return s, nil
}

// Heartbeat records broadcaster liveness.
func (l *LifecycleManager) Heartbeat(s *Session) {
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()
}

func (l *LifecycleManager) checkIdle(s *Session) {
	s.mu.Lock()
	if s.State() == domain.SessionEnded {
		s.mu.Unlock()
		return
	}
	if idle := time.Since(s.lastHeartbeat); idle < l.cfg.IdleTimeout {
		s.idleTimer.Reset(l.cfg.IdleTimeout - idle)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	l.logger.Infow("session idle timeout",
		"session_id", s.id,
		"idle_timeout", l.cfg.IdleTimeout,
	)
	l.terminate(context.Background(), s, domain.EndReasonIdleTimeout)
}

// MarkLive moves a Created session to Live and tells every participant. It
// reports whether the transition happened.
func (l *LifecycleManager) MarkLive(ctx context.Context, s *Session) bool {
	s.mu.Lock()
	if s.State() != domain.SessionCreated {
		s.mu.Unlock()
		return false
	}
	_ = s.transitionLocked(domain.SessionLive)
	now := time.Now()
	s.liveAt = &now
	msg := s.controlLocked(&domain.ControlEvent{
		Event: domain.EventSessionLive,
		State: domain.SessionLive.String(),
	})
	slow, _ := s.broadcastLocked(msg, "")
	s.mu.Unlock()

	l.closeSlow(slow)
	l.logger.Infow("session live", "session_id", s.id)
	l.notify.metrics.RecordSessionState(s.id, domain.SessionLive)
	l.notify.session(ctx, domain.SessionEventLive, s, "")
	l.registry.persist(ctx, s)
	return true
}

// BeginEnding moves an active session to Ending. Viewers get a
// session-ending notification and the grace period to acknowledge it; a
// session without viewers ends at once.
func (l *LifecycleManager) BeginEnding(ctx context.Context, s *Session, reason domain.EndReason) error {
	s.mu.Lock()
	if st := s.State(); !st.Active() {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionEnded, s.id, st)
	}
	_ = s.transitionLocked(domain.SessionEnding)
	s.endReason = reason

	if len(s.viewers) == 0 {
		s.mu.Unlock()
		l.terminate(ctx, s, reason)
		return nil
	}

	s.pendingAcks = make(map[domain.ConnectionID]struct{}, len(s.viewers))
	for id := range s.viewers {
		s.pendingAcks[id] = struct{}{}
	}
	msg := s.controlLocked(&domain.ControlEvent{
		Event:       domain.EventSessionEnding,
		State:       domain.SessionEnding.String(),
		Reason:      string(reason),
		GraceMillis: l.cfg.GracePeriod.Milliseconds(),
	})
	slow, _ := s.broadcastLocked(msg, "")
	s.graceTimer = time.AfterFunc(l.cfg.GracePeriod, func() {
		l.terminate(context.Background(), s, reason)
	})
	s.mu.Unlock()

	l.logger.Infow("session ending",
		"session_id", s.id,
		"reason", reason,
		"grace_period", l.cfg.GracePeriod,
	)
	l.notify.metrics.RecordSessionState(s.id, domain.SessionEnding)
	l.notify.session(ctx, domain.SessionEventEnding, s, string(reason))
	l.registry.persist(ctx, s)
	l.closeSlow(slow)
	return nil
}

// Ack records a viewer's acknowledgement of session-ending. The session ends
// once every viewer has acknowledged or left.
func (l *LifecycleManager) Ack(ctx context.Context, s *Session, connID domain.ConnectionID) {
	s.mu.Lock()
	if s.State() != domain.SessionEnding || s.pendingAcks == nil {
		s.mu.Unlock()
		return
	}
	delete(s.pendingAcks, connID)
	done := len(s.pendingAcks) == 0
	reason := s.endReason
	s.mu.Unlock()

	if done {
		l.terminate(ctx, s, reason)
	}
}

// ViewerGone counts a departed viewer as acknowledged.
func (l *LifecycleManager) ViewerGone(ctx context.Context, s *Session, connID domain.ConnectionID) {
	l.Ack(ctx, s, connID)
}

// BroadcasterGone detaches the broadcaster connection and starts ending the
// session if it was still active.
func (l *LifecycleManager) BroadcasterGone(ctx context.Context, s *Session, connID domain.ConnectionID) {
	s.mu.Lock()
	conn := s.broadcaster
	if conn == nil || conn.id != connID {
		s.mu.Unlock()
		return
	}
	s.broadcaster = nil
	slow := s.leaveLocked(conn)
	active := s.State().Active()
	s.mu.Unlock()

	l.closeSlow(slow)
	l.notify.participant(ctx, domain.SessionEventParticipantLeft, s, conn)
	if active {
		_ = l.BeginEnding(ctx, s, domain.EndReasonBroadcasterLeft)
		return
	}
	l.registry.persist(ctx, s)
}

// Stop ends the session on behalf of its owner.
func (l *LifecycleManager) Stop(ctx context.Context, id domain.SessionID, identity domain.Identity) (*domain.SessionRecord, error) {
	s, err := l.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	if s.owner != identity {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotOwner, id)
	}
	if s.State() == domain.SessionEnding {
		return s.Record(), nil
	}
	if err := l.BeginEnding(ctx, s, domain.EndReasonStopped); err != nil {
		return nil, err
	}
	return s.Record(), nil
}

// Shutdown ends every registered session immediately.
func (l *LifecycleManager) Shutdown(ctx context.Context) {
	for _, s := range l.registry.List() {
		l.terminate(ctx, s, domain.EndReasonShutdown)
	}
}

// terminate forces the session to Ended, notifies and closes every remaining
// participant and removes the session from the registry. It is idempotent.
func (l *LifecycleManager) terminate(ctx context.Context, s *Session, reason domain.EndReason) {
	ctx, span := tracing.TraceSessionOperation(ctx, "terminate", string(s.id))
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	if s.State() == domain.SessionEnded {
		s.mu.Unlock()
		return
	}
	if s.endReason == "" {
		s.endReason = reason
	}
	_ = s.transitionLocked(domain.SessionEnded)
	now := time.Now()
	s.endedAt = &now
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}

	msg := s.controlLocked(&domain.ControlEvent{
		Event:  domain.EventSessionEnded,
		State:  domain.SessionEnded.String(),
		Reason: string(s.endReason),
	})
	conns := s.connectionsLocked()
	var missed []*Connection
	for _, c := range conns {
		if _, err := c.enqueue(msg); errors.Is(err, domain.ErrSlowConsumer) {
			missed = append(missed, c)
		}
	}
	s.broadcaster = nil
	s.viewers = make(map[domain.ConnectionID]*Connection)
	s.offers = make(map[negotiationPair]struct{})
	s.pendingAcks = nil
	endReason := s.endReason
	s.mu.Unlock()

	for _, c := range missed {
		l.logger.Warnw("session ended notice not delivered",
			"session_id", s.id,
			"connection_id", c.id,
		)
		l.notify.metrics.RecordDrop("session_ended")
	}

	closeReason := domain.CloseReasonSessionEnded
	if reason == domain.EndReasonShutdown {
		closeReason = domain.CloseReasonShutdown
	}
	for _, c := range conns {
		l.closer(c, closeReason)
	}

	if err := retry.Retry(ctx, l.cfg.Cleanup, func() error {
		err := l.registry.RemoveSession(ctx, s.id)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	}); err != nil {
		l.logger.Errorw("failed to remove session",
			"session_id", s.id,
			"error", err,
		)
	}

	lifetime := now.Sub(s.createdAt)
	l.logger.Infow("session ended",
		"session_id", s.id,
		"reason", endReason,
		"lifetime", lifetime,
		"participants", len(conns),
	)
	tracing.AddSpanAttributes(ctx,
		attribute.String("session.end_reason", string(endReason)),
		attribute.Int("session.participants", len(conns)),
	)
	tracing.MeasureDuration(ctx, start, "terminate")
	l.notify.metrics.RecordSessionState(s.id, domain.SessionEnded)
	l.notify.metrics.RecordSessionEnded(s.id, endReason, lifetime)
	l.notify.session(ctx, domain.SessionEventEnded, s, string(endReason))
}

func (l *LifecycleManager) closeSlow(conns []*Connection) {
	for _, c := range conns {
		l.logger.Warnw("closing slow consumer",
			"session_id", c.sessionID,
			"connection_id", c.id,
		)
		l.notify.metrics.RecordDrop("slow_consumer")
		l.closer(c, domain.CloseReasonSlowConsumer)
	}
}
