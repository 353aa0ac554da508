package services

import (
	"context"
	"errors"
	"fmt"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/tracing"
)

type sessionService struct {
	registry   *Registry
	fanout     *FanoutCoordinator
	lifecycle  *LifecycleManager
	store      ports.SessionStore
	maxViewers int
}

// NewSessionService exposes the coordinator to the control plane. maxViewers
// is the global viewer cap; zero means unbounded.
func NewSessionService(
	registry *Registry,
	fanout *FanoutCoordinator,
	lifecycle *LifecycleManager,
	store ports.SessionStore,
	maxViewers int,
) ports.SessionService {
	return &sessionService{
		registry:   registry,
		fanout:     fanout,
		lifecycle:  lifecycle,
		store:      store,
		maxViewers: maxViewers,
	}
}

func (s *sessionService) StartSession(ctx context.Context, owner domain.Identity, maxViewers int) (*domain.SessionRecord, error) {
	ctx, span := tracing.TraceSessionOperation(ctx, "start", "")
	defer span.End()

	if maxViewers < 0 {
		return nil, fmt.Errorf("%w: maxViewers must not be negative", domain.ErrInvalid)
	}
	session, err := s.lifecycle.Create(ctx, owner, s.clamp(maxViewers))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return session.Record(), nil
}

// clamp applies the global cap to a requested per-session cap.
func (s *sessionService) clamp(requested int) int {
	if s.maxViewers <= 0 {
		return requested
	}
	if requested <= 0 || requested > s.maxViewers {
		return s.maxViewers
	}
	return requested
}

// PrepareJoin checks that a viewer could attach now. The viewer is attached
// only when its channel opens.
func (s *sessionService) PrepareJoin(ctx context.Context, id domain.SessionID, identity domain.Identity) (*domain.SessionRecord, error) {
	_, span := tracing.TraceSessionOperation(ctx, "join", string(id))
	defer span.End()

	session, err := s.fanout.CanAttach(id)
	if err != nil {
		return nil, err
	}
	if session.owner == identity {
		return nil, fmt.Errorf("%w: the owner cannot join as a viewer", domain.ErrRoleConflict)
	}
	return session.Record(), nil
}

func (s *sessionService) StopSession(ctx context.Context, id domain.SessionID, identity domain.Identity) (*domain.SessionRecord, error) {
	ctx, span := tracing.TraceSessionOperation(ctx, "stop", string(id))
	defer span.End()

	return s.lifecycle.Stop(ctx, id, identity)
}

// GetSession prefers the in-memory session and falls back to the mirrored
// record, which covers sessions owned by another instance.
func (s *sessionService) GetSession(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	session, err := s.registry.Lookup(id)
	if err == nil {
		return session.Record(), nil
	}
	if s.store == nil {
		return nil, err
	}
	record, serr := s.store.Get(ctx, id)
	if serr != nil {
		if errors.Is(serr, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, serr
	}
	return record, nil
}

func (s *sessionService) ListSessions(ctx context.Context) ([]*domain.SessionRecord, error) {
	if s.store != nil {
		records, err := s.store.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		return records, nil
	}

	sessions := s.registry.List()
	records := make([]*domain.SessionRecord, 0, len(sessions))
	for _, session := range sessions {
		records = append(records, session.Record())
	}
	return records, nil
}
