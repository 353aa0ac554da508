package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry owns every live session. The map and the owner index share one
// mutex that is never held together with a session mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*Session
	owners   map[domain.Identity]domain.SessionID

	store  ports.SessionStore
	logger *zap.SugaredLogger
}

// NewRegistry creates a registry mirroring to store. A nil store keeps the
// registry purely in memory.
func NewRegistry(store ports.SessionStore, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		sessions: make(map[domain.SessionID]*Session),
		owners:   make(map[domain.Identity]domain.SessionID),
		store:    store,
		logger:   logger,
	}
}

// CreateSession registers a new session for owner. It fails with
// domain.ErrDuplicateBroadcaster while the owner still has a Created or Live
// session.
func (r *Registry) CreateSession(ctx context.Context, owner domain.Identity, maxViewers int) (*Session, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner identity is required", domain.ErrInvalid)
	}

	r.mu.Lock()
	if existing, ok := r.owners[owner]; ok {
		if s, ok := r.sessions[existing]; ok && s.State().Active() {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: session %s", domain.ErrDuplicateBroadcaster, existing)
		}
	}
	s := newSession(domain.SessionID(uuid.NewString()), owner, maxViewers)
	r.sessions[s.id] = s
	r.owners[owner] = s.id
	r.mu.Unlock()

	r.logger.Infow("session created",
		"session_id", s.id,
		"owner", owner,
		"max_viewers", maxViewers,
	)
	r.persist(ctx, s)
	return s, nil
}

// Lookup returns the session or domain.ErrSessionNotFound.
func (r *Registry) Lookup(id domain.SessionID) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// RemoveSession drops the session and its mirrored record. Removing an
// unknown session is a no-op; only the store delete can fail, so callers may
// retry.
func (r *Registry) RemoveSession(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		if r.owners[s.owner] == id {
			delete(r.owners, s.owner)
		}
	}
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	ctx, span := tracing.TraceSessionOperation(ctx, "remove", string(id))
	defer span.End()
	if err := r.store.Delete(ctx, id); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// List returns the registered sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// persist mirrors the session snapshot to the store. It must be called
// without holding the session mutex. A save that lands after the session was
// removed is deleted again.
func (r *Registry) persist(ctx context.Context, s *Session) {
	if r.store == nil {
		return
	}
	record := s.Record()
	if record.State == domain.SessionEnded {
		return
	}
	if err := r.store.Save(ctx, record); err != nil {
		r.logger.Warnw("failed to mirror session record",
			"session_id", s.id,
			"state", record.State,
			"error", err,
		)
		return
	}

	r.mu.Lock()
	registered := r.sessions[s.id] == s
	r.mu.Unlock()
	if registered {
		return
	}
	if err := r.store.Delete(ctx, s.id); err != nil {
		r.logger.Warnw("failed to delete stale session record",
			"session_id", s.id,
			"error", err,
		)
	}
}
