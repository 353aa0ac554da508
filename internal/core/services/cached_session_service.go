package services

import (
	"context"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/cache"
)

const sessionListKey = "sessions:list"

func sessionCacheKey(id domain.SessionID) string {
	return "session:" + string(id)
}

// SessionCache holds read-side session snapshots for the control plane.
// Entries are dropped on every lifecycle event for their session.
type SessionCache struct {
	records *cache.Cache[*domain.SessionRecord]
	lists   *cache.Cache[[]*domain.SessionRecord]
}

func NewSessionCache(ttl time.Duration) *SessionCache {
	return &SessionCache{
		records: cache.New[*domain.SessionRecord](ttl),
		lists:   cache.New[[]*domain.SessionRecord](ttl),
	}
}

// Invalidate drops the cached snapshot of id and the session listing.
func (c *SessionCache) Invalidate(id domain.SessionID) {
	c.records.Delete(sessionCacheKey(id))
	c.lists.Delete(sessionListKey)
}

// HandleEvent invalidates on events received from other instances.
func (c *SessionCache) HandleEvent(event *domain.SessionEvent) error {
	c.Invalidate(event.SessionID)
	return nil
}

// Publisher returns an EventPublisher that invalidates the cache and then
// forwards to next, which may be nil.
func (c *SessionCache) Publisher(next ports.EventPublisher) ports.EventPublisher {
	return &invalidatingPublisher{cache: c, next: next}
}

func (c *SessionCache) Stop() {
	c.records.Stop()
	c.lists.Stop()
}

type invalidatingPublisher struct {
	cache *SessionCache
	next  ports.EventPublisher
}

func (p *invalidatingPublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	p.cache.Invalidate(event.SessionID)
	if p.next == nil {
		return nil
	}
	return p.next.Publish(ctx, event)
}

// CachedSessionService wraps a SessionService with cached reads
type CachedSessionService struct {
	base  ports.SessionService
	cache *SessionCache
}

func NewCachedSessionService(base ports.SessionService, cache *SessionCache) ports.SessionService {
	return &CachedSessionService{
		base:  base,
		cache: cache,
	}
}

func (s *CachedSessionService) StartSession(ctx context.Context, owner domain.Identity, maxViewers int) (*domain.SessionRecord, error) {
	record, err := s.base.StartSession(ctx, owner, maxViewers)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(record.ID)
	return record, nil
}

func (s *CachedSessionService) PrepareJoin(ctx context.Context, id domain.SessionID, identity domain.Identity) (*domain.SessionRecord, error) {
	return s.base.PrepareJoin(ctx, id, identity)
}

func (s *CachedSessionService) StopSession(ctx context.Context, id domain.SessionID, identity domain.Identity) (*domain.SessionRecord, error) {
	record, err := s.base.StopSession(ctx, id, identity)
	s.cache.Invalidate(id)
	return record, err
}

func (s *CachedSessionService) GetSession(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	return s.cache.records.GetOrLoad(ctx, sessionCacheKey(id), func(ctx context.Context) (*domain.SessionRecord, error) {
		return s.base.GetSession(ctx, id)
	})
}

func (s *CachedSessionService) ListSessions(ctx context.Context) ([]*domain.SessionRecord, error) {
	return s.cache.lists.GetOrLoad(ctx, sessionListKey, func(ctx context.Context) ([]*domain.SessionRecord, error) {
		return s.base.ListSessions(ctx)
	})
}
