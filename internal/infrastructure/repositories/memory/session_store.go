package memory

import (
	"context"
	"sort"
	"sync"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
)

// SessionStore keeps session records in process memory. It backs a single
// instance deployment and the tests.
type SessionStore struct {
	records map[domain.SessionID]*domain.SessionRecord
	mu      sync.RWMutex
}

func NewSessionStore() ports.SessionStore {
	return &SessionStore{
		records: make(map[domain.SessionID]*domain.SessionRecord),
	}
}

func (s *SessionStore) Save(ctx context.Context, record *domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	cp := *record
	return &cp, nil
}

// Delete is idempotent.
func (s *SessionStore) Delete(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// ListActive returns records that have not ended, oldest first.
func (s *SessionStore) ListActive(ctx context.Context) ([]*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*domain.SessionRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.State != domain.SessionEnded {
			cp := *record
			active = append(active, &cp)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}
