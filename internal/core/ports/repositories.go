package ports

import (
	"context"

	"livesignal/internal/core/domain"
)

// SessionStore is the persistent metadata store the registry mirrors to.
type SessionStore interface {
	Save(ctx context.Context, record *domain.SessionRecord) error
	Get(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error)
	Delete(ctx context.Context, id domain.SessionID) error
	ListActive(ctx context.Context) ([]*domain.SessionRecord, error)
}
