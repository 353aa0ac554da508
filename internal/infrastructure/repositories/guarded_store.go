package repositories

import (
	"context"
	"errors"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// guardedStore routes store calls through a circuit breaker so a failing
// backend is skipped quickly instead of stalling session operations.
type guardedStore struct {
	next    ports.SessionStore
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedStore wraps next with a circuit breaker. A missing session is not
// a backend failure.
func NewGuardedStore(next ports.SessionStore, cfg circuitbreaker.Config, logger *zap.SugaredLogger) ports.SessionStore {
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, domain.ErrSessionNotFound)
	}
	breaker := circuitbreaker.New(cfg)
	if logger != nil {
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Warnw("session store circuit breaker changed state", "from", from.String(), "to", to.String())
		})
	}
	return &guardedStore{next: next, breaker: breaker}
}

func (g *guardedStore) Save(ctx context.Context, record *domain.SessionRecord) error {
	return g.breaker.Execute(ctx, func() error {
		return g.next.Save(ctx, record)
	})
}

func (g *guardedStore) Get(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	return circuitbreaker.Do(ctx, g.breaker, func() (*domain.SessionRecord, error) {
		return g.next.Get(ctx, id)
	})
}

func (g *guardedStore) Delete(ctx context.Context, id domain.SessionID) error {
	return g.breaker.Execute(ctx, func() error {
		return g.next.Delete(ctx, id)
	})
}

func (g *guardedStore) ListActive(ctx context.Context) ([]*domain.SessionRecord, error) {
	return circuitbreaker.Do(ctx, g.breaker, func() ([]*domain.SessionRecord, error) {
		return g.next.ListActive(ctx)
	})
}

// Breaker exposes the circuit breaker for health reporting.
func (g *guardedStore) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}
