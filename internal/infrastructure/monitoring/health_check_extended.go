package monitoring

import (
	"context"
	"fmt"
	"time"

	"livesignal/internal/core/ports"
	"livesignal/pkg/circuitbreaker"
)

// breakerGuarded is implemented by stores behind a circuit breaker.
type breakerGuarded interface {
	Breaker() *circuitbreaker.CircuitBreaker
}

// AddStoreCheck verifies the session metadata store can list sessions. A
// store whose circuit breaker is open is reported unhealthy without being
// called.
func (h *HealthChecker) AddStoreCheck(store ports.SessionStore, timeout time.Duration) {
	h.AddCheck("session_store", func(ctx context.Context) error {
		if guarded, ok := store.(breakerGuarded); ok {
			if cb := guarded.Breaker(); cb.GetState() == circuitbreaker.StateOpen {
				stats := cb.GetStats()
				return fmt.Errorf("circuit breaker open since %s",
					stats.StateChangeTime.UTC().Format(time.RFC3339))
			}
		}
		_, err := store.ListActive(ctx)
		return err
	}, timeout)
}
