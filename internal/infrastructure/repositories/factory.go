package repositories

import (
	"context"
	"time"

	"livesignal/internal/core/ports"
	"livesignal/internal/infrastructure/repositories/memory"
	redisrepo "livesignal/internal/infrastructure/repositories/redis"
	"livesignal/pkg/circuitbreaker"
	"livesignal/pkg/config"
	"livesignal/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled. A failed connection is
// logged and the factory falls back to in-memory storage.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:    cfg,
		logger: logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(redisrepo.Options{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			ConnectRetry: retry.DefaultConfig(),
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if factory.redisClient == nil {
		logger.Info("using memory repositories")
	}

	return factory
}

// RedisClient returns the shared client, or nil when Redis is not in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// CreateSessionStore returns the Redis store behind a circuit breaker, or an
// in-memory store.
func (f *RepositoryFactory) CreateSessionStore() ports.SessionStore {
	if f.redisClient == nil {
		return memory.NewSessionStore()
	}

	store := redisrepo.NewSessionStore(f.redisClient, f.cfg.Redis.KeyPrefix, f.cfg.Redis.RecordTTL)
	breaker := circuitbreaker.DefaultConfig()
	breaker.Timeout = 10 * time.Second
	return NewGuardedStore(store, breaker, f.logger)
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
