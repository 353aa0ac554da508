package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const backend = "redis"

func sessionKey(prefix string, id domain.SessionID) string {
	return prefix + "session:" + string(id)
}

// activeSessionsKey is a sorted set of non-ended session ids scored by
// creation time.
func activeSessionsKey(prefix string) string {
	return prefix + "sessions:active"
}

// SessionStore mirrors session records to Redis so every instance can
// resolve sessions it does not host.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSessionStore creates a store. Records expire after ttl unless saved
// again; ttl <= 0 keeps them until deleted.
func NewSessionStore(client redis.UniversalClient, prefix string, ttl time.Duration) ports.SessionStore {
	return &SessionStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *SessionStore) Save(ctx context.Context, record *domain.SessionRecord) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "save", backend)
	defer span.End()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	activeKey := activeSessionsKey(r.prefix)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(r.prefix, record.ID), data, r.ttl)
		if record.State == domain.SessionEnded {
			pipe.ZRem(ctx, activeKey, string(record.ID))
		} else {
			pipe.ZAdd(ctx, activeKey, redis.Z{
				Score:  float64(record.CreatedAt.UnixNano()),
				Member: string(record.ID),
			})
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to save session in Redis: %w", err)
	}
	return nil
}

func (r *SessionStore) Get(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "get", backend)
	defer span.End()

	data, err := r.client.Get(ctx, sessionKey(r.prefix, id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var record domain.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &record, nil
}

func (r *SessionStore) Delete(ctx context.Context, id domain.SessionID) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "delete", backend)
	defer span.End()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, activeSessionsKey(r.prefix), string(id))
		pipe.Del(ctx, sessionKey(r.prefix, id))
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

// ListActive returns non-ended sessions oldest first. Index entries whose
// record has expired are pruned.
func (r *SessionStore) ListActive(ctx context.Context) ([]*domain.SessionRecord, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "list_active", backend)
	defer span.End()

	activeKey := activeSessionsKey(r.prefix)
	ids, err := r.client.ZRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get active sessions from Redis: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.SessionRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(r.prefix, domain.SessionID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to load active sessions from Redis: %w", err)
	}

	records := make([]*domain.SessionRecord, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var record domain.SessionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		if record.State == domain.SessionEnded {
			continue
		}
		records = append(records, &record)
	}

	if len(stale) > 0 {
		// best effort; the next listing retries
		_ = r.client.ZRem(ctx, activeKey, stale...).Err()
	}
	return records, nil
}
