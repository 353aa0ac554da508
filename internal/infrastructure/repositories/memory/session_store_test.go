package memory

import (
	"context"
	"testing"
	"time"

	"livesignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_CRUD(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	now := time.Now()

	rec := &domain.SessionRecord{ID: "s1", Owner: "alice", State: domain.SessionCreated, CreatedAt: now}
	require.NoError(t, store.Save(ctx, rec))

	// stored records are copies
	rec.State = domain.SessionLive
	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCreated, got.State)

	require.NoError(t, store.Save(ctx, rec))
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionLive, got.State)

	require.NoError(t, store.Delete(ctx, "s1"))
	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_ListActive(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, &domain.SessionRecord{ID: "late", State: domain.SessionLive, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, store.Save(ctx, &domain.SessionRecord{ID: "early", State: domain.SessionEnding, CreatedAt: now}))
	require.NoError(t, store.Save(ctx, &domain.SessionRecord{ID: "gone", State: domain.SessionEnded, CreatedAt: now}))

	list, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SessionID("early"), list[0].ID)
	assert.Equal(t, domain.SessionID("late"), list[1].ID)
}
