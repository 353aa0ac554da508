package services

import (
	"context"
	"testing"

	"livesignal/internal/core/domain"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newViewer(sessionID domain.SessionID, identity domain.Identity) *Connection {
	return newConnection(domain.ConnectionID(ulid.Make().String()), sessionID, domain.RoleViewer, identity, 16, 4)
}

func newTestFanout(t *testing.T) (*Registry, *FanoutCoordinator, *eventRecorder) {
	t.Helper()
	events := &eventRecorder{}
	registry := NewRegistry(nil, zap.NewNop().Sugar())
	return registry, NewFanoutCoordinator(registry, events, nil, nil), events
}

func TestFanout_AttachThenDetach(t *testing.T) {
	registry, fanout, events := newTestFanout(t)
	ctx := context.Background()
	s, err := registry.CreateSession(ctx, "owner", 0)
	require.NoError(t, err)

	existing := newViewer(s.ID(), "existing")
	require.NoError(t, fanout.AttachViewer(ctx, s.ID(), existing))
	drain(existing)
	before := len(s.Participants())

	v := newViewer(s.ID(), "guest")
	require.NoError(t, fanout.AttachViewer(ctx, s.ID(), v))
	require.NoError(t, fanout.DetachViewer(ctx, s.ID(), v.ID()))
	require.NoError(t, fanout.DetachViewer(ctx, s.ID(), v.ID()))

	assert.Equal(t, before, len(s.Participants()))

	evs := controlEvents(t, drain(existing))
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventParticipantJoined, evs[0].Event)
	assert.Equal(t, domain.EventParticipantLeft, evs[1].Event)
	assert.Equal(t, v.ID(), evs[0].ConnectionID)
	assert.Equal(t, v.ID(), evs[1].ConnectionID)

	welcome := controlEvents(t, drain(v))
	require.Len(t, welcome, 1)
	assert.Equal(t, domain.EventWelcome, welcome[0].Event)
	assert.Len(t, welcome[0].Participants, 2)

	assert.Equal(t, []domain.SessionEventType{
		domain.SessionEventParticipantJoined,
		domain.SessionEventParticipantJoined,
		domain.SessionEventParticipantLeft,
	}, events.types())
}

func TestFanout_CapacityIsEnforced(t *testing.T) {
	registry, fanout, _ := newTestFanout(t)
	ctx := context.Background()
	s, err := registry.CreateSession(ctx, "owner", 2)
	require.NoError(t, err)

	require.NoError(t, fanout.AttachViewer(ctx, s.ID(), newViewer(s.ID(), "a")))
	require.NoError(t, fanout.AttachViewer(ctx, s.ID(), newViewer(s.ID(), "b")))

	err = fanout.AttachViewer(ctx, s.ID(), newViewer(s.ID(), "c"))
	assert.ErrorIs(t, err, domain.ErrSessionFull)
	assert.Equal(t, 2, s.Record().ViewerCount)

	_, err = fanout.CanAttach(s.ID())
	assert.ErrorIs(t, err, domain.ErrSessionFull)
}

func TestFanout_AttachToEndingSession(t *testing.T) {
	registry, fanout, _ := newTestFanout(t)
	ctx := context.Background()
	s, err := registry.CreateSession(ctx, "owner", 0)
	require.NoError(t, err)

	s.mu.Lock()
	require.NoError(t, s.transitionLocked(domain.SessionEnding))
	s.mu.Unlock()

	err = fanout.AttachViewer(ctx, s.ID(), newViewer(s.ID(), "late"))
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	_, err = fanout.CanAttach(s.ID())
	assert.ErrorIs(t, err, domain.ErrSessionEnded)

	err = fanout.AttachViewer(ctx, "missing", newViewer("missing", "late"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestFanout_AttachRefusesOwner(t *testing.T) {
	registry, fanout, events := newTestFanout(t)
	ctx := context.Background()
	s, err := registry.CreateSession(ctx, "owner", 0)
	require.NoError(t, err)
	before := len(s.Participants())
	published := len(events.types())

	err = fanout.AttachViewer(ctx, s.ID(), newViewer(s.ID(), "owner"))
	assert.ErrorIs(t, err, domain.ErrRoleConflict)
	assert.Equal(t, before, len(s.Participants()))
	assert.Len(t, events.types(), published)
}

func TestFanout_BroadcastSkipsExcluded(t *testing.T) {
	registry, fanout, _ := newTestFanout(t)
	ctx := context.Background()
	s, err := registry.CreateSession(ctx, "owner", 0)
	require.NoError(t, err)

	a := newViewer(s.ID(), "a")
	b := newViewer(s.ID(), "b")
	require.NoError(t, fanout.AttachViewer(ctx, s.ID(), a))
	require.NoError(t, fanout.AttachViewer(ctx, s.ID(), b))
	drain(a)
	drain(b)

	msg := chatMsg(1, "hi")
	msg.Sender = a.ID()
	require.NoError(t, fanout.Broadcast(ctx, s.ID(), msg, a.ID()))

	assert.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	assert.Same(t, msg, got[0])

	assert.ErrorIs(t, fanout.Broadcast(ctx, "missing", msg, ""), domain.ErrSessionNotFound)
}
