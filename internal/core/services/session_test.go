package services

import (
	"testing"

	"livesignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestSession_Transitions(t *testing.T) {
	tests := []struct {
		from, to domain.SessionState
		allowed  bool
	}{
		{domain.SessionCreated, domain.SessionLive, true},
		{domain.SessionCreated, domain.SessionEnding, true},
		{domain.SessionCreated, domain.SessionEnded, true},
		{domain.SessionLive, domain.SessionEnding, true},
		{domain.SessionLive, domain.SessionEnded, true},
		{domain.SessionEnding, domain.SessionEnded, true},
		{domain.SessionLive, domain.SessionCreated, false},
		{domain.SessionEnding, domain.SessionLive, false},
		{domain.SessionEnded, domain.SessionCreated, false},
		{domain.SessionEnded, domain.SessionEnded, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			s := newSession("s", "owner", 0)
			s.state.Store(int32(tt.from))

			s.mu.Lock()
			err := s.transitionLocked(tt.to)
			s.mu.Unlock()

			if tt.allowed {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, s.State())
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalid)
				assert.Equal(t, tt.from, s.State())
			}
		})
	}
}

func TestSession_RecordSnapshot(t *testing.T) {
	s := newSession("s", "owner", 3)
	b := newConnection("01B", "s", domain.RoleBroadcaster, "owner", 4, 4)
	v := newConnection("01V", "s", domain.RoleViewer, "viewer", 4, 4)

	s.mu.Lock()
	s.broadcaster = b
	s.viewers[v.id] = v
	s.mu.Unlock()

	rec := s.Record()
	assert.Equal(t, domain.SessionID("s"), rec.ID)
	assert.Equal(t, 3, rec.MaxViewers)
	assert.Equal(t, 1, rec.ViewerCount)
	assert.Equal(t, b.ID(), rec.Broadcaster)

	participants := s.Participants()
	assert.Equal(t, []domain.Participant{
		{ConnectionID: "01B", Role: domain.RoleBroadcaster, Identity: "owner"},
		{ConnectionID: "01V", Role: domain.RoleViewer, Identity: "viewer"},
	}, participants)
}
