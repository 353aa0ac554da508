package domain

import "time"

type SessionEventType string

const (
	SessionEventCreated           SessionEventType = "session.created"
	SessionEventLive              SessionEventType = "session.live"
	SessionEventEnding            SessionEventType = "session.ending"
	SessionEventEnded             SessionEventType = "session.ended"
	SessionEventParticipantJoined SessionEventType = "participant.joined"
	SessionEventParticipantLeft   SessionEventType = "participant.left"
)

// SessionEvent is published to the event bus on lifecycle changes.
type SessionEvent struct {
	Type         SessionEventType `json:"type"`
	InstanceID   string           `json:"instanceId,omitempty"`
	SessionID    SessionID        `json:"sessionId"`
	Owner        Identity         `json:"owner,omitempty"`
	ConnectionID ConnectionID     `json:"connectionId,omitempty"`
	Role         Role             `json:"role,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}
