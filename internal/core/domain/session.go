package domain

import (
	"fmt"
	"time"
)

type SessionID string

// Identity is the opaque user identity resolved from a bearer token.
type Identity string

type SessionState int32

const (
	SessionCreated SessionState = iota
	SessionLive
	SessionEnding
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionLive:
		return "live"
	case SessionEnding:
		return "ending"
	case SessionEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Active reports whether the session still accepts a broadcaster and viewers.
func (s SessionState) Active() bool {
	return s == SessionCreated || s == SessionLive
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "created":
		*s = SessionCreated
	case "live":
		*s = SessionLive
	case "ending":
		*s = SessionEnding
	case "ended":
		*s = SessionEnded
	default:
		return fmt.Errorf("%w: unknown session state %q", ErrInvalid, text)
	}
	return nil
}

// EndReason records why a session left the Live state.
type EndReason string

const (
	EndReasonStopped         EndReason = "stopped"
	EndReasonBroadcasterLeft EndReason = "broadcaster-left"
	EndReasonIdleTimeout     EndReason = "idle-timeout"
	EndReasonShutdown        EndReason = "shutdown"
)

// SessionRecord is the serialisable snapshot of a session, mirrored to the
// metadata store and returned by the control plane.
type SessionRecord struct {
	ID          SessionID    `json:"sessionId"`
	Owner       Identity     `json:"owner"`
	State       SessionState `json:"state"`
	MaxViewers  int          `json:"maxViewers"`
	ViewerCount int          `json:"viewerCount"`
	Broadcaster ConnectionID `json:"broadcaster,omitempty"`
	EndReason   EndReason    `json:"endReason,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	LiveAt      *time.Time   `json:"liveAt,omitempty"`
	EndedAt     *time.Time   `json:"endedAt,omitempty"`
}

// Participant describes one attached connection of a session.
type Participant struct {
	ConnectionID ConnectionID `json:"connectionId"`
	Role         Role         `json:"role"`
	Identity     Identity     `json:"identity"`
}
