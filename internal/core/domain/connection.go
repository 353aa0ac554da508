package domain

import "fmt"

type ConnectionID string

type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleBroadcaster, RoleViewer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalid, s)
	}
}

type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnActive
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnActive:
		return "active"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// CloseReason tells why a participant connection was closed.
type CloseReason string

const (
	CloseReasonClientClosed   CloseReason = "client-closed"
	CloseReasonSessionEnded   CloseReason = "session-ended"
	CloseReasonSlowConsumer   CloseReason = "slow-consumer"
	CloseReasonTransportError CloseReason = "transport-error"
	CloseReasonShutdown       CloseReason = "shutdown"
)
