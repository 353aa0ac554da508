package ports

import (
	"context"
	"time"

	"livesignal/internal/core/domain"
)

// Channel is the outbound side of one participant connection. The transport
// drains it with Next until it returns domain.ErrConnectionClosed.
type Channel interface {
	ID() domain.ConnectionID
	SessionID() domain.SessionID
	Role() domain.Role
	Identity() domain.Identity
	Next(ctx context.Context) (*domain.Message, error)
	Done() <-chan struct{}
	CloseReason() domain.CloseReason
}

type SignalingService interface {
	OpenChannel(ctx context.Context, sessionID domain.SessionID, role domain.Role, identity domain.Identity) (Channel, error)
	Send(ctx context.Context, connectionID domain.ConnectionID, msg *domain.Message) error
	Close(connectionID domain.ConnectionID, reason domain.CloseReason)
	NotifyError(ctx context.Context, connectionID domain.ConnectionID, seq uint64, err error)
	Shutdown(ctx context.Context) error
}

type SessionService interface {
	StartSession(ctx context.Context, owner domain.Identity, maxViewers int) (*domain.SessionRecord, error)
	PrepareJoin(ctx context.Context, id domain.SessionID, identity domain.Identity) (*domain.SessionRecord, error)
	StopSession(ctx context.Context, id domain.SessionID, identity domain.Identity) (*domain.SessionRecord, error)
	GetSession(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error)
	ListSessions(ctx context.Context) ([]*domain.SessionRecord, error)
}

// IdentityVerifier resolves an opaque bearer token to an identity.
type IdentityVerifier interface {
	Verify(token string) (domain.Identity, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event *domain.SessionEvent) error
}

type MetricsRecorder interface {
	RecordSessionCreated(id domain.SessionID)
	RecordSessionState(id domain.SessionID, state domain.SessionState)
	RecordSessionEnded(id domain.SessionID, reason domain.EndReason, lifetime time.Duration)
	RecordConnectionOpened(role domain.Role)
	RecordConnectionClosed(role domain.Role, reason domain.CloseReason)
	RecordMessage(kind domain.MessageKind)
	RecordDrop(reason string)
}
