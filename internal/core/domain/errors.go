package domain

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionEnded         = errors.New("session ended")
	ErrDuplicateBroadcaster = errors.New("owner already has an active session")
	ErrRoleConflict         = errors.New("role conflict")
	ErrSessionFull          = errors.New("session full")
	ErrOutOfOrderDrop       = errors.New("out of order message dropped")
	ErrSlowConsumer         = errors.New("slow consumer")
	ErrInvalid              = errors.New("invalid request")

	ErrNotOwner           = errors.New("not the session owner")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
)
