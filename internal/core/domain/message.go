package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ServerSender is the sender id stamped on messages the coordinator originates.
const ServerSender ConnectionID = "server"

// MaxSeq is the largest client seq accepted, the largest integer a JSON
// number carries exactly in a browser.
const MaxSeq = 1<<53 - 1

type MessageKind string

const (
	KindOffer        MessageKind = "offer"
	KindAnswer       MessageKind = "answer"
	KindICECandidate MessageKind = "ice-candidate"
	KindChat         MessageKind = "chat"
	KindControl      MessageKind = "control"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate, KindChat, KindControl:
		return true
	}
	return false
}

// Negotiation reports whether the kind is relayed point-to-point.
func (k MessageKind) Negotiation() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// Critical messages are never evicted from an outbound buffer.
func (k MessageKind) Critical() bool {
	return k != KindChat
}

func (k *MessageKind) UnmarshalText(text []byte) error {
	kind := MessageKind(text)
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown message kind %q", ErrInvalid, text)
	}
	*k = kind
	return nil
}

// Message is the signaling envelope. It is immutable once handed to Send and
// may be shared between recipients.
type Message struct {
	Sender  ConnectionID    `json:"senderConnectionId"`
	Kind    MessageKind     `json:"kind"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeMessage parses a wire frame. Unknown kinds are rejected.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		if errors.Is(err, ErrInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: malformed message: %v", ErrInvalid, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PeekSeq returns the seq of a frame that may not decode as a Message, or 0
// when none can be read.
func PeekSeq(data []byte) uint64 {
	var frame struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return 0
	}
	return frame.Seq
}

func (m *Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: message kind is required", ErrInvalid)
	}
	if m.Seq == 0 {
		return fmt.Errorf("%w: seq must start at 1", ErrInvalid)
	}
	if m.Seq > MaxSeq {
		return fmt.Errorf("%w: seq must not exceed %d", ErrInvalid, uint64(MaxSeq))
	}
	if m.Kind != KindChat && len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s payload is required", ErrInvalid, m.Kind)
	}
	return nil
}

// ControlAction is the action field of a client control payload.
type ControlAction string

const (
	ActionHeartbeat ControlAction = "heartbeat"
	ActionStop      ControlAction = "stop"
	ActionAck       ControlAction = "ack"
)

type ControlPayload struct {
	Action ControlAction   `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// EventName identifies a control event originated by the coordinator.
type EventName string

const (
	EventWelcome           EventName = "welcome"
	EventParticipantJoined EventName = "participant-joined"
	EventParticipantLeft   EventName = "participant-left"
	EventSessionLive       EventName = "session-live"
	EventSessionEnding     EventName = "session-ending"
	EventSessionEnded      EventName = "session-ended"
	EventError             EventName = "error"
)

// ControlEvent is the payload of server-originated control messages.
type ControlEvent struct {
	Event        EventName     `json:"event"`
	SessionID    SessionID     `json:"sessionId,omitempty"`
	ConnectionID ConnectionID  `json:"connectionId,omitempty"`
	Role         Role          `json:"role,omitempty"`
	Identity     Identity      `json:"identity,omitempty"`
	State        string        `json:"state,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	GraceMillis  int64         `json:"graceMs,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Code         string        `json:"code,omitempty"`
	Message      string        `json:"message,omitempty"`
	Seq          uint64        `json:"seq,omitempty"`
}

// NewControlMessage wraps an event in a server envelope.
func NewControlMessage(seq uint64, ev *ControlEvent) *Message {
	payload, _ := json.Marshal(ev)
	return &Message{
		Sender:  ServerSender,
		Kind:    KindControl,
		Seq:     seq,
		Payload: payload,
	}
}
