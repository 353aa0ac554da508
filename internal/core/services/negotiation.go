package services

import (
	"encoding/json"
	"fmt"

	"livesignal/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// negotiationPayload is the payload of offer, answer and ice-candidate
// messages. The coordinator only inspects it; the original bytes are what
// gets relayed.
type negotiationPayload struct {
	To          domain.ConnectionID        `json:"to"`
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func parseNegotiation(msg *domain.Message) (*negotiationPayload, error) {
	var p negotiationPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed %s payload: %v", domain.ErrInvalid, msg.Kind, err)
	}
	if p.To == "" {
		return nil, fmt.Errorf("%w: %s payload needs a recipient", domain.ErrInvalid, msg.Kind)
	}

	switch msg.Kind {
	case domain.KindOffer, domain.KindAnswer:
		if p.Description == nil {
			return nil, fmt.Errorf("%w: %s payload needs a description", domain.ErrInvalid, msg.Kind)
		}
		want := webrtc.SDPTypeOffer
		if msg.Kind == domain.KindAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if p.Description.Type != want {
			return nil, fmt.Errorf("%w: %s carries a %s description", domain.ErrInvalid, msg.Kind, p.Description.Type)
		}
		if _, err := p.Description.Unmarshal(); err != nil {
			return nil, fmt.Errorf("%w: invalid sdp: %v", domain.ErrInvalid, err)
		}
	case domain.KindICECandidate:
		if p.Candidate == nil {
			return nil, fmt.Errorf("%w: ice-candidate payload needs a candidate", domain.ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: %s is not a negotiation kind", domain.ErrInvalid, msg.Kind)
	}
	return &p, nil
}
