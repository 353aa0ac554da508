package services

import (
	"testing"

	"livesignal/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNegotiation(t *testing.T) {
	tests := []struct {
		name    string
		msg     *domain.Message
		wantErr bool
	}{
		{name: "offer", msg: descriptionMsg(domain.KindOffer, 1, "peer")},
		{name: "answer", msg: descriptionMsg(domain.KindAnswer, 1, "peer")},
		{name: "candidate", msg: candidateMsg(1, "peer")},
		{
			name:    "missing recipient",
			msg:     &domain.Message{Kind: domain.KindOffer, Seq: 1, Payload: []byte(`{"description":{"type":"offer","sdp":"v=0"}}`)},
			wantErr: true,
		},
		{
			name:    "missing description",
			msg:     &domain.Message{Kind: domain.KindAnswer, Seq: 1, Payload: []byte(`{"to":"peer"}`)},
			wantErr: true,
		},
		{
			name:    "unknown sdp type",
			msg:     &domain.Message{Kind: domain.KindOffer, Seq: 1, Payload: []byte(`{"to":"peer","description":{"type":"bogus","sdp":"v=0"}}`)},
			wantErr: true,
		},
		{
			name:    "unparseable sdp",
			msg:     &domain.Message{Kind: domain.KindOffer, Seq: 1, Payload: []byte(`{"to":"peer","description":{"type":"offer","sdp":"not sdp"}}`)},
			wantErr: true,
		},
		{
			name:    "missing candidate",
			msg:     &domain.Message{Kind: domain.KindICECandidate, Seq: 1, Payload: []byte(`{"to":"peer"}`)},
			wantErr: true,
		},
		{
			name:    "not json",
			msg:     &domain.Message{Kind: domain.KindOffer, Seq: 1, Payload: []byte(`"offer"`)},
			wantErr: true,
		},
		{
			name:    "chat is not negotiation",
			msg:     &domain.Message{Kind: domain.KindChat, Seq: 1, Payload: []byte(`{"to":"peer"}`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseNegotiation(tt.msg)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.ConnectionID("peer"), p.To)
		})
	}
}

func TestParseNegotiation_DescriptionType(t *testing.T) {
	p, err := parseNegotiation(descriptionMsg(domain.KindAnswer, 1, "peer"))
	require.NoError(t, err)
	require.NotNil(t, p.Description)
	assert.Equal(t, webrtc.SDPTypeAnswer, p.Description.Type)
	assert.Equal(t, testSDP, p.Description.SDP)
}
