package signal

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the three message types of the offer/answer/ICE
// exchange.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice_candidate"
)

func (k Kind) Valid() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// SessionDescription carries an SDP blob for offer/answer signals.
type SessionDescription struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// ICECandidate carries one trickled candidate.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// Signal is one unit of the exchange, scoped to a call and addressed to a
// single receiver. Immutable once created.
type Signal struct {
	ID         uuid.UUID           `json:"id"`
	CallID     uuid.UUID           `json:"call_id"`
	SenderID   uuid.UUID           `json:"sender_id"`
	ReceiverID uuid.UUID           `json:"receiver_id"`
	Kind       Kind                `json:"kind"`
	SDP        *SessionDescription `json:"sdp,omitempty"`
	Candidate  *ICECandidate       `json:"candidate,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// NewOffer builds an offer signal from sender to receiver.
func NewOffer(callID, senderID, receiverID uuid.UUID, sdp SessionDescription) Signal {
	return newSignal(callID, senderID, receiverID, KindOffer, &sdp, nil)
}

// NewAnswer builds an answer signal from sender to receiver.
func NewAnswer(callID, senderID, receiverID uuid.UUID, sdp SessionDescription) Signal {
	return newSignal(callID, senderID, receiverID, KindAnswer, &sdp, nil)
}

// NewICECandidate builds a candidate signal from sender to receiver.
func NewICECandidate(callID, senderID, receiverID uuid.UUID, cand ICECandidate) Signal {
	return newSignal(callID, senderID, receiverID, KindICECandidate, nil, &cand)
}

func newSignal(callID, senderID, receiverID uuid.UUID, kind Kind, sdp *SessionDescription, cand *ICECandidate) Signal {
	return Signal{
		ID:         uuid.New(),
		CallID:     callID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Kind:       kind,
		SDP:        sdp,
		Candidate:  cand,
		CreatedAt:  time.Now(),
	}
}
