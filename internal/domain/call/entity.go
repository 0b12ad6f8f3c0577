package call

import (
	"time"

	"github.com/google/uuid"
)

// MediaType selects the media acquired for a call. Audio-only calls never
// open the camera.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

func (m MediaType) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

// Status is the lifecycle state of a call. Transitions are monotonic:
// ringing -> connected -> ended, ringing -> rejected, ringing -> ended.
// Nothing leaves a terminal status.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusRejected
}

// CanTransition reports whether moving from s to next is a legal step in
// the lifecycle graph.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRinging:
		return next == StatusConnected || next == StatusEnded || next == StatusRejected
	case StatusConnected:
		return next == StatusEnded
	default:
		return false
	}
}

// EndReason records why a call reached a terminal status.
type EndReason string

const (
	ReasonCompleted      EndReason = "completed"
	ReasonDeclined       EndReason = "declined"
	ReasonTimeout        EndReason = "timeout"
	ReasonCancelled      EndReason = "cancelled"
	ReasonConnectionLost EndReason = "connection_lost"
)

// Call represents one attempted or active session between two users.
// Identity fields are immutable after creation; only Status, EndReason and
// the two transition timestamps ever change.
type Call struct {
	ID           uuid.UUID  `json:"id"`
	CallerID     uuid.UUID  `json:"caller_id"`
	CalleeID     uuid.UUID  `json:"callee_id"`
	CallerName   string     `json:"caller_name"`
	CalleeName   string     `json:"callee_name"`
	CallerAvatar string     `json:"caller_avatar,omitempty"`
	CalleeAvatar string     `json:"callee_avatar,omitempty"`
	Media        MediaType  `json:"media_type"`
	Status       Status     `json:"status"`
	EndReason    EndReason  `json:"end_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// PairKey returns a stable key for the unordered participant pair. Used to
// enforce at most one live call per pair.
func PairKey(a, b uuid.UUID) string {
	if a.String() < b.String() {
		return a.String() + ":" + b.String()
	}
	return b.String() + ":" + a.String()
}

// PeerOf returns the other participant's id, or uuid.Nil when userID is not
// part of the call.
func (c Call) PeerOf(userID uuid.UUID) uuid.UUID {
	switch userID {
	case c.CallerID:
		return c.CalleeID
	case c.CalleeID:
		return c.CallerID
	default:
		return uuid.Nil
	}
}

// Involves reports whether userID participates in the call.
func (c Call) Involves(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.CalleeID
}
