package httpdto

import (
	"time"

	"peercall/internal/domain/call"
	"peercall/internal/media"
)

// InitiateCallRequest is used for POST /calls
type InitiateCallRequest struct {
	CalleeID     string `json:"callee_id" binding:"required"`
	CalleeName   string `json:"callee_name"`
	CalleeAvatar string `json:"callee_avatar"`
	MediaType    string `json:"media_type" binding:"required"` // "audio" or "video"
}

// CallDTO is the wire form of a call record.
type CallDTO struct {
	ID           string     `json:"id"`
	CallerID     string     `json:"caller_id"`
	CalleeID     string     `json:"callee_id"`
	CallerName   string     `json:"caller_name,omitempty"`
	CalleeName   string     `json:"callee_name,omitempty"`
	CallerAvatar string     `json:"caller_avatar,omitempty"`
	CalleeAvatar string     `json:"callee_avatar,omitempty"`
	MediaType    string     `json:"media_type"`
	Status       string     `json:"status"`
	EndReason    string     `json:"end_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// TrackStateDTO mirrors the local media toggle state.
type TrackStateDTO struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

func FromCall(c call.Call) CallDTO {
	return CallDTO{
		ID:           c.ID.String(),
		CallerID:     c.CallerID.String(),
		CalleeID:     c.CalleeID.String(),
		CallerName:   c.CallerName,
		CalleeName:   c.CalleeName,
		CallerAvatar: c.CallerAvatar,
		CalleeAvatar: c.CalleeAvatar,
		MediaType:    string(c.Media),
		Status:       string(c.Status),
		EndReason:    string(c.EndReason),
		CreatedAt:    c.CreatedAt,
		StartedAt:    c.StartedAt,
		EndedAt:      c.EndedAt,
	}
}

func FromCalls(calls []call.Call) []CallDTO {
	out := make([]CallDTO, 0, len(calls))
	for _, c := range calls {
		out = append(out, FromCall(c))
	}
	return out
}

func FromTrackState(ts media.TrackState) TrackStateDTO {
	return TrackStateDTO{
		AudioEnabled:  ts.AudioEnabled,
		VideoEnabled:  ts.VideoEnabled,
		ScreenSharing: ts.ScreenSharing,
	}
}
