// Package media owns local media acquisition, the peer connection and
// track lifecycle for one side of one call. The platform primitives are
// behind small interfaces so the session logic is testable without
// hardware; the pion-backed implementations live in webrtc.go and the
// stack_* files.
package media

import (
	"context"

	"peercall/internal/domain/call"
	"peercall/internal/domain/signal"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is a capture track (camera, microphone or screen) that can be
// attached to a peer connection. Enabled state may change without a
// notification on some platforms; consumers poll via Enabled.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// OnEnded registers a callback fired when the platform stops the track
	// out-of-band (device unplugged, user ends a screen share natively).
	OnEnded(fn func())
	Close() error
}

// RemoteTrack describes media received from the far side.
type RemoteTrack struct {
	ID   string
	Kind TrackKind
}

// Sender is the outbound binding of one local track. ReplaceTrack swaps
// the media source in place, without renegotiation.
type Sender interface {
	Track() LocalTrack
	ReplaceTrack(t LocalTrack) error
}

// ConnectionState mirrors the peer connection state transitions the
// lifecycle layer cares about.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Fatal reports whether the state must drive the call to ended.
func (s ConnectionState) Fatal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}

// PeerConnection abstracts the platform peer-connection primitive:
// offer/answer SDP exchange, trickled ICE and track transport. Callback
// registration must happen before the exchange starts; callbacks fire on
// arbitrary goroutines, zero or more times, possibly after Close.
type PeerConnection interface {
	AddTrack(t LocalTrack) (Sender, error)
	CreateOffer(ctx context.Context) (signal.SessionDescription, error)
	CreateAnswer(ctx context.Context) (signal.SessionDescription, error)
	SetLocalDescription(desc signal.SessionDescription) error
	SetRemoteDescription(desc signal.SessionDescription) error
	AddICECandidate(cand signal.ICECandidate) error
	OnICECandidate(fn func(signal.ICECandidate))
	OnTrack(fn func(RemoteTrack))
	OnConnectionStateChange(fn func(ConnectionState))
	Close() error
}

// Devices acquires local capture tracks.
type Devices interface {
	// OpenUserMedia opens microphone (audio calls) or camera+microphone
	// (video calls).
	OpenUserMedia(media call.MediaType) ([]LocalTrack, error)
	// OpenDisplayMedia opens a screen/window capture video track.
	OpenDisplayMedia() (LocalTrack, error)
}

// Connector builds peer connections configured with STUN servers.
type Connector interface {
	NewPeerConnection(stunServers []string) (PeerConnection, error)
}

// TrackState is a poll-friendly snapshot of local track flags.
type TrackState struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}
