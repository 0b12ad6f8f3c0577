package media

import (
	"fmt"
	"sync"

	"peercall/internal/domain/call"
	"peercall/internal/domain/signal"
	peercall_errors "peercall/pkg/errors"
	"peercall/pkg/logger"
)

// Session owns the local stream, the peer connection and the
// camera/screen substitution state for one side of one call. It is
// exclusively owned by that call's coordinator and torn down exactly once
// when the call reaches a terminal status.
type Session struct {
	log       *logger.Logger
	devices   Devices
	connector Connector
	media     call.MediaType

	mu          sync.Mutex
	acquired    bool
	closed      bool
	local       []LocalTrack
	audioTrack  LocalTrack
	videoTrack  LocalTrack
	pc          PeerConnection
	videoSender Sender
	cameraTrack LocalTrack
	shareTrack  LocalTrack
	sharing     bool
	remote      []RemoteTrack

	onCandidate func(signal.ICECandidate)
	onRemote    func(RemoteTrack)
	onConnState func(ConnectionState)
}

func NewSession(devices Devices, connector Connector, media call.MediaType, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewNop()
	}
	return &Session{
		log:       log,
		devices:   devices,
		connector: connector,
		media:     media,
	}
}

// OnLocalCandidate registers the handler for locally produced ICE
// candidates. Must be set before CreatePeerConnection.
func (s *Session) OnLocalCandidate(fn func(signal.ICECandidate)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

// OnRemoteTrack registers the handler fired when the far side adds media.
func (s *Session) OnRemoteTrack(fn func(RemoteTrack)) {
	s.mu.Lock()
	s.onRemote = fn
	s.mu.Unlock()
}

// OnConnectionState registers the handler for connection state changes.
func (s *Session) OnConnectionState(fn func(ConnectionState)) {
	s.mu.Lock()
	s.onConnState = fn
	s.mu.Unlock()
}

// AcquireLocalMedia opens the microphone, plus the camera for video calls.
// Calling it twice without an intervening teardown is a programming error.
func (s *Session) AcquireLocalMedia() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return peercall_errors.ErrSessionClosed
	}
	if s.acquired {
		s.mu.Unlock()
		return fmt.Errorf("local media already acquired: %w", peercall_errors.ErrInvalidInput)
	}
	s.acquired = true
	s.mu.Unlock()

	tracks, err := s.devices.OpenUserMedia(s.media)
	if err != nil {
		s.mu.Lock()
		s.acquired = false
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", peercall_errors.ErrMediaAccess, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Torn down while the acquisition was in flight; release
		// immediately instead of resurrecting state.
		for _, t := range tracks {
			_ = t.Close()
		}
		return peercall_errors.ErrSessionClosed
	}
	s.local = tracks
	for _, t := range tracks {
		switch t.Kind() {
		case TrackAudio:
			s.audioTrack = t
		case TrackVideo:
			s.videoTrack = t
		}
	}
	return nil
}

// CreatePeerConnection builds the connection and wires the three callback
// contracts. Callbacks arriving after teardown are discarded here, not
// dispatched.
func (s *Session) CreatePeerConnection(stunServers []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return peercall_errors.ErrSessionClosed
	}
	if s.pc != nil {
		s.mu.Unlock()
		return fmt.Errorf("peer connection already created: %w", peercall_errors.ErrInvalidInput)
	}
	s.mu.Unlock()

	pc, err := s.connector.NewPeerConnection(stunServers)
	if err != nil {
		return fmt.Errorf("%w: %v", peercall_errors.ErrPeerConnection, err)
	}

	pc.OnICECandidate(func(cand signal.ICECandidate) {
		s.mu.Lock()
		fn := s.onCandidate
		closed := s.closed
		s.mu.Unlock()
		if closed || fn == nil {
			return
		}
		fn(cand)
	})
	pc.OnTrack(func(rt RemoteTrack) {
		s.mu.Lock()
		closed := s.closed
		if !closed {
			s.remote = append(s.remote, rt)
		}
		fn := s.onRemote
		s.mu.Unlock()
		if closed || fn == nil {
			return
		}
		fn(rt)
	})
	pc.OnConnectionStateChange(func(state ConnectionState) {
		s.mu.Lock()
		fn := s.onConnState
		closed := s.closed
		s.mu.Unlock()
		if closed || fn == nil {
			return
		}
		fn(state)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = pc.Close()
		return peercall_errors.ErrSessionClosed
	}
	s.pc = pc
	return nil
}

// AddLocalTracks attaches every acquired local track for outbound
// transmission.
func (s *Session) AddLocalTracks() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return peercall_errors.ErrSessionClosed
	}
	if s.pc == nil {
		return fmt.Errorf("peer connection not created: %w", peercall_errors.ErrInvalidInput)
	}
	for _, t := range s.local {
		sender, err := s.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("%w: add track: %v", peercall_errors.ErrPeerConnection, err)
		}
		if t.Kind() == TrackVideo {
			s.videoSender = sender
		}
	}
	return nil
}

// PeerConnection exposes the underlying connection to the coordinator.
func (s *Session) PeerConnection() PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

// ToggleAudio flips the audio track's enabled flag and returns the new
// value. No-op returning false when there is no audio track.
func (s *Session) ToggleAudio() bool {
	return s.toggle(func() LocalTrack { return s.audioTrack })
}

// ToggleVideo flips the camera track's enabled flag and returns the new
// value. No-op returning false for audio-only calls.
func (s *Session) ToggleVideo() bool {
	return s.toggle(func() LocalTrack { return s.videoTrack })
}

func (s *Session) toggle(pick func() LocalTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := pick()
	if s.closed || t == nil {
		return false
	}
	next := !t.Enabled()
	t.SetEnabled(next)
	return next
}

// SetAudioEnabled sets the audio flag directly. No-op without a track.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.setEnabled(func() LocalTrack { return s.audioTrack }, enabled)
}

// SetVideoEnabled sets the camera flag directly. No-op without a track.
func (s *Session) SetVideoEnabled(enabled bool) {
	s.setEnabled(func() LocalTrack { return s.videoTrack }, enabled)
}

func (s *Session) setEnabled(pick func() LocalTrack, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := pick()
	if s.closed || t == nil {
		return
	}
	t.SetEnabled(enabled)
}

// StartScreenShare opens a screen capture track and substitutes it for the
// outbound camera track in place. The camera track keeps running so
// StopScreenShare can restore it instantly. Ending the capture natively
// (platform UI) stops the share automatically.
func (s *Session) StartScreenShare() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return peercall_errors.ErrSessionClosed
	}
	if s.sharing {
		s.mu.Unlock()
		return nil
	}
	sender := s.videoSender
	s.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("no outbound video track to substitute: %w", peercall_errors.ErrInvalidInput)
	}

	share, err := s.devices.OpenDisplayMedia()
	if err != nil {
		return fmt.Errorf("%w: %v", peercall_errors.ErrMediaAccess, err)
	}

	s.mu.Lock()
	if s.closed || s.sharing {
		s.mu.Unlock()
		_ = share.Close()
		return nil
	}
	s.cameraTrack = sender.Track()
	if err := sender.ReplaceTrack(share); err != nil {
		s.mu.Unlock()
		_ = share.Close()
		return fmt.Errorf("%w: replace track: %v", peercall_errors.ErrPeerConnection, err)
	}
	s.shareTrack = share
	s.sharing = true
	s.swapLocalTrack(s.cameraTrack, share)
	s.mu.Unlock()

	share.OnEnded(func() {
		// User stopped sharing through the platform's own UI.
		s.StopScreenShare()
	})
	s.log.Infof("screen share started, track %s", share.ID())
	return nil
}

// StopScreenShare restores the original camera track. No-op when not
// sharing.
func (s *Session) StopScreenShare() {
	s.mu.Lock()
	if !s.sharing {
		s.mu.Unlock()
		return
	}
	share := s.shareTrack
	camera := s.cameraTrack
	s.sharing = false
	s.shareTrack = nil
	s.cameraTrack = nil
	if s.videoSender != nil && camera != nil {
		if err := s.videoSender.ReplaceTrack(camera); err != nil {
			s.log.Errorf("restore camera track: %v", err)
		}
	}
	s.swapLocalTrack(share, camera)
	s.mu.Unlock()

	if share != nil {
		_ = share.Close()
	}
	s.log.Infof("screen share stopped")
}

// swapLocalTrack replaces old with new in the local stream so the local
// preview follows the outbound substitution. Caller holds s.mu.
func (s *Session) swapLocalTrack(old, repl LocalTrack) {
	for i, t := range s.local {
		if t == old {
			s.local[i] = repl
			return
		}
	}
}

// IsScreenSharing reports whether the outbound video is the capture track.
func (s *Session) IsScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

// TrackState returns a snapshot of the local flags. Callers that need
// change detection on platforms without mute events poll this.
func (s *Session) TrackState() TrackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := TrackState{ScreenSharing: s.sharing}
	if s.audioTrack != nil {
		st.AudioEnabled = s.audioTrack.Enabled()
	}
	if s.videoTrack != nil {
		st.VideoEnabled = s.videoTrack.Enabled()
	}
	return st
}

// LocalTracks returns the current local stream.
func (s *Session) LocalTracks() []LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LocalTrack(nil), s.local...)
}

// RemoteTracks returns the media received so far.
func (s *Session) RemoteTracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemoteTrack(nil), s.remote...)
}

// Closed reports whether Teardown has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Teardown stops all local tracks and closes the connection. Idempotent.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	local := s.local
	camera := s.cameraTrack
	pc := s.pc
	s.local = nil
	s.audioTrack = nil
	s.videoTrack = nil
	s.shareTrack = nil
	s.cameraTrack = nil
	s.videoSender = nil
	s.sharing = false
	s.pc = nil
	s.mu.Unlock()

	// While a share is active the capture track sits in the local slice
	// and the camera track sits outside it; close both exactly once.
	for _, t := range local {
		_ = t.Close()
	}
	if camera != nil {
		_ = camera.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
}
