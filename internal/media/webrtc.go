package media

import (
	"context"
	"sync"

	"peercall/internal/domain/signal"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// WebRTC is the pion-backed implementation of Devices and Connector. The
// API object (media engine, codecs, interceptors) is built once per
// process by NewWebRTC in the platform files.
type WebRTC struct {
	api      *webrtc.API
	selector *mediadevices.CodecSelector // nil when the platform has no capture drivers
}

func (w *WebRTC) NewPeerConnection(stunServers []string) (PeerConnection, error) {
	pc, err := w.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	})
	if err != nil {
		return nil, err
	}
	return &pionPeerConnection{pc: pc}, nil
}

// pionTrack wraps a mediadevices capture track. The enabled flag is
// advisory: mediadevices drivers cannot pause at the source, so the flag
// is what the UI layer reads and polls.
type pionTrack struct {
	track mediadevices.Track
	kind  TrackKind

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func newPionTrack(t mediadevices.Track) *pionTrack {
	kind := TrackAudio
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		kind = TrackVideo
	}
	return &pionTrack{track: t, kind: kind, enabled: true}
}

func (t *pionTrack) ID() string      { return t.track.ID() }
func (t *pionTrack) Kind() TrackKind { return t.kind }

func (t *pionTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *pionTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *pionTrack) OnEnded(fn func()) {
	t.track.OnEnded(func(error) { fn() })
}

func (t *pionTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.track.Close()
}

type pionSender struct {
	sender *webrtc.RTPSender

	mu      sync.Mutex
	current LocalTrack
}

func (s *pionSender) Track() LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *pionSender) ReplaceTrack(t LocalTrack) error {
	pt, ok := t.(*pionTrack)
	if !ok {
		return webrtc.ErrSenderWithNoCodecs
	}
	if err := s.sender.ReplaceTrack(pt.track); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	return nil
}

type pionPeerConnection struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeerConnection) AddTrack(t LocalTrack) (Sender, error) {
	pt, ok := t.(*pionTrack)
	if !ok {
		return nil, webrtc.ErrSenderWithNoCodecs
	}
	sender, err := p.pc.AddTrack(pt.track)
	if err != nil {
		return nil, err
	}
	return &pionSender{sender: sender, current: t}, nil
}

func (p *pionPeerConnection) CreateOffer(ctx context.Context) (signal.SessionDescription, error) {
	desc, err := p.pc.CreateOffer(nil)
	if err != nil {
		return signal.SessionDescription{}, err
	}
	return signal.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}, nil
}

func (p *pionPeerConnection) CreateAnswer(ctx context.Context) (signal.SessionDescription, error) {
	desc, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return signal.SessionDescription{}, err
	}
	return signal.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}, nil
}

func (p *pionPeerConnection) SetLocalDescription(desc signal.SessionDescription) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *pionPeerConnection) SetRemoteDescription(desc signal.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *pionPeerConnection) AddICECandidate(cand signal.ICECandidate) error {
	mid := cand.SDPMid
	idx := cand.SDPMLineIndex
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
}

func (p *pionPeerConnection) OnICECandidate(fn func(signal.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-candidates marker.
			return
		}
		init := c.ToJSON()
		cand := signal.ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(cand)
	})
}

func (p *pionPeerConnection) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := TrackAudio
		if tr.Kind() == webrtc.RTPCodecTypeVideo {
			kind = TrackVideo
		}
		fn(RemoteTrack{ID: tr.ID(), Kind: kind})
	})
}

func (p *pionPeerConnection) OnConnectionStateChange(fn func(ConnectionState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(mapConnectionState(state))
	})
}

func (p *pionPeerConnection) Close() error {
	return p.pc.Close()
}

func mapConnectionState(state webrtc.PeerConnectionState) ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}
