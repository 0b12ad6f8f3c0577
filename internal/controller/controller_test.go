package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"peercall/internal/domain/call"
	"peercall/internal/domain/signal"
	"peercall/internal/media"
	"peercall/internal/signalch"
	"peercall/internal/store"
	peercall_errors "peercall/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTrack struct {
	mu      sync.Mutex
	kind    media.TrackKind
	enabled bool
	closed  bool
}

func (f *testTrack) ID() string            { return string(f.kind) }
func (f *testTrack) Kind() media.TrackKind { return f.kind }

func (f *testTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *testTrack) SetEnabled(enabled bool) {
	f.mu.Lock()
	f.enabled = enabled
	f.mu.Unlock()
}

func (f *testTrack) OnEnded(func()) {}

func (f *testTrack) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type testSender struct {
	mu    sync.Mutex
	track media.LocalTrack
}

func (s *testSender) Track() media.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *testSender) ReplaceTrack(t media.LocalTrack) error {
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

type testPC struct{}

func (p *testPC) AddTrack(t media.LocalTrack) (media.Sender, error) {
	return &testSender{track: t}, nil
}

func (p *testPC) CreateOffer(ctx context.Context) (signal.SessionDescription, error) {
	return signal.SessionDescription{Type: "offer", SDP: "v=0"}, nil
}

func (p *testPC) CreateAnswer(ctx context.Context) (signal.SessionDescription, error) {
	return signal.SessionDescription{Type: "answer", SDP: "v=0"}, nil
}

func (p *testPC) SetLocalDescription(signal.SessionDescription) error  { return nil }
func (p *testPC) SetRemoteDescription(signal.SessionDescription) error { return nil }
func (p *testPC) AddICECandidate(signal.ICECandidate) error            { return nil }

func (p *testPC) OnICECandidate(func(signal.ICECandidate))            {}
func (p *testPC) OnTrack(func(media.RemoteTrack))                     {}
func (p *testPC) OnConnectionStateChange(func(media.ConnectionState)) {}

func (p *testPC) Close() error { return nil }

type testStack struct{}

func (s *testStack) OpenUserMedia(mediaType call.MediaType) ([]media.LocalTrack, error) {
	tracks := []media.LocalTrack{&testTrack{kind: media.TrackAudio, enabled: true}}
	if mediaType == call.MediaVideo {
		tracks = append(tracks, &testTrack{kind: media.TrackVideo, enabled: true})
	}
	return tracks, nil
}

func (s *testStack) OpenDisplayMedia() (media.LocalTrack, error) {
	return &testTrack{kind: media.TrackVideo, enabled: true}, nil
}

func (s *testStack) NewPeerConnection([]string) (media.PeerConnection, error) {
	return &testPC{}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(evt Event) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) has(want EventType) bool {
	for _, got := range l.types() {
		if got == want {
			return true
		}
	}
	return false
}

// countingStore tracks how many per-call watches are open at any moment.
type countingStore struct {
	store.CallStore
	mu    sync.Mutex
	opens int
	open  int
}

func (s *countingStore) Watch(ctx context.Context, id uuid.UUID, fn func(call.Call)) (func(), error) {
	unwatch, err := s.CallStore.Watch(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.opens++
	s.open++
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.open--
			s.mu.Unlock()
		})
		unwatch()
	}, nil
}

func (s *countingStore) openWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *countingStore) totalOpens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type node struct {
	id     uuid.UUID
	ctrl   *Controller
	events *eventLog
}

func newPair(t *testing.T) (*node, *node, context.CancelFunc) {
	t.Helper()
	return newPairOn(t, store.NewMemoryStore())
}

func newCountedPair(t *testing.T) (*node, *node, *countingStore) {
	t.Helper()
	cs := &countingStore{CallStore: store.NewMemoryStore()}
	a, b, _ := newPairOn(t, cs)
	return a, b, cs
}

func newPairOn(t *testing.T, s store.CallStore) (*node, *node, context.CancelFunc) {
	t.Helper()
	ch := signalch.NewMemoryChannel()
	stack := &testStack{}

	ctx, cancel := context.WithCancel(context.Background())
	build := func(name string) *node {
		id := uuid.New()
		ctrl := New(Config{
			SelfID:    id,
			SelfName:  name,
			Store:     s,
			Channel:   ch,
			Devices:   stack,
			Connector: stack,
		})
		require.NoError(t, ctrl.Run(ctx))
		log := &eventLog{}
		ctrl.Subscribe(log.record)
		return &node{id: id, ctrl: ctrl, events: log}
	}

	a := build("alice")
	b := build("bob")
	t.Cleanup(func() {
		cancel()
		a.ctrl.Close()
		b.ctrl.Close()
	})
	return a, b, cancel
}

func TestVideoCallAcceptAndEnd(t *testing.T) {
	a, b, _ := newPair(t)
	ctx := context.Background()

	created, err := a.ctrl.Initiate(ctx, b.id, "bob", call.MediaVideo)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRinging, created.Status)

	// The callee sees the incoming call.
	require.Eventually(t, func() bool {
		return len(b.ctrl.Ringing()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, b.events.has(EventIncoming))

	connected, err := b.ctrl.Accept(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusConnected, connected.Status)
	require.NotNil(t, connected.StartedAt)
	assert.Empty(t, b.ctrl.Ringing())

	// Both sides converge on connected.
	require.Eventually(t, func() bool {
		return a.events.has(EventConnected) && b.events.has(EventConnected)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.ctrl.End(ctx, created.ID))
	require.Eventually(t, func() bool {
		return a.events.has(EventEnded) && b.events.has(EventEnded)
	}, 2*time.Second, 10*time.Millisecond)

	final, err := a.ctrl.State(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, final.Call.Status)
	assert.Equal(t, call.ReasonCompleted, final.Call.EndReason)

	// Sessions are gone after the terminal transition.
	_, ok := a.ctrl.Session(created.ID)
	assert.False(t, ok)
	_, ok = b.ctrl.Session(created.ID)
	assert.False(t, ok)
}

func TestCallerCancelsRingingCall(t *testing.T) {
	a, b, _ := newPair(t)
	ctx := context.Background()

	created, err := a.ctrl.Initiate(ctx, b.id, "bob", call.MediaAudio)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(b.ctrl.Ringing()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.ctrl.End(ctx, created.ID))

	// Hanging up while ringing records cancelled, not completed.
	final, err := a.ctrl.State(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, final.Call.Status)
	assert.Equal(t, call.ReasonCancelled, final.Call.EndReason)

	// The callee's incoming entry clears without any action on their side.
	require.Eventually(t, func() bool {
		return len(b.ctrl.Ringing()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// A stale accept fails cleanly.
	_, err = b.ctrl.Accept(ctx, created.ID)
	assert.ErrorIs(t, err, peercall_errors.ErrCallNotActionable)
}

func TestRejectIncomingCall(t *testing.T) {
	a, b, _ := newPair(t)
	ctx := context.Background()

	created, err := a.ctrl.Initiate(ctx, b.id, "bob", call.MediaAudio)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(b.ctrl.Ringing()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.ctrl.Reject(ctx, created.ID))

	final, err := b.ctrl.State(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, final.Call.Status)
	assert.Equal(t, call.ReasonDeclined, final.Call.EndReason)

	require.Eventually(t, func() bool {
		return a.events.has(EventRejected) && b.events.has(EventRejected)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRingTimeoutAutoRejects(t *testing.T) {
	a, b, _ := newPair(t)
	ctx := context.Background()

	created, err := a.ctrl.Initiate(ctx, b.id, "bob", call.MediaVideo)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(b.ctrl.Ringing()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Drive the sweep directly instead of waiting a minute of wall time.
	a.ctrl.watcher.SetNow(func() time.Time { return created.CreatedAt.Add(61 * time.Second) })
	a.ctrl.watcher.Sweep(ctx)

	final, err := a.ctrl.State(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, final.Call.Status)
	assert.Equal(t, call.ReasonTimeout, final.Call.EndReason)

	require.Eventually(t, func() bool {
		return len(b.ctrl.Ringing()) == 0 && b.events.has(EventRejected)
	}, 2*time.Second, 10*time.Millisecond)

	// The callee's own sweep finds nothing left to do.
	b.ctrl.watcher.SetNow(func() time.Time { return created.CreatedAt.Add(2 * time.Minute) })
	b.ctrl.watcher.Sweep(ctx)
	final, err = b.ctrl.State(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, call.ReasonTimeout, final.Call.EndReason)
}

func TestSecondCallForPairRejected(t *testing.T) {
	a, b, _ := newPair(t)
	ctx := context.Background()

	_, err := a.ctrl.Initiate(ctx, b.id, "bob", call.MediaAudio)
	require.NoError(t, err)

	_, err = a.ctrl.Initiate(ctx, b.id, "bob", call.MediaAudio)
	assert.ErrorIs(t, err, peercall_errors.ErrAlreadyExists)
}

func TestInitiateValidation(t *testing.T) {
	a, _, _ := newPair(t)
	ctx := context.Background()

	_, err := a.ctrl.Initiate(ctx, uuid.New(), "x", call.MediaType("screen"))
	assert.ErrorIs(t, err, peercall_errors.ErrInvalidInput)

	_, err = a.ctrl.Initiate(ctx, uuid.Nil, "x", call.MediaAudio)
	assert.ErrorIs(t, err, peercall_errors.ErrInvalidInput)

	_, err = a.ctrl.Initiate(ctx, a.id, "self", call.MediaAudio)
	assert.ErrorIs(t, err, peercall_errors.ErrInvalidInput)
}

func TestMediaControlsRequireActiveCall(t *testing.T) {
	a, _, _ := newPair(t)

	_, err := a.ctrl.ToggleAudio(uuid.New())
	assert.ErrorIs(t, err, peercall_errors.ErrCallNotActionable)
	_, err = a.ctrl.ToggleVideo(uuid.New())
	assert.ErrorIs(t, err, peercall_errors.ErrCallNotActionable)
	assert.ErrorIs(t, a.ctrl.StartScreenShare(uuid.New()), peercall_errors.ErrCallNotActionable)
	assert.ErrorIs(t, a.ctrl.StopScreenShare(uuid.New()), peercall_errors.ErrCallNotActionable)
}

func TestScreenShareOnConnectedCall(t *testing.T) {
	a, b, _ := newPair(t)
	ctx := context.Background()

	created, err := a.ctrl.Initiate(ctx, b.id, "bob", call.MediaVideo)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(b.ctrl.Ringing()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, err = b.ctrl.Accept(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, a.ctrl.StartScreenShare(created.ID))
	snap, err := a.ctrl.State(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, snap.Tracks.ScreenSharing)

	require.NoError(t, a.ctrl.StopScreenShare(created.ID))
	snap, err = a.ctrl.State(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, snap.Tracks.ScreenSharing)
}

func TestEndUnknownCall(t *testing.T) {
	a, _, _ := newPair(t)
	err := a.ctrl.End(context.Background(), uuid.New())
	assert.ErrorIs(t, err, peercall_errors.ErrCallNotActionable)
}

func TestRejectedCallClosesWatches(t *testing.T) {
	a, b, cs := newCountedPair(t)
	ctx := context.Background()

	created, err := a.ctrl.Initiate(ctx, b.id, "bob", call.MediaAudio)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(b.ctrl.Ringing()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.ctrl.Reject(ctx, created.ID))
	require.Eventually(t, func() bool {
		return a.events.has(EventRejected) && b.events.has(EventRejected)
	}, 2*time.Second, 10*time.Millisecond)

	// Each side cancels its per-call watch when the call is finalized.
	require.Eventually(t, func() bool {
		return cs.openWatches() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAcceptReusesIncomingWatch(t *testing.T) {
	a, b, cs := newCountedPair(t)
	ctx := context.Background()

	created, err := a.ctrl.Initiate(ctx, b.id, "bob", call.MediaVideo)
	require.NoError(t, err)

	// EventIncoming is emitted after the callee's watch is in place, so
	// accepting afterwards cannot race a second watch open.
	require.Eventually(t, func() bool {
		return b.events.has(EventIncoming)
	}, 2*time.Second, 10*time.Millisecond)

	_, err = b.ctrl.Accept(ctx, created.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return a.events.has(EventConnected) && b.events.has(EventConnected)
	}, 2*time.Second, 10*time.Millisecond)

	// One watch per side: the callee's accept reuses the watch opened
	// when the call rang in.
	assert.Equal(t, 2, cs.totalOpens())

	require.NoError(t, a.ctrl.End(ctx, created.ID))
	require.Eventually(t, func() bool {
		return cs.openWatches() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFinalizedMarkersPruned(t *testing.T) {
	a, _, _ := newPair(t)

	stale := uuid.New()
	a.ctrl.mu.Lock()
	a.ctrl.finalized[stale] = time.Now().Add(-2 * finalizedRetention)
	a.ctrl.connected[stale] = struct{}{}
	a.ctrl.mu.Unlock()

	ended := call.Call{
		ID:       uuid.New(),
		CallerID: a.id,
		CalleeID: uuid.New(),
		Status:   call.StatusEnded,
	}
	a.ctrl.finalize(ended)

	a.ctrl.mu.Lock()
	defer a.ctrl.mu.Unlock()
	_, stalePresent := a.ctrl.finalized[stale]
	_, staleConnected := a.ctrl.connected[stale]
	_, freshPresent := a.ctrl.finalized[ended.ID]
	assert.False(t, stalePresent)
	assert.False(t, staleConnected)
	assert.True(t, freshPresent)
}
