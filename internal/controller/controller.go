// Package controller is the call session controller for one local user:
// it owns call lifecycle state, one media session per active call, and
// the four user actions (initiate, accept, reject, end). UI layers hold a
// *Controller and talk to it through this narrow surface instead of
// ambient shared state.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peercall/internal/directory"
	"peercall/internal/domain/call"
	"peercall/internal/lifecycle"
	"peercall/internal/media"
	"peercall/internal/signalch"
	"peercall/internal/signaling"
	"peercall/internal/store"
	peercall_errors "peercall/pkg/errors"
	"peercall/pkg/logger"

	"github.com/google/uuid"
)

type Config struct {
	SelfID     uuid.UUID
	SelfName   string
	SelfAvatar string

	Store     store.CallStore
	Channel   signalch.Channel
	Devices   media.Devices
	Connector media.Connector
	Archiver  lifecycle.Archiver

	STUNServers []string
	RingTimeout time.Duration
	Log         *logger.Logger
}

type activeCall struct {
	call        call.Call
	session     *media.Session
	coordinator *signaling.Coordinator
}

// finalizedRetention is how long the terminal marker for a call is kept
// so late watch events for it are still recognized and dropped.
const finalizedRetention = time.Minute

type Controller struct {
	cfg       Config
	log       *logger.Logger
	machine   *lifecycle.Machine
	watcher   *lifecycle.Watcher
	directory *directory.Directory

	runCtx context.Context

	mu        sync.Mutex
	active    map[uuid.UUID]*activeCall
	watches   map[uuid.UUID]func()
	finalized map[uuid.UUID]time.Time
	connected map[uuid.UUID]struct{}

	subMu  sync.RWMutex
	subSeq int
	subs   map[int]func(Event)
}

func New(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 60 * time.Second
	}

	machine := lifecycle.NewMachine(cfg.Store, log)
	if cfg.Archiver != nil {
		machine.SetArchiver(cfg.Archiver)
	}

	c := &Controller{
		cfg:       cfg,
		log:       log,
		machine:   machine,
		watcher:   lifecycle.NewWatcher(machine, cfg.RingTimeout, log),
		directory: directory.New(),
		active:    make(map[uuid.UUID]*activeCall),
		watches:   make(map[uuid.UUID]func()),
		finalized: make(map[uuid.UUID]time.Time),
		connected: make(map[uuid.UUID]struct{}),
		subs:      make(map[int]func(Event)),
	}
	machine.OnTerminal(c.finalize)
	return c
}

// Run starts the ring-timeout watcher and the incoming-call subscription.
// It returns once the controller is live; ctx cancels everything.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	go c.watcher.Run(ctx)
	_, err := c.cfg.Store.WatchRinging(ctx, c.cfg.SelfID, c.onIncoming)
	if err != nil {
		return fmt.Errorf("watch ringing calls: %w", err)
	}
	return nil
}

// Subscribe registers fn for lifecycle events. The returned func cancels
// the subscription.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	c.subSeq++
	seq := c.subSeq
	c.subs[seq] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, seq)
		c.subMu.Unlock()
	}
}

func (c *Controller) emit(evt Event) {
	c.subMu.RLock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()
	for _, fn := range fns {
		fn(evt)
	}
}

// Initiate creates a ringing call toward calleeID and starts the
// offer/answer exchange. Media or signal-delivery failures surface here
// so the UI can report them and stay in its pre-call state.
func (c *Controller) Initiate(ctx context.Context, calleeID uuid.UUID, calleeName string, mediaType call.MediaType) (call.Call, error) {
	if !mediaType.Valid() {
		return call.Call{}, fmt.Errorf("media type %q: %w", mediaType, peercall_errors.ErrInvalidInput)
	}
	if calleeID == uuid.Nil || calleeID == c.cfg.SelfID {
		return call.Call{}, fmt.Errorf("callee: %w", peercall_errors.ErrInvalidInput)
	}

	newCall := &call.Call{
		ID:           uuid.New(),
		CallerID:     c.cfg.SelfID,
		CalleeID:     calleeID,
		CallerName:   c.cfg.SelfName,
		CalleeName:   calleeName,
		CallerAvatar: c.cfg.SelfAvatar,
		Media:        mediaType,
		Status:       call.StatusRinging,
		CreatedAt:    time.Now(),
	}
	if err := c.cfg.Store.Create(ctx, newCall); err != nil {
		return call.Call{}, err
	}
	c.watcher.Track(*newCall)

	if err := c.attach(*newCall, signaling.RoleCaller, calleeID); err != nil {
		c.endAfterSetupFailure(newCall.ID)
		return call.Call{}, err
	}
	return *newCall, nil
}

// Accept connects an incoming ringing call. Stale accepts (the caller
// already cancelled, the ring timed out) fail with ErrCallNotActionable.
func (c *Controller) Accept(ctx context.Context, id uuid.UUID) (call.Call, error) {
	connected, err := c.machine.Connect(ctx, id)
	if err != nil {
		return call.Call{}, err
	}
	c.directory.Remove(id)
	c.watcher.Forget(id)

	if err := c.attach(connected, signaling.RoleCallee, connected.CallerID); err != nil {
		c.endAfterSetupFailure(id)
		return call.Call{}, err
	}
	c.markConnected(connected)
	return connected, nil
}

// Reject declines an incoming ringing call.
func (c *Controller) Reject(ctx context.Context, id uuid.UUID) error {
	_, err := c.machine.Reject(ctx, id, call.ReasonDeclined)
	return err
}

// End hangs up: a ringing call is cancelled, a connected one completed.
func (c *Controller) End(ctx context.Context, id uuid.UUID) error {
	current, err := c.cfg.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, peercall_errors.ErrNotFound) {
			return peercall_errors.ErrCallNotActionable
		}
		return err
	}
	reason := call.ReasonCompleted
	if current.Status == call.StatusRinging {
		reason = call.ReasonCancelled
	}
	_, err = c.machine.End(ctx, id, reason)
	return err
}

// attach builds the media session and coordinator for one side of a call
// and starts signal processing.
func (c *Controller) attach(cl call.Call, role signaling.Role, peerID uuid.UUID) error {
	runCtx := c.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}

	session := media.NewSession(c.cfg.Devices, c.cfg.Connector, cl.Media, c.log)
	coord := signaling.New(signaling.Config{
		CallID:      cl.ID,
		SelfID:      c.cfg.SelfID,
		PeerID:      peerID,
		Role:        role,
		STUNServers: c.cfg.STUNServers,
		Session:     session,
		Channel:     c.cfg.Channel,
		Machine:     c.machine,
		Store:       c.cfg.Store,
		Log:         c.log,
	})

	if err := c.ensureWatch(runCtx, cl.ID); err != nil {
		session.Teardown()
		return fmt.Errorf("watch call: %w", err)
	}

	c.mu.Lock()
	c.active[cl.ID] = &activeCall{
		call:        cl,
		session:     session,
		coordinator: coord,
	}
	c.mu.Unlock()

	if err := coord.Start(runCtx); err != nil {
		return err
	}
	return nil
}

// endAfterSetupFailure drives a call whose media/signaling setup failed
// to a terminal state; the original setup error is what the user sees.
func (c *Controller) endAfterSetupFailure(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.machine.End(ctx, id, call.ReasonConnectionLost); err != nil &&
		!errors.Is(err, peercall_errors.ErrCallNotActionable) {
		c.log.Errorf("end call %s after setup failure: %v", id, err)
	}
}

// onIncoming reacts to a new ringing call addressed to the local user.
func (c *Controller) onIncoming(incoming call.Call) {
	if incoming.CalleeID != c.cfg.SelfID || incoming.Status != call.StatusRinging {
		return
	}
	c.directory.Add(incoming)
	c.watcher.Track(incoming)

	// Watch the record so a caller-side cancel or timeout clears the
	// incoming entry even if the user never acts on it.
	runCtx := c.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	if err := c.ensureWatch(runCtx, incoming.ID); err != nil {
		c.log.Errorf("watch incoming call %s: %v", incoming.ID, err)
	}
	c.emit(Event{Type: EventIncoming, Call: incoming})
}

// ensureWatch opens at most one store watch per call id; finalize cancels
// it. Calling it again for the same call is a no-op, so the accept path
// reuses the watch opened when the call first rang in.
func (c *Controller) ensureWatch(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	_, watching := c.watches[id]
	_, done := c.finalized[id]
	c.mu.Unlock()
	if watching || done {
		return nil
	}

	unwatch, err := c.cfg.Store.Watch(ctx, id, c.onCallUpdate)
	if err != nil {
		return err
	}

	c.mu.Lock()
	_, watching = c.watches[id]
	_, done = c.finalized[id]
	if watching || done {
		c.mu.Unlock()
		unwatch()
		return nil
	}
	c.watches[id] = unwatch
	c.mu.Unlock()
	return nil
}

// onCallUpdate converges on status changes written by either side.
func (c *Controller) onCallUpdate(updated call.Call) {
	switch {
	case updated.Status.Terminal():
		c.finalize(updated)
	case updated.Status == call.StatusConnected:
		c.markConnected(updated)
	}
}

func (c *Controller) markConnected(connected call.Call) {
	c.mu.Lock()
	if _, done := c.finalized[connected.ID]; done {
		c.mu.Unlock()
		return
	}
	if _, seen := c.connected[connected.ID]; seen {
		c.mu.Unlock()
		return
	}
	c.connected[connected.ID] = struct{}{}
	if entry, ok := c.active[connected.ID]; ok {
		entry.call = connected
	}
	c.mu.Unlock()

	c.watcher.Forget(connected.ID)
	c.emit(Event{Type: EventConnected, Call: connected})
}

// finalize runs exactly once per call on entry to a terminal status:
// local media teardown, directory and watcher cleanup, UI notification.
func (c *Controller) finalize(terminal call.Call) {
	c.mu.Lock()
	if _, done := c.finalized[terminal.ID]; done {
		c.mu.Unlock()
		return
	}
	c.finalized[terminal.ID] = time.Now()
	delete(c.connected, terminal.ID)
	entry := c.active[terminal.ID]
	delete(c.active, terminal.ID)
	unwatch := c.watches[terminal.ID]
	delete(c.watches, terminal.ID)
	c.pruneFinalizedLocked()
	c.mu.Unlock()

	c.directory.Remove(terminal.ID)
	c.watcher.Forget(terminal.ID)

	if unwatch != nil {
		unwatch()
	}
	if entry != nil {
		entry.coordinator.Close()
		entry.session.Teardown()
	}

	evtType := EventEnded
	if terminal.Status == call.StatusRejected {
		evtType = EventRejected
	}
	c.emit(Event{Type: evtType, Call: terminal})
}

// pruneFinalizedLocked drops terminal markers once every delivery path
// for the call has gone quiet. Callers hold c.mu.
func (c *Controller) pruneFinalizedLocked() {
	cutoff := time.Now().Add(-finalizedRetention)
	for id, at := range c.finalized {
		if at.Before(cutoff) {
			delete(c.finalized, id)
			delete(c.connected, id)
		}
	}
}

// Ringing lists the calls currently ringing toward the local user.
func (c *Controller) Ringing() []call.Call {
	return c.directory.List()
}

// Session returns the live media session for an active call, for the
// rendering layer to pull stream handles from.
func (c *Controller) Session(id uuid.UUID) (*media.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.active[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// ToggleAudio flips the microphone flag for an active call.
func (c *Controller) ToggleAudio(id uuid.UUID) (bool, error) {
	sess, ok := c.Session(id)
	if !ok {
		return false, peercall_errors.ErrCallNotActionable
	}
	return sess.ToggleAudio(), nil
}

// ToggleVideo flips the camera flag for an active call.
func (c *Controller) ToggleVideo(id uuid.UUID) (bool, error) {
	sess, ok := c.Session(id)
	if !ok {
		return false, peercall_errors.ErrCallNotActionable
	}
	return sess.ToggleVideo(), nil
}

// StartScreenShare substitutes the outbound camera track with a screen
// capture for an active call.
func (c *Controller) StartScreenShare(id uuid.UUID) error {
	sess, ok := c.Session(id)
	if !ok {
		return peercall_errors.ErrCallNotActionable
	}
	return sess.StartScreenShare()
}

// StopScreenShare restores the camera track.
func (c *Controller) StopScreenShare(id uuid.UUID) error {
	sess, ok := c.Session(id)
	if !ok {
		return peercall_errors.ErrCallNotActionable
	}
	sess.StopScreenShare()
	return nil
}

// Snapshot is the read surface exposed to the UI layer.
type Snapshot struct {
	Call   call.Call        `json:"call"`
	Tracks media.TrackState `json:"tracks"`
}

// State returns the current call record plus local track flags.
func (c *Controller) State(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	current, err := c.cfg.Store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Call: current}
	if sess, ok := c.Session(id); ok {
		snap.Tracks = sess.TrackState()
	}
	return snap, nil
}

// Close tears down every active call without writing status changes; used
// on process shutdown.
func (c *Controller) Close() {
	c.mu.Lock()
	entries := make([]*activeCall, 0, len(c.active))
	for _, entry := range c.active {
		entries = append(entries, entry)
	}
	c.active = make(map[uuid.UUID]*activeCall)
	unwatches := make([]func(), 0, len(c.watches))
	for _, unwatch := range c.watches {
		unwatches = append(unwatches, unwatch)
	}
	c.watches = make(map[uuid.UUID]func())
	c.mu.Unlock()

	for _, unwatch := range unwatches {
		unwatch()
	}
	for _, entry := range entries {
		entry.coordinator.Close()
		entry.session.Teardown()
	}
}
