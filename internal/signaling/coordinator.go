// Package signaling translates call-lifecycle events and inbound signals
// into peer-connection operations, and vice versa. One Coordinator owns
// one side of one call and processes that call's signals on a single
// goroutine, in arrival order.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peercall/internal/domain/call"
	"peercall/internal/domain/signal"
	"peercall/internal/lifecycle"
	"peercall/internal/media"
	"peercall/internal/signalch"
	"peercall/internal/store"
	peercall_errors "peercall/pkg/errors"
	"peercall/pkg/logger"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

type Config struct {
	CallID      uuid.UUID
	SelfID      uuid.UUID
	PeerID      uuid.UUID
	Role        Role
	STUNServers []string

	Session *media.Session
	Channel signalch.Channel
	Machine *lifecycle.Machine
	Store   store.CallStore
	Log     *logger.Logger
}

type Coordinator struct {
	cfg Config
	log *logger.Logger

	inbox       chan signal.Signal
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()

	mu         sync.Mutex
	haveRemote bool
	pending    []signal.ICECandidate
}

func New(cfg Config) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Coordinator{
		cfg:   cfg,
		log:   log,
		inbox: make(chan signal.Signal, 64),
		done:  make(chan struct{}),
	}
}

// Start wires the session callbacks, subscribes to the inbound signal
// stream and, for the caller role, performs media acquisition and sends
// the offer. Errors surface to the caller of initiate/accept so the UI
// can report a failed call.
func (c *Coordinator) Start(ctx context.Context) error {
	sess := c.cfg.Session

	sess.OnLocalCandidate(c.sendCandidate)
	sess.OnConnectionState(func(state media.ConnectionState) {
		if !state.Fatal() {
			return
		}
		endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.cfg.Machine.End(endCtx, c.cfg.CallID, call.ReasonConnectionLost); err != nil &&
			!errors.Is(err, peercall_errors.ErrCallNotActionable) {
			c.log.Errorf("call %s: end on %s: %v", c.cfg.CallID, state, err)
		}
	})

	if c.cfg.Role == RoleCaller {
		if err := c.setupMedia(); err != nil {
			return err
		}
	}

	unsub, err := c.cfg.Channel.Subscribe(ctx, c.cfg.CallID, c.cfg.SelfID, c.enqueue)
	if err != nil {
		return fmt.Errorf("subscribe signals: %w", err)
	}
	c.unsubscribe = unsub

	go c.loop(ctx)

	if c.cfg.Role == RoleCaller {
		if err := c.sendOffer(ctx); err != nil {
			c.Close()
			return err
		}
	}
	return nil
}

// Close stops signal processing. The media session is torn down by the
// lifecycle layer, not here.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
	})
}

func (c *Coordinator) setupMedia() error {
	sess := c.cfg.Session
	if err := sess.AcquireLocalMedia(); err != nil {
		return err
	}
	if err := sess.CreatePeerConnection(c.cfg.STUNServers); err != nil {
		return err
	}
	return sess.AddLocalTracks()
}

func (c *Coordinator) sendOffer(ctx context.Context) error {
	pc := c.cfg.Session.PeerConnection()
	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", peercall_errors.ErrPeerConnection, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local description: %v", peercall_errors.ErrPeerConnection, err)
	}
	sig := signal.NewOffer(c.cfg.CallID, c.cfg.SelfID, c.cfg.PeerID, offer)
	if err := c.cfg.Channel.Append(ctx, sig); err != nil {
		return fmt.Errorf("%w: offer: %v", peercall_errors.ErrSignalDelivery, err)
	}
	return nil
}

func (c *Coordinator) enqueue(sig signal.Signal) {
	select {
	case c.inbox <- sig:
	case <-c.done:
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case sig := <-c.inbox:
			c.handle(ctx, sig)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, sig signal.Signal) {
	// Signals for a terminated or unknown call are discarded without
	// error; the sender may simply be behind.
	current, err := c.cfg.Store.Get(ctx, c.cfg.CallID)
	if err != nil || current.Status.Terminal() {
		return
	}
	if c.cfg.Session.Closed() {
		return
	}

	// Recipient side builds its media lazily on the first signal.
	if c.cfg.Session.PeerConnection() == nil {
		if err := c.setupMedia(); err != nil {
			c.fail(fmt.Errorf("lazy media setup: %w", err))
			return
		}
	}

	switch sig.Kind {
	case signal.KindOffer:
		c.handleOffer(ctx, sig)
	case signal.KindAnswer:
		c.handleAnswer(sig)
	case signal.KindICECandidate:
		c.handleCandidate(sig)
	default:
		c.log.Warnf("call %s: unknown signal kind %q", c.cfg.CallID, sig.Kind)
	}
}

func (c *Coordinator) handleOffer(ctx context.Context, sig signal.Signal) {
	if sig.SDP == nil {
		return
	}
	pc := c.cfg.Session.PeerConnection()
	if err := pc.SetRemoteDescription(*sig.SDP); err != nil {
		c.fail(fmt.Errorf("%w: set remote offer: %v", peercall_errors.ErrPeerConnection, err))
		return
	}
	c.remoteDescriptionSet(pc)

	answer, err := pc.CreateAnswer(ctx)
	if err != nil {
		c.fail(fmt.Errorf("%w: create answer: %v", peercall_errors.ErrPeerConnection, err))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		c.fail(fmt.Errorf("%w: set local answer: %v", peercall_errors.ErrPeerConnection, err))
		return
	}
	out := signal.NewAnswer(c.cfg.CallID, c.cfg.SelfID, sig.SenderID, answer)
	if err := c.cfg.Channel.Append(ctx, out); err != nil {
		// Answer delivery is fatal, unlike candidates.
		c.fail(fmt.Errorf("%w: answer: %v", peercall_errors.ErrSignalDelivery, err))
	}
}

func (c *Coordinator) handleAnswer(sig signal.Signal) {
	if sig.SDP == nil {
		return
	}
	pc := c.cfg.Session.PeerConnection()
	if err := pc.SetRemoteDescription(*sig.SDP); err != nil {
		c.fail(fmt.Errorf("%w: set remote answer: %v", peercall_errors.ErrPeerConnection, err))
		return
	}
	c.remoteDescriptionSet(pc)
}

// handleCandidate applies a trickled candidate. Candidates legitimately
// arrive before the offer/answer; until a remote description exists they
// are buffered, not dropped.
func (c *Coordinator) handleCandidate(sig signal.Signal) {
	if sig.Candidate == nil {
		return
	}
	c.mu.Lock()
	if !c.haveRemote {
		c.pending = append(c.pending, *sig.Candidate)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.cfg.Session.PeerConnection().AddICECandidate(*sig.Candidate); err != nil {
		// One bad candidate never aborts the call.
		c.log.Warnf("call %s: add candidate: %v", c.cfg.CallID, err)
	}
}

func (c *Coordinator) remoteDescriptionSet(pc media.PeerConnection) {
	c.mu.Lock()
	c.haveRemote = true
	buffered := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range buffered {
		if err := pc.AddICECandidate(cand); err != nil {
			c.log.Warnf("call %s: add buffered candidate: %v", c.cfg.CallID, err)
		}
	}
}

// sendCandidate ships a locally produced candidate, best-effort.
func (c *Coordinator) sendCandidate(cand signal.ICECandidate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sig := signal.NewICECandidate(c.cfg.CallID, c.cfg.SelfID, c.cfg.PeerID, cand)
	if err := c.cfg.Channel.Append(ctx, sig); err != nil {
		c.log.Warnf("call %s: candidate delivery failed: %v", c.cfg.CallID, err)
	}
}

// fail absorbs a mid-exchange error into a lifecycle transition; once
// signaling has started there is no actionable recovery.
func (c *Coordinator) fail(err error) {
	c.log.Errorf("call %s: %v", c.cfg.CallID, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, endErr := c.cfg.Machine.End(ctx, c.cfg.CallID, call.ReasonConnectionLost); endErr != nil &&
		!errors.Is(endErr, peercall_errors.ErrCallNotActionable) {
		c.log.Errorf("call %s: end after failure: %v", c.cfg.CallID, endErr)
	}
}
