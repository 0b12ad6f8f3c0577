package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"peercall/internal/domain/call"
	peercall_errors "peercall/pkg/errors"
	"peercall/pkg/logger"

	"github.com/google/uuid"
)

// Watcher auto-rejects ringing calls that were never answered. Instead of
// one fire-and-forget timer per call, it re-checks elapsed wall-clock time
// against CreatedAt every tick, so re-subscribing consumers cannot double
// or lose a timeout.
type Watcher struct {
	machine *Machine
	timeout time.Duration
	log     *logger.Logger

	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	ringing map[uuid.UUID]time.Time // call id -> CreatedAt
}

func NewWatcher(machine *Machine, timeout time.Duration, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{
		machine:  machine,
		timeout:  timeout,
		log:      log,
		interval: time.Second,
		now:      time.Now,
		ringing:  make(map[uuid.UUID]time.Time),
	}
}

// SetNow overrides the watcher's clock. Used in tests.
func (w *Watcher) SetNow(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
}

// Track starts timing out c. Tracking a call twice, or a call that has
// already left ringing, is harmless.
func (w *Watcher) Track(c call.Call) {
	if c.Status != call.StatusRinging {
		return
	}
	w.mu.Lock()
	w.ringing[c.ID] = c.CreatedAt
	w.mu.Unlock()
}

// Forget stops timing out the call (it was answered, rejected or ended).
func (w *Watcher) Forget(id uuid.UUID) {
	w.mu.Lock()
	delete(w.ringing, id)
	w.mu.Unlock()
}

// Run ticks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep rejects every tracked call whose ring window has elapsed. Safe to
// invoke concurrently: the machine's per-call transition lock makes the
// auto-reject happen at most once.
func (w *Watcher) Sweep(ctx context.Context) {
	w.mu.Lock()
	now := w.now()
	var expired []uuid.UUID
	for id, createdAt := range w.ringing {
		if now.Sub(createdAt) >= w.timeout {
			expired = append(expired, id)
		}
	}
	w.mu.Unlock()

	for _, id := range expired {
		_, err := w.machine.Reject(ctx, id, call.ReasonTimeout)
		switch {
		case err == nil:
			w.log.Infof("call %s auto-rejected after ring timeout", id)
		case errors.Is(err, peercall_errors.ErrCallNotActionable):
			// Answered or ended in the meantime.
		default:
			w.log.Errorf("auto-reject call %s: %v", id, err)
			continue
		}
		w.Forget(id)
	}
}
