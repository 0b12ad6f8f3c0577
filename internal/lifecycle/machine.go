// Package lifecycle enforces the call status graph and drives the
// 60-second ring timeout. All status writes for the local process go
// through the Machine so transitions stay monotonic and terminal entry
// fires exactly once.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"peercall/internal/domain/call"
	"peercall/internal/store"
	peercall_errors "peercall/pkg/errors"
	"peercall/pkg/logger"

	"github.com/google/uuid"
)

// Archiver receives calls that reached a terminal status. Archiving is
// best-effort and never blocks a transition.
type Archiver interface {
	Archive(ctx context.Context, c call.Call) error
}

type Machine struct {
	store    store.CallStore
	log      *logger.Logger
	archiver Archiver

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	handlerMu  sync.RWMutex
	onTerminal []func(call.Call)

	now func() time.Time
}

func NewMachine(s store.CallStore, log *logger.Logger) *Machine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Machine{
		store: s,
		log:   log,
		locks: make(map[uuid.UUID]*sync.Mutex),
		now:   time.Now,
	}
}

// SetArchiver wires the terminal-call archiver.
func (m *Machine) SetArchiver(a Archiver) {
	m.archiver = a
}

// OnTerminal registers a callback fired once per call on entry to a
// terminal status, in the same logical step as the transition.
func (m *Machine) OnTerminal(fn func(call.Call)) {
	m.handlerMu.Lock()
	m.onTerminal = append(m.onTerminal, fn)
	m.handlerMu.Unlock()
}

// Connect moves the call from ringing to connected and stamps StartedAt.
func (m *Machine) Connect(ctx context.Context, id uuid.UUID) (call.Call, error) {
	return m.transition(ctx, id, call.StatusConnected, "")
}

// Reject moves the call from ringing to rejected.
func (m *Machine) Reject(ctx context.Context, id uuid.UUID, reason call.EndReason) (call.Call, error) {
	return m.transition(ctx, id, call.StatusRejected, reason)
}

// End moves the call from ringing or connected to ended.
func (m *Machine) End(ctx context.Context, id uuid.UUID, reason call.EndReason) (call.Call, error) {
	return m.transition(ctx, id, call.StatusEnded, reason)
}

// Observe applies a status change seen from the remote side (via the
// store watch). It fires terminal handlers locally but writes nothing.
func (m *Machine) Observe(c call.Call) {
	if c.Status.Terminal() {
		m.fireTerminal(c)
	}
}

func (m *Machine) transition(ctx context.Context, id uuid.UUID, to call.Status, reason call.EndReason) (call.Call, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, peercall_errors.ErrNotFound) {
			return call.Call{}, peercall_errors.ErrCallNotActionable
		}
		return call.Call{}, err
	}
	if !c.Status.CanTransition(to) {
		// Already connected, already terminal, or a regressive step. The
		// caller treats this as "the call already moved on".
		return call.Call{}, peercall_errors.ErrCallNotActionable
	}

	now := m.now()
	c.Status = to
	switch to {
	case call.StatusConnected:
		c.StartedAt = &now
	case call.StatusEnded, call.StatusRejected:
		c.EndedAt = &now
		c.EndReason = reason
	}

	if err := m.store.Update(ctx, c); err != nil {
		return call.Call{}, err
	}
	m.log.Infof("call %s -> %s", c.ID, to)

	if to.Terminal() {
		m.fireTerminal(c)
		m.archive(c)
		// Terminal calls never transition again, so the per-call lock can go.
		m.releaseLock(id)
	}
	return c, nil
}

func (m *Machine) fireTerminal(c call.Call) {
	m.handlerMu.RLock()
	handlers := make([]func(call.Call), len(m.onTerminal))
	copy(handlers, m.onTerminal)
	m.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(c)
	}
}

func (m *Machine) archive(c call.Call) {
	if m.archiver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.archiver.Archive(ctx, c); err != nil {
			m.log.Errorf("archive call %s: %v", c.ID, err)
		}
	}()
}

func (m *Machine) lockFor(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Machine) releaseLock(id uuid.UUID) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}
