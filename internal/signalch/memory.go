package signalch

import (
	"context"
	"sync"

	"peercall/internal/domain/signal"

	"github.com/google/uuid"
)

type memorySub struct {
	inbox  chan signal.Signal
	done   chan struct{}
	closed sync.Once
}

// MemoryChannel is an in-process Channel used by tests and by single-node
// deployments. Signals are retained per stream so late subscribers replay
// the backlog, matching the redis implementation.
type MemoryChannel struct {
	mu      sync.Mutex
	backlog map[string][]signal.Signal
	subs    map[string][]*memorySub
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		backlog: make(map[string][]signal.Signal),
		subs:    make(map[string][]*memorySub),
	}
}

func streamKey(callID, receiverID uuid.UUID) string {
	return callID.String() + ":" + receiverID.String()
}

func (c *MemoryChannel) Append(ctx context.Context, sig signal.Signal) error {
	key := streamKey(sig.CallID, sig.ReceiverID)
	c.mu.Lock()
	c.backlog[key] = append(c.backlog[key], sig)
	subs := append([]*memorySub(nil), c.subs[key]...)
	c.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.inbox <- sig:
		case <-sub.done:
		}
	}
	return nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context, callID, receiverID uuid.UUID, fn func(signal.Signal)) (func(), error) {
	key := streamKey(callID, receiverID)
	sub := &memorySub{
		inbox: make(chan signal.Signal, 64),
		done:  make(chan struct{}),
	}

	c.mu.Lock()
	replay := append([]signal.Signal(nil), c.backlog[key]...)
	c.subs[key] = append(c.subs[key], sub)
	c.mu.Unlock()

	go func() {
		seen := make(map[uuid.UUID]struct{})
		for _, sig := range replay {
			seen[sig.ID] = struct{}{}
			fn(sig)
		}
		for {
			select {
			case <-sub.done:
				return
			case sig := <-sub.inbox:
				if _, dup := seen[sig.ID]; dup {
					continue
				}
				seen[sig.ID] = struct{}{}
				fn(sig)
			}
		}
	}()

	cancel := func() {
		sub.closed.Do(func() { close(sub.done) })
		c.mu.Lock()
		subs := c.subs[key]
		for i, s := range subs {
			if s == sub {
				c.subs[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
	return cancel, nil
}
