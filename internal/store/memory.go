package store

import (
	"context"
	"sync"

	"peercall/internal/domain/call"
	peercall_errors "peercall/pkg/errors"

	"github.com/google/uuid"
)

// MemoryStore is an in-process CallStore. Both participants of a test
// scenario share one instance, which makes it the reference implementation
// for lifecycle convergence semantics.
type MemoryStore struct {
	mu       sync.RWMutex
	calls    map[uuid.UUID]call.Call
	livePair map[string]uuid.UUID // pair key -> live call id

	watchSeq     int
	callWatch    map[uuid.UUID]map[int]func(call.Call)
	ringingWatch map[uuid.UUID]map[int]func(call.Call)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:        make(map[uuid.UUID]call.Call),
		livePair:     make(map[string]uuid.UUID),
		callWatch:    make(map[uuid.UUID]map[int]func(call.Call)),
		ringingWatch: make(map[uuid.UUID]map[int]func(call.Call)),
	}
}

func (s *MemoryStore) Create(ctx context.Context, c *call.Call) error {
	s.mu.Lock()
	pair := call.PairKey(c.CallerID, c.CalleeID)
	if liveID, ok := s.livePair[pair]; ok {
		if existing, found := s.calls[liveID]; found && !existing.Status.Terminal() {
			s.mu.Unlock()
			return peercall_errors.ErrAlreadyExists
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.calls[c.ID] = *c
	s.livePair[pair] = c.ID
	ringing := s.snapshotRingingWatchers(c.CalleeID)
	s.mu.Unlock()

	for _, fn := range ringing {
		fn(*c)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (call.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return call.Call{}, peercall_errors.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Update(ctx context.Context, c call.Call) error {
	s.mu.Lock()
	if _, ok := s.calls[c.ID]; !ok {
		s.mu.Unlock()
		return peercall_errors.ErrNotFound
	}
	s.calls[c.ID] = c
	if c.Status.Terminal() {
		pair := call.PairKey(c.CallerID, c.CalleeID)
		if s.livePair[pair] == c.ID {
			delete(s.livePair, pair)
		}
	}
	watchers := s.snapshotCallWatchers(c.ID)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(c)
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, id uuid.UUID, fn func(call.Call)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchSeq++
	seq := s.watchSeq
	if s.callWatch[id] == nil {
		s.callWatch[id] = make(map[int]func(call.Call))
	}
	s.callWatch[id][seq] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.callWatch[id], seq)
	}, nil
}

func (s *MemoryStore) WatchRinging(ctx context.Context, calleeID uuid.UUID, fn func(call.Call)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchSeq++
	seq := s.watchSeq
	if s.ringingWatch[calleeID] == nil {
		s.ringingWatch[calleeID] = make(map[int]func(call.Call))
	}
	s.ringingWatch[calleeID][seq] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.ringingWatch[calleeID], seq)
	}, nil
}

func (s *MemoryStore) snapshotCallWatchers(id uuid.UUID) []func(call.Call) {
	out := make([]func(call.Call), 0, len(s.callWatch[id]))
	for _, fn := range s.callWatch[id] {
		out = append(out, fn)
	}
	return out
}

func (s *MemoryStore) snapshotRingingWatchers(calleeID uuid.UUID) []func(call.Call) {
	out := make([]func(call.Call), 0, len(s.ringingWatch[calleeID]))
	for _, fn := range s.ringingWatch[calleeID] {
		out = append(out, fn)
	}
	return out
}
