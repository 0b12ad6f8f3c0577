package store

import (
	"context"
	"testing"
	"time"

	"peercall/internal/domain/call"
	peercall_errors "peercall/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringing(caller, callee uuid.UUID) call.Call {
	return call.Call{
		ID:        uuid.New(),
		CallerID:  caller,
		CalleeID:  callee,
		Media:     call.MediaAudio,
		Status:    call.StatusRinging,
		CreatedAt: time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	c := ringing(uuid.New(), uuid.New())

	require.NoError(t, s.Create(context.Background(), &c))
	got, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, call.StatusRinging, got.Status)
}

func TestGetUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, peercall_errors.ErrNotFound)
}

func TestCreateRejectsSecondLiveCallForPair(t *testing.T) {
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	first := ringing(a, b)
	require.NoError(t, s.Create(context.Background(), &first))

	// Same pair, either direction.
	second := ringing(b, a)
	assert.ErrorIs(t, s.Create(context.Background(), &second), peercall_errors.ErrAlreadyExists)

	// A different pair is unaffected.
	other := ringing(a, uuid.New())
	assert.NoError(t, s.Create(context.Background(), &other))
}

func TestPairFreedWhenCallTerminates(t *testing.T) {
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	first := ringing(a, b)
	require.NoError(t, s.Create(context.Background(), &first))

	first.Status = call.StatusEnded
	require.NoError(t, s.Update(context.Background(), first))

	second := ringing(a, b)
	assert.NoError(t, s.Create(context.Background(), &second))
}

func TestWatchDeliversUpdates(t *testing.T) {
	s := NewMemoryStore()
	c := ringing(uuid.New(), uuid.New())
	require.NoError(t, s.Create(context.Background(), &c))

	var got []call.Status
	unwatch, err := s.Watch(context.Background(), c.ID, func(updated call.Call) {
		got = append(got, updated.Status)
	})
	require.NoError(t, err)

	c.Status = call.StatusConnected
	require.NoError(t, s.Update(context.Background(), c))
	c.Status = call.StatusEnded
	require.NoError(t, s.Update(context.Background(), c))

	assert.Equal(t, []call.Status{call.StatusConnected, call.StatusEnded}, got)

	unwatch()
	c2 := ringing(uuid.New(), uuid.New())
	require.NoError(t, s.Create(context.Background(), &c2))
	c2.Status = call.StatusEnded
	require.NoError(t, s.Update(context.Background(), c2))
	assert.Len(t, got, 2)
}

func TestWatchRingingNotifiesCallee(t *testing.T) {
	s := NewMemoryStore()
	callee := uuid.New()

	var got []call.Call
	unwatch, err := s.WatchRinging(context.Background(), callee, func(c call.Call) {
		got = append(got, c)
	})
	require.NoError(t, err)
	defer unwatch()

	toCallee := ringing(uuid.New(), callee)
	require.NoError(t, s.Create(context.Background(), &toCallee))

	toSomeoneElse := ringing(uuid.New(), uuid.New())
	require.NoError(t, s.Create(context.Background(), &toSomeoneElse))

	require.Len(t, got, 1)
	assert.Equal(t, toCallee.ID, got[0].ID)
}

func TestUpdateUnknownCall(t *testing.T) {
	s := NewMemoryStore()
	c := ringing(uuid.New(), uuid.New())
	assert.ErrorIs(t, s.Update(context.Background(), c), peercall_errors.ErrNotFound)
}
