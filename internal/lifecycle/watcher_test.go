package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"peercall/internal/domain/call"
	"peercall/internal/store"

	"github.com/google/uuid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherAutoRejectsAfterTimeout(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	w := NewWatcher(m, 60*time.Second, nil)

	base := time.Now()
	c := call.Call{
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		Media:     call.MediaAudio,
		Status:    call.StatusRinging,
		CreatedAt: base,
	}
	require.NoError(t, s.Create(context.Background(), &c))
	w.Track(c)

	// 59 seconds in: still ringing.
	w.now = func() time.Time { return base.Add(59 * time.Second) }
	w.Sweep(context.Background())
	got, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRinging, got.Status)

	// 61 seconds in: auto-rejected with the timeout reason.
	w.now = func() time.Time { return base.Add(61 * time.Second) }
	w.Sweep(context.Background())
	got, err = s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, got.Status)
	assert.Equal(t, call.ReasonTimeout, got.EndReason)
}

func TestWatcherIgnoresAnsweredCall(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	w := NewWatcher(m, 60*time.Second, nil)

	base := time.Now()
	c := call.Call{
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		Media:     call.MediaVideo,
		Status:    call.StatusRinging,
		CreatedAt: base,
	}
	require.NoError(t, s.Create(context.Background(), &c))
	w.Track(c)

	_, err := m.Connect(context.Background(), c.ID)
	require.NoError(t, err)

	w.now = func() time.Time { return base.Add(2 * time.Minute) }
	w.Sweep(context.Background())

	got, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusConnected, got.Status)
}

func TestWatcherSweepIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	w := NewWatcher(m, 60*time.Second, nil)

	var mu sync.Mutex
	terminal := 0
	m.OnTerminal(func(call.Call) {
		mu.Lock()
		terminal++
		mu.Unlock()
	})

	base := time.Now()
	c := call.Call{
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		Media:     call.MediaAudio,
		Status:    call.StatusRinging,
		CreatedAt: base,
	}
	require.NoError(t, s.Create(context.Background(), &c))
	w.Track(c)
	w.now = func() time.Time { return base.Add(90 * time.Second) }

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Sweep(context.Background())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, terminal)
}

func TestWatcherTrackSkipsNonRinging(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	w := NewWatcher(m, 60*time.Second, nil)

	c := call.Call{
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		Status:    call.StatusConnected,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	w.Track(c)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Empty(t, w.ringing)
}
