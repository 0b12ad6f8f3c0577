package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"peercall/internal/domain/call"
	"peercall/internal/store"
	peercall_errors "peercall/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRingingCall(t *testing.T, s store.CallStore) call.Call {
	t.Helper()
	c := call.Call{
		ID:        uuid.New(),
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		Media:     call.MediaVideo,
		Status:    call.StatusRinging,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Create(context.Background(), &c))
	return c
}

func TestMachineConnect(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	c := newRingingCall(t, s)

	connected, err := m.Connect(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusConnected, connected.Status)
	require.NotNil(t, connected.StartedAt)
	assert.Nil(t, connected.EndedAt)
}

func TestMachineRejectStampsReason(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	c := newRingingCall(t, s)

	rejected, err := m.Reject(context.Background(), c.ID, call.ReasonDeclined)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, rejected.Status)
	assert.Equal(t, call.ReasonDeclined, rejected.EndReason)
	require.NotNil(t, rejected.EndedAt)
}

func TestMachineEndFromConnected(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	c := newRingingCall(t, s)

	_, err := m.Connect(context.Background(), c.ID)
	require.NoError(t, err)

	ended, err := m.End(context.Background(), c.ID, call.ReasonCompleted)
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, ended.Status)
	assert.Equal(t, call.ReasonCompleted, ended.EndReason)
}

func TestMachineStaleActions(t *testing.T) {
	tests := []struct {
		name string
		prep func(t *testing.T, m *Machine, id uuid.UUID)
		act  func(m *Machine, id uuid.UUID) error
	}{
		{
			name: "accept after reject",
			prep: func(t *testing.T, m *Machine, id uuid.UUID) {
				_, err := m.Reject(context.Background(), id, call.ReasonDeclined)
				require.NoError(t, err)
			},
			act: func(m *Machine, id uuid.UUID) error {
				_, err := m.Connect(context.Background(), id)
				return err
			},
		},
		{
			name: "reject after connect",
			prep: func(t *testing.T, m *Machine, id uuid.UUID) {
				_, err := m.Connect(context.Background(), id)
				require.NoError(t, err)
			},
			act: func(m *Machine, id uuid.UUID) error {
				_, err := m.Reject(context.Background(), id, call.ReasonDeclined)
				return err
			},
		},
		{
			name: "end after end",
			prep: func(t *testing.T, m *Machine, id uuid.UUID) {
				_, err := m.End(context.Background(), id, call.ReasonCompleted)
				require.NoError(t, err)
			},
			act: func(m *Machine, id uuid.UUID) error {
				_, err := m.End(context.Background(), id, call.ReasonCompleted)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			m := NewMachine(s, nil)
			c := newRingingCall(t, s)

			tt.prep(t, m, c.ID)
			err := tt.act(m, c.ID)
			assert.ErrorIs(t, err, peercall_errors.ErrCallNotActionable)
		})
	}
}

func TestMachineUnknownCallNotActionable(t *testing.T) {
	m := NewMachine(store.NewMemoryStore(), nil)
	_, err := m.Connect(context.Background(), uuid.New())
	assert.ErrorIs(t, err, peercall_errors.ErrCallNotActionable)
}

func TestMachineTerminalHandlerFiresOnce(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	c := newRingingCall(t, s)

	var mu sync.Mutex
	var fired []call.Status
	m.OnTerminal(func(tc call.Call) {
		mu.Lock()
		fired = append(fired, tc.Status)
		mu.Unlock()
	})

	_, err := m.End(context.Background(), c.ID, call.ReasonCompleted)
	require.NoError(t, err)
	_, err = m.End(context.Background(), c.ID, call.ReasonCompleted)
	assert.ErrorIs(t, err, peercall_errors.ErrCallNotActionable)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	assert.Equal(t, call.StatusEnded, fired[0])
}

func TestMachineAllTerminalHandlersFire(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	c := newRingingCall(t, s)

	var mu sync.Mutex
	fired := make(map[int]int)
	for i := 0; i < 3; i++ {
		i := i
		m.OnTerminal(func(call.Call) {
			mu.Lock()
			fired[i]++
			mu.Unlock()
		})
	}

	_, err := m.End(context.Background(), c.ID, call.ReasonCompleted)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, fired)
}

func TestMachineReleasesLockAfterTerminal(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	c := newRingingCall(t, s)

	_, err := m.Connect(context.Background(), c.ID)
	require.NoError(t, err)
	m.mu.Lock()
	assert.Len(t, m.locks, 1)
	m.mu.Unlock()

	_, err = m.End(context.Background(), c.ID, call.ReasonCompleted)
	require.NoError(t, err)
	m.mu.Lock()
	assert.Empty(t, m.locks)
	m.mu.Unlock()
}

type recordingArchiver struct {
	mu    sync.Mutex
	calls []call.Call
	done  chan struct{}
}

func (a *recordingArchiver) Archive(ctx context.Context, c call.Call) error {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
	close(a.done)
	return nil
}

func TestMachineArchivesTerminalCall(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewMachine(s, nil)
	arch := &recordingArchiver{done: make(chan struct{})}
	m.SetArchiver(arch)
	c := newRingingCall(t, s)

	_, err := m.Reject(context.Background(), c.ID, call.ReasonTimeout)
	require.NoError(t, err)

	select {
	case <-arch.done:
	case <-time.After(2 * time.Second):
		t.Fatal("archiver was not invoked")
	}

	arch.mu.Lock()
	defer arch.mu.Unlock()
	require.Len(t, arch.calls, 1)
	assert.Equal(t, call.ReasonTimeout, arch.calls[0].EndReason)
}
