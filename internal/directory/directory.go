// Package directory tracks the calls currently ringing toward the local
// user, for duplicate/simultaneous-call display. The list is only ever
// appended to or filtered by id, never mutated element-wise.
package directory

import (
	"sync"

	"peercall/internal/domain/call"

	"github.com/google/uuid"
)

type Directory struct {
	mu    sync.RWMutex
	calls []call.Call
}

func New() *Directory {
	return &Directory{}
}

// Add appends an incoming ringing call. Duplicate ids are ignored.
func (d *Directory) Add(c call.Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.calls {
		if existing.ID == c.ID {
			return
		}
	}
	d.calls = append(d.calls, c)
}

// Remove filters the call out by id.
func (d *Directory) Remove(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	filtered := d.calls[:0]
	for _, c := range d.calls {
		if c.ID != id {
			filtered = append(filtered, c)
		}
	}
	d.calls = filtered
}

// List returns a copy of the ringing calls.
func (d *Directory) List() []call.Call {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]call.Call(nil), d.calls...)
}

// Len returns the number of ringing calls.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.calls)
}
