// Package store implements the call record store: a small document store
// holding the live state of every call, with change subscriptions so both
// participants converge on the same lifecycle status.
package store

import (
	"context"

	"peercall/internal/domain/call"

	"github.com/google/uuid"
)

// CallStore is the minimal contract the controller needs from the record
// store. Implementations must deliver Watch callbacks for a given call in
// the order the updates were applied.
type CallStore interface {
	// Create persists a new call. Fails with ErrAlreadyExists when a
	// non-terminal call already exists for the same unordered participant
	// pair.
	Create(ctx context.Context, c *call.Call) error

	// Get returns the call or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (call.Call, error)

	// Update replaces the stored record and notifies watchers.
	Update(ctx context.Context, c call.Call) error

	// Watch invokes fn for every subsequent update of the call. The
	// returned func cancels the subscription.
	Watch(ctx context.Context, id uuid.UUID, fn func(call.Call)) (func(), error)

	// WatchRinging invokes fn for every call that enters ringing status
	// addressed to calleeID. The returned func cancels the subscription.
	WatchRinging(ctx context.Context, calleeID uuid.UUID, fn func(call.Call)) (func(), error)
}
