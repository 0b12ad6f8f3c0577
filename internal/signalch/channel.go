// Package signalch implements the signal channel: an append-only,
// per-(call, receiver) stream of offer/answer/ICE messages. Delivery is
// at-least-once; consumers must tolerate replays.
package signalch

import (
	"context"

	"peercall/internal/domain/signal"

	"github.com/google/uuid"
)

// Channel transports signals between the two participants of a call.
type Channel interface {
	// Append publishes sig to its receiver. Callers treat failures as
	// fatal for offer/answer and best-effort for ICE candidates.
	Append(ctx context.Context, sig signal.Signal) error

	// Subscribe delivers, in order, every signal addressed to receiverID
	// for callID: first any backlog appended before the subscription, then
	// live signals. fn is invoked from a single goroutine. The returned
	// func cancels the subscription.
	Subscribe(ctx context.Context, callID, receiverID uuid.UUID, fn func(signal.Signal)) (func(), error)
}
