package controller

import "peercall/internal/domain/call"

// EventType enumerates the lifecycle notifications pushed to the UI layer.
type EventType string

const (
	EventIncoming  EventType = "call.incoming"
	EventConnected EventType = "call.connected"
	EventEnded     EventType = "call.ended"
	EventRejected  EventType = "call.rejected"
)

// Event is one lifecycle notification.
type Event struct {
	Type EventType `json:"type"`
	Call call.Call `json:"call"`
}
