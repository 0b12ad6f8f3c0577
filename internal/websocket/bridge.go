package websocket

import (
	"encoding/json"

	"peercall/internal/controller"
	"peercall/internal/transport/httpdto"
	"peercall/pkg/logger"
)

// eventEnvelope is the wire form of one call event pushed to clients.
type eventEnvelope struct {
	Type string          `json:"type"`
	Call httpdto.CallDTO `json:"call"`
}

// Bridge forwards controller lifecycle events to the hub so connected
// clients see ringing, connected and terminal transitions as they land.
type Bridge struct {
	hub *Hub
	log *logger.Logger
}

func NewBridge(hub *Hub, log *logger.Logger) *Bridge {
	return &Bridge{hub: hub, log: log}
}

// Attach subscribes to the controller's event stream. The returned func
// cancels the subscription.
func (b *Bridge) Attach(ctrl *controller.Controller) func() {
	return ctrl.Subscribe(func(evt controller.Event) {
		payload, err := json.Marshal(eventEnvelope{
			Type: string(evt.Type),
			Call: httpdto.FromCall(evt.Call),
		})
		if err != nil {
			b.log.Errorf("marshal call event: %v", err)
			return
		}
		b.hub.BroadcastToUser(evt.Call.CallerID.String(), payload)
		b.hub.BroadcastToUser(evt.Call.CalleeID.String(), payload)
	})
}
