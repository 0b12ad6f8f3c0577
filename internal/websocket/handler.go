package websocket

import (
	"context"
	"net/http"
	"time"

	"peercall/internal/auth"
	"peercall/internal/redis"
	"peercall/internal/transport/httpdto"
	"peercall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The API fronts a local client; origin checks belong to the
		// reverse proxy in front of it.
		return true
	},
}

type Handler struct {
	hub      *Hub
	verifier *auth.Verifier
	presence *redis.PresenceStore
	log      *logger.Logger
}

func NewHandler(hub *Hub, verifier *auth.Verifier, presence *redis.PresenceStore, log *logger.Logger) *Handler {
	return &Handler{hub: hub, verifier: verifier, presence: presence, log: log}
}

// Connect upgrades the request and streams call events to the client.
// Browsers cannot set headers on WebSocket dials, so the token rides in
// the query string.
func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	claims, err := h.verifier.ParseAccessToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade: %v", err)
		return
	}

	client := NewClient(conn, claims.UserID)
	h.hub.Register(client)
	go client.WriteLoop(c.Request.Context())

	if h.presence != nil {
		if err := h.presence.SetOnline(c.Request.Context(), client.UserID); err != nil {
			h.log.Warnf("presence online %s: %v", client.UserID, err)
		}
	}

	if err := client.ReadLoop(); err != nil {
		h.log.Debugf("websocket client %s closed: %v", client.ID, err)
	}
	h.hub.Unregister(client)

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOffline(ctx, client.UserID); err != nil {
			h.log.Warnf("presence offline %s: %v", client.UserID, err)
		}
	}
}
