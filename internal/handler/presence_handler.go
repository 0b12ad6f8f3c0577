package handler

import (
	"net/http"

	"peercall/internal/redis"
	"peercall/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PresenceHandler struct {
	presence *redis.PresenceStore
}

func NewPresenceHandler(presence *redis.PresenceStore) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Get reports whether a user is reachable for calls right now.
func (h *PresenceHandler) Get(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid user id", "INVALID_REQUEST"))
		return
	}
	status, err := h.presence.Get(c.Request.Context(), userID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "REQUEST_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(status))
}
