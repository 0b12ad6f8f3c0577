package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"peercall/internal/controller"
	"peercall/internal/domain/call"
	"peercall/internal/repository"
	"peercall/internal/transport/httpdto"
	peercall_errors "peercall/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CallHandler struct {
	controller *controller.Controller
	history    repository.CallHistoryRepository
}

func NewCallHandler(ctrl *controller.Controller, history repository.CallHistoryRepository) *CallHandler {
	return &CallHandler{controller: ctrl, history: history}
}

func (h *CallHandler) Initiate(c *gin.Context) {
	var req httpdto.InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	calleeID, err := uuid.Parse(req.CalleeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid callee_id", "INVALID_REQUEST"))
		return
	}
	created, err := h.controller.Initiate(c.Request.Context(), calleeID, req.CalleeName, call.MediaType(req.MediaType))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.FromCall(created)))
}

func (h *CallHandler) Accept(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return
	}
	connected, err := h.controller.Accept(c.Request.Context(), callID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromCall(connected)))
}

func (h *CallHandler) Reject(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return
	}
	if err := h.controller.Reject(c.Request.Context(), callID); err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"rejected": true}))
}

func (h *CallHandler) End(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return
	}
	if err := h.controller.End(c.Request.Context(), callID); err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"ended": true}))
}

func (h *CallHandler) State(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return
	}
	snap, err := h.controller.State(c.Request.Context(), callID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"call":   httpdto.FromCall(snap.Call),
		"tracks": httpdto.FromTrackState(snap.Tracks),
	}))
}

func (h *CallHandler) Ringing(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"calls": httpdto.FromCalls(h.controller.Ringing()),
	}))
}

func (h *CallHandler) ToggleAudio(c *gin.Context) {
	h.toggle(c, h.controller.ToggleAudio, "audio_enabled")
}

func (h *CallHandler) ToggleVideo(c *gin.Context) {
	h.toggle(c, h.controller.ToggleVideo, "video_enabled")
}

func (h *CallHandler) toggle(c *gin.Context, fn func(uuid.UUID) (bool, error), field string) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return
	}
	enabled, err := fn(callID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{field: enabled}))
}

func (h *CallHandler) StartScreenShare(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return
	}
	if err := h.controller.StartScreenShare(callID); err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"screen_sharing": true}))
}

func (h *CallHandler) StopScreenShare(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return
	}
	if err := h.controller.StopScreenShare(callID); err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"screen_sharing": false}))
}

func (h *CallHandler) History(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid user_id", "INVALID_REQUEST"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.history.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "REQUEST_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"calls": httpdto.FromCalls(items)}))
}

func (h *CallHandler) MissedCalls(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid user_id", "INVALID_REQUEST"))
		return
	}
	since, _ := time.Parse(time.RFC3339, c.Query("since"))
	items, err := h.history.Missed(c.Request.Context(), userID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "REQUEST_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"calls": httpdto.FromCalls(items)}))
}

func writeCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, peercall_errors.ErrNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("call not found", "NOT_FOUND"))
	case errors.Is(err, peercall_errors.ErrCallNotActionable):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse("call is not actionable", "CALL_NOT_ACTIONABLE"))
	case errors.Is(err, peercall_errors.ErrAlreadyExists):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse("a live call already exists for this pair", "CALL_EXISTS"))
	case errors.Is(err, peercall_errors.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
	case errors.Is(err, peercall_errors.ErrMediaAccess):
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "MEDIA_ACCESS"))
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "REQUEST_FAILED"))
	}
}
