package peercall_errors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCallNotActionable = errors.New("call not actionable")
	ErrMediaAccess       = errors.New("media access denied or unavailable")
	ErrSignalDelivery    = errors.New("signal delivery failed")
	ErrPeerConnection    = errors.New("peer connection failure")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyExists     = errors.New("already exists")
	ErrSessionClosed     = errors.New("media session closed")
)

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
