package repository

import (
	"context"
	"time"

	"peercall/internal/domain/call"

	"github.com/google/uuid"
)

// CallHistoryRepository persists terminated calls for history queries.
type CallHistoryRepository interface {
	Archive(ctx context.Context, c call.Call) error
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]call.Call, error)
	Missed(ctx context.Context, userID uuid.UUID, since time.Time) ([]call.Call, error)
}
