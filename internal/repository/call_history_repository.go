package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"peercall/internal/domain/call"

	"github.com/google/uuid"
)

type PostgresCallHistory struct {
	db DBTX
}

func NewCallHistory(db DBTX) CallHistoryRepository {
	return &PostgresCallHistory{db: db}
}

// Archive upserts a terminated call. The lifecycle layer may retry after
// transient failures, so the write is idempotent by call id.
func (r *PostgresCallHistory) Archive(ctx context.Context, c call.Call) error {
	const q = `
		INSERT INTO calls (
			id, caller_id, callee_id, caller_name, callee_name,
			caller_avatar, callee_avatar, media_type, status, end_reason,
			created_at, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			end_reason = EXCLUDED.end_reason,
			started_at = EXCLUDED.started_at,
			ended_at   = EXCLUDED.ended_at`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.CallerID, c.CalleeID, c.CallerName, c.CalleeName,
		c.CallerAvatar, c.CalleeAvatar, c.Media, c.Status, c.EndReason,
		c.CreatedAt, c.StartedAt, c.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("archive call %s: %w", c.ID, err)
	}
	return nil
}

// Recent returns the newest calls the user took part in, either side.
func (r *PostgresCallHistory) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]call.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, caller_id, callee_id, caller_name, callee_name,
		       caller_avatar, callee_avatar, media_type, status, end_reason,
		       created_at, started_at, ended_at
		FROM calls
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalls(rows)
}

// Missed returns ring timeouts against the user since the given time.
func (r *PostgresCallHistory) Missed(ctx context.Context, userID uuid.UUID, since time.Time) ([]call.Call, error) {
	const q = `
		SELECT id, caller_id, callee_id, caller_name, callee_name,
		       caller_avatar, callee_avatar, media_type, status, end_reason,
		       created_at, started_at, ended_at
		FROM calls
		WHERE callee_id = $1 AND status = $2 AND end_reason = $3 AND created_at >= $4
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID, call.StatusRejected, call.ReasonTimeout, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalls(rows)
}

func scanCalls(rows *sql.Rows) ([]call.Call, error) {
	var out []call.Call
	for rows.Next() {
		var c call.Call
		var started, ended sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.CallerID, &c.CalleeID, &c.CallerName, &c.CalleeName,
			&c.CallerAvatar, &c.CalleeAvatar, &c.Media, &c.Status, &c.EndReason,
			&c.CreatedAt, &started, &ended,
		); err != nil {
			return nil, err
		}
		if started.Valid {
			t := started.Time
			c.StartedAt = &t
		}
		if ended.Valid {
			t := ended.Time
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
