package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// PresenceStatus represents a user's online status
type PresenceStatus struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceStore tracks which users are reachable for calls. Entries
// expire on their own, so a crashed client reads as offline once the
// TTL lapses.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

const (
	presenceKeyPrefix = "presence:"
	presenceOnlineSet = "presence:online"
)

// NewPresenceStore creates a new presence store
func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{client: client, ttl: ttl}
}

// SetOnline marks a user as online. Calling it again refreshes the TTL,
// so it doubles as the heartbeat.
func (p *PresenceStore) SetOnline(ctx context.Context, userID string) error {
	status := PresenceStatus{
		UserID:   userID,
		IsOnline: true,
		LastSeen: time.Now(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID, data, p.ttl)
	pipe.SAdd(ctx, presenceOnlineSet, userID)
	_, err = pipe.Exec(ctx)
	return err
}

// SetOffline marks a user as offline, keeping the last-seen timestamp
// around for the TTL window.
func (p *PresenceStore) SetOffline(ctx context.Context, userID string) error {
	status := PresenceStatus{
		UserID:   userID,
		IsOnline: false,
		LastSeen: time.Now(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID, data, p.ttl)
	pipe.SRem(ctx, presenceOnlineSet, userID)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the presence record for a user. A missing record reads as
// offline with a zero last-seen time.
func (p *PresenceStore) Get(ctx context.Context, userID string) (PresenceStatus, error) {
	raw, err := p.client.Get(ctx, presenceKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return PresenceStatus{UserID: userID}, nil
		}
		return PresenceStatus{}, err
	}
	var status PresenceStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return PresenceStatus{}, err
	}
	return status, nil
}

// OnlineUsers lists the user IDs currently marked online.
func (p *PresenceStore) OnlineUsers(ctx context.Context) ([]string, error) {
	return p.client.SMembers(ctx, presenceOnlineSet).Result()
}
