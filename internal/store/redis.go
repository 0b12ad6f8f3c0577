package store

import (
	"context"
	"encoding/json"
	"time"

	"peercall/internal/domain/call"
	peercall_errors "peercall/pkg/errors"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Redis key prefixes for call records
const (
	callStateKey   = "call:state:"   // JSON call record
	callEventsKey  = "call:events:"  // pub/sub channel per call
	callRingingKey = "call:ringing:" // pub/sub channel per callee
	callLivePair   = "call:live:"    // live-call guard per participant pair
	callStateTTL   = 24 * time.Hour
	livePairTTL    = 2 * time.Hour
)

// RedisStore is a CallStore backed by redis: JSON records with a TTL plus
// pub/sub fan-out so every participant process observes status changes.
type RedisStore struct {
	client *goredis.Client
}

func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, c *call.Call) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	pairKey := callLivePair + call.PairKey(c.CallerID, c.CalleeID)
	ok, err := s.client.SetNX(ctx, pairKey, c.ID.String(), livePairTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return peercall_errors.ErrAlreadyExists
	}

	if err := s.write(ctx, *c); err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, callRingingKey+c.CalleeID.String(), data).Err()
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (call.Call, error) {
	data, err := s.client.Get(ctx, callStateKey+id.String()).Result()
	if err == goredis.Nil {
		return call.Call{}, peercall_errors.ErrNotFound
	}
	if err != nil {
		return call.Call{}, err
	}
	var c call.Call
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return call.Call{}, err
	}
	return c, nil
}

func (s *RedisStore) Update(ctx context.Context, c call.Call) error {
	if err := s.write(ctx, c); err != nil {
		return err
	}
	if c.Status.Terminal() {
		pairKey := callLivePair + call.PairKey(c.CallerID, c.CalleeID)
		// Release the pair guard only if this call still holds it.
		current, err := s.client.Get(ctx, pairKey).Result()
		if err == nil && current == c.ID.String() {
			_ = s.client.Del(ctx, pairKey).Err()
		}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, callEventsKey+c.ID.String(), data).Err()
}

func (s *RedisStore) write(ctx context.Context, c call.Call) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, callStateKey+c.ID.String(), data, callStateTTL).Err()
}

func (s *RedisStore) Watch(ctx context.Context, id uuid.UUID, fn func(call.Call)) (func(), error) {
	return s.subscribe(ctx, callEventsKey+id.String(), fn)
}

func (s *RedisStore) WatchRinging(ctx context.Context, calleeID uuid.UUID, fn func(call.Call)) (func(), error) {
	return s.subscribe(ctx, callRingingKey+calleeID.String(), func(c call.Call) {
		if c.Status == call.StatusRinging {
			fn(c)
		}
	})
}

func (s *RedisStore) subscribe(ctx context.Context, channel string, fn func(call.Call)) (func(), error) {
	sub := s.client.Subscribe(ctx, channel)
	// Force the subscription to be established before returning so no
	// update published after this call is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	go func() {
		for msg := range sub.Channel() {
			var c call.Call
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				continue
			}
			fn(c)
		}
	}()

	return func() { _ = sub.Close() }, nil
}
