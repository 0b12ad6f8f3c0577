package signalch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"peercall/internal/domain/signal"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Redis key prefixes for signaling
const (
	signalListKey    = "call:signal:" // list of signals per (call, receiver)
	signalChannelKey = "call:signalch:"
	defaultSignalTTL = 5 * time.Minute
)

// RedisChannel transports signals through redis: every signal is appended
// to a per-(call, receiver) list and published on a matching pub/sub
// channel. The list gives late subscribers the backlog; the TTL is the
// delayed, non-blocking cleanup of consumed signals.
type RedisChannel struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisChannel(client *goredis.Client, ttl time.Duration) *RedisChannel {
	if ttl <= 0 {
		ttl = defaultSignalTTL
	}
	return &RedisChannel{client: client, ttl: ttl}
}

func redisStreamKey(prefix string, callID, receiverID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", prefix, callID, receiverID)
}

func (c *RedisChannel) Append(ctx context.Context, sig signal.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}

	listKey := redisStreamKey(signalListKey, sig.CallID, sig.ReceiverID)
	pipe := c.client.Pipeline()
	pipe.RPush(ctx, listKey, data)
	pipe.Expire(ctx, listKey, c.ttl)
	pipe.Publish(ctx, redisStreamKey(signalChannelKey, sig.CallID, sig.ReceiverID), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisChannel) Subscribe(ctx context.Context, callID, receiverID uuid.UUID, fn func(signal.Signal)) (func(), error) {
	sub := c.client.Subscribe(ctx, redisStreamKey(signalChannelKey, callID, receiverID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	// Backlog first: signals appended before the subscription existed
	// (e.g. an offer sent while the callee had not yet accepted).
	backlog, err := c.client.LRange(ctx, redisStreamKey(signalListKey, callID, receiverID), 0, -1).Result()
	if err != nil && err != goredis.Nil {
		_ = sub.Close()
		return nil, err
	}

	go func() {
		seen := make(map[uuid.UUID]struct{})
		deliver := func(raw []byte) {
			var sig signal.Signal
			if err := json.Unmarshal(raw, &sig); err != nil {
				return
			}
			if _, dup := seen[sig.ID]; dup {
				return
			}
			seen[sig.ID] = struct{}{}
			fn(sig)
		}
		for _, raw := range backlog {
			deliver([]byte(raw))
		}
		for msg := range sub.Channel() {
			deliver([]byte(msg.Payload))
		}
	}()

	return func() { _ = sub.Close() }, nil
}
