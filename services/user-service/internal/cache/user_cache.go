package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"finagg/libs/events"
	"finagg/libs/events/schema"
	"finagg/services/user-service/internal/storage"
)

// UserCache keeps rendered user profiles in Redis. It is read-through on the
// profile endpoint and invalidated by the local bus when a user-mutating
// transaction commits.
type UserCache struct {
	rdb    *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

func NewUserCache(rdb *redis.Client, logger *slog.Logger, ttl time.Duration) *UserCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UserCache{rdb: rdb, logger: logger, ttl: ttl}
}

func key(userID string) string { return "user:profile:" + userID }

func (c *UserCache) Get(ctx context.Context, userID string) (storage.User, bool) {
	data, err := c.rdb.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("user cache read failed", "err", err)
		}
		return storage.User{}, false
	}
	var u storage.User
	if err := json.Unmarshal(data, &u); err != nil {
		return storage.User{}, false
	}
	return u, true
}

func (c *UserCache) Set(ctx context.Context, u storage.User) {
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(u.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("user cache write failed", "err", err)
	}
}

// SubscribeInvalidation drops cached profiles when USER events fire on the
// local bus after commit. Best effort: a missed invalidation expires with the
// TTL.
func (c *UserCache) SubscribeInvalidation(bus *events.LocalBus) {
	bus.Subscribe(events.TopicUser, func(ctx context.Context, env events.Envelope) error {
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(env.Payload, &body); err != nil || body.UserID == "" {
			return nil
		}
		if env.PayloadClass != schema.ClassUserCreated && env.PayloadClass != schema.ClassUserUpdated {
			return nil
		}
		return c.rdb.Del(ctx, key(body.UserID)).Err()
	})
}
