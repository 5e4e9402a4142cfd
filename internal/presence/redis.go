package presence

import (
	"context"
	"time"

	"github.com/huddleworks/huddle/internal/store"
)

// Redis is the Registry backed by the shared Redis store, for deployments
// with more than one server process.
type Redis struct {
	store *store.RedisStore
	ttl   time.Duration
}

// NewRedis wraps the Redis store as a Registry. A ttl of zero uses
// DefaultTTL.
func NewRedis(rs *store.RedisStore, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{store: rs, ttl: ttl}
}

func (r *Redis) Set(ctx context.Context, roomID, userID string) error {
	return r.store.SetTyping(ctx, roomID, userID, time.Now().Add(r.ttl))
}

func (r *Redis) Clear(ctx context.Context, roomID, userID string) error {
	return r.store.ClearTyping(ctx, roomID, userID)
}

func (r *Redis) Active(ctx context.Context, roomID, excludeUser string) ([]string, error) {
	return r.store.TypingUsers(ctx, roomID, excludeUser)
}
