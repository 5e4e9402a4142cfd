package notify

import (
	"context"

	"github.com/huddleworks/huddle/internal/store"
)

// RedisCursor persists notification cursors in the shared Redis store so
// cursors survive restarts and are shared between processes.
type RedisCursor struct {
	store *store.RedisStore
}

// NewRedisCursor wraps the Redis store as a Cursor.
func NewRedisCursor(rs *store.RedisStore) *RedisCursor {
	return &RedisCursor{store: rs}
}

func (c *RedisCursor) Last(ctx context.Context, userID string) (string, error) {
	return c.store.NotifyCursor(ctx, userID)
}

func (c *RedisCursor) Advance(ctx context.Context, userID, messageID string) error {
	return c.store.AdvanceNotifyCursor(ctx, userID, messageID)
}
