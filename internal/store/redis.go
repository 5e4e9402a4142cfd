package store

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huddleworks/huddle/internal/models"
)

const searchTTL = 30 * 24 * time.Hour

// RedisStore handles Redis operations: typing presence, the search word
// index, rate limit counters and notification cursors. All of it is
// derived or ephemeral state; the SQL store remains authoritative.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that shares the
// connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// typingKey returns the key for a room's typing sorted set.
func typingKey(roomID string) string {
	return fmt.Sprintf("room:%s:typing", roomID)
}

// searchWordKey returns the key for a search word index.
func searchWordKey(word string) string {
	return fmt.Sprintf("search:words:%s", strings.ToLower(word))
}

// notifyCursorKey returns the key for a user's last-notified cursor.
func notifyCursorKey(userID string) string {
	return fmt.Sprintf("notify:%s:cursor", userID)
}

// SetTyping upserts a typing entry scored by its expiry. Expired members
// are swept lazily on read, so a crashed client costs nothing.
func (s *RedisStore) SetTyping(ctx context.Context, roomID, userID string, expiresAt time.Time) error {
	key := typingKey(roomID)
	if err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: userID,
	}).Err(); err != nil {
		return err
	}
	// The whole set can expire once the latest entry is stale.
	return s.client.Expire(ctx, key, time.Until(expiresAt)+time.Minute).Err()
}

// ClearTyping removes a typing entry immediately (called on send).
func (s *RedisStore) ClearTyping(ctx context.Context, roomID, userID string) error {
	return s.client.ZRem(ctx, typingKey(roomID), userID).Err()
}

// TypingUsers returns users whose typing entries have not expired,
// excluding the caller, and purges stale members opportunistically.
func (s *RedisStore) TypingUsers(ctx context.Context, roomID, excludeUser string) ([]string, error) {
	key := typingKey(roomID)
	now := time.Now().UnixMilli()

	s.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now, 10))

	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", now),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	users := make([]string, 0, len(members))
	for _, m := range members {
		if m != excludeUser {
			users = append(users, m)
		}
	}
	return users, nil
}

// wordRegex matches word characters for search indexing.
var wordRegex = regexp.MustCompile(`\w+`)

// IndexMessage indexes a message's content words for search. Indexing is
// best-effort; a lost index entry only narrows search results.
func (s *RedisStore) IndexMessage(ctx context.Context, msg *models.Message) error {
	words := wordRegex.FindAllString(strings.ToLower(msg.Content), -1)

	seen := make(map[string]bool)
	for _, word := range words {
		if len(word) < 3 || seen[word] {
			continue
		}
		seen[word] = true

		key := searchWordKey(word)
		ref := fmt.Sprintf("%s:%s", msg.RoomID, msg.ID)

		s.client.ZAdd(ctx, key, redis.Z{
			Score:  float64(msg.CreatedAt.UnixMilli()),
			Member: ref,
		})
		s.client.Expire(ctx, key, searchTTL)
	}

	return nil
}

// UnindexMessage drops a deleted message's refs from the word index.
func (s *RedisStore) UnindexMessage(ctx context.Context, msg *models.Message) {
	words := wordRegex.FindAllString(strings.ToLower(msg.Content), -1)
	ref := fmt.Sprintf("%s:%s", msg.RoomID, msg.ID)
	seen := make(map[string]bool)
	for _, word := range words {
		if len(word) < 3 || seen[word] {
			continue
		}
		seen[word] = true
		s.client.ZRem(ctx, searchWordKey(word), ref)
	}
}

// SearchRefs returns (roomID, messageID) refs matching all query tokens,
// newest first. Callers filter by membership and resolve against the SQL
// store, which also drops refs to since-deleted messages.
func (s *RedisStore) SearchRefs(ctx context.Context, query string, limit int) ([][2]string, error) {
	tokens := wordRegex.FindAllString(strings.ToLower(query), -1)
	var keys []string
	for _, t := range tokens {
		if len(t) >= 3 {
			keys = append(keys, searchWordKey(t))
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var refs []string
	var err error

	if len(keys) == 1 {
		refs, err = s.client.ZRevRangeByScore(ctx, keys[0], &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "+inf",
			Count: int64(limit * 3),
		}).Result()
	} else {
		tempKey := fmt.Sprintf("search:temp:%d", time.Now().UnixNano())
		s.client.ZInterStore(ctx, tempKey, &redis.ZStore{
			Keys:      keys,
			Aggregate: "MIN",
		})
		s.client.Expire(ctx, tempKey, 10*time.Second)
		refs, err = s.client.ZRevRange(ctx, tempKey, 0, int64(limit*3)-1).Result()
		s.client.Del(ctx, tempKey)
	}
	if err != nil {
		return nil, err
	}

	out := make([][2]string, 0, len(refs))
	for _, ref := range refs {
		parts := strings.SplitN(ref, ":", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, [2]string{parts[0], parts[1]})
	}
	return out, nil
}

// NotifyCursor returns the id of the newest message the user has already
// been notified about, or "" if none.
func (s *RedisStore) NotifyCursor(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, notifyCursorKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// AdvanceNotifyCursor moves the cursor forward to messageID. ULIDs order
// lexically, so the cursor only ever advances.
func (s *RedisStore) AdvanceNotifyCursor(ctx context.Context, userID, messageID string) error {
	key := notifyCursorKey(userID)
	current, err := s.NotifyCursor(ctx, userID)
	if err != nil {
		return err
	}
	if messageID <= current {
		return nil
	}
	return s.client.Set(ctx, key, messageID, 0).Err()
}
