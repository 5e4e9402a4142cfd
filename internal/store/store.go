package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/huddleworks/huddle/internal/models"
)

// Terminal, user-visible failures. Handlers translate these to HTTP
// statuses; everything else is a 500.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
)

// DataStore is the single authoritative store behind the messaging core.
// Both SQLiteStore and PostgresStore implement this interface. All writes
// with a natural composite identity (direct room per pair, reaction per
// user per emoji, receipt per user per message) are idempotent upserts, so
// two concurrent identical requests converge to one row.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Room directory
	CreateDirectRoom(ctx context.Context, userA, userB string) (*models.Room, error)
	CreateGroupRoom(ctx context.Context, name string, roomType models.RoomType, creator string, memberIDs []string) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.RoomSummary, error)

	// Message store
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListRoomMessages(ctx context.Context, roomID string, limit int, before string) ([]models.Message, bool, error)
	UpdateMessageContent(ctx context.Context, id, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	TogglePin(ctx context.Context, id string) (bool, error)
	ListPinned(ctx context.Context, roomID string) ([]models.Message, error)

	// Thread index (read-only derivations)
	GetReplies(ctx context.Context, parentID string) ([]models.Message, error)
	ReplyCounts(ctx context.Context, parentIDs []string) (map[string]int, error)

	// Reaction ledger
	AddReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	ReactionsBatch(ctx context.Context, messageIDs []string) (map[string][]models.Reaction, error)

	// Read receipts
	MarkRead(ctx context.Context, userID string, messageIDs []string) (int, error)
	ReceiptsBatch(ctx context.Context, messageIDs []string) (map[string][]models.ReadReceipt, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)

	// Unread markers
	MarkUnread(ctx context.Context, userID, messageID string) error
	ClearMarker(ctx context.Context, userID, messageID string) error
	MarkersBatch(ctx context.Context, userID string, messageIDs []string) (map[string]bool, error)
	RoomsWithMarkers(ctx context.Context, userID string) (map[string]int, error)

	// Search fallback, scoped to rooms the user belongs to. The Redis word
	// index is preferred when configured; this keeps search working without it.
	SearchMessages(ctx context.Context, userID, query string, limit int) ([]models.Message, error)
}

// PairKey returns the canonical key for a direct room's unordered user
// pair. Both orders of the same pair map to the same key, which backs the
// UNIQUE constraint that makes direct-room creation race-safe.
func PairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
