package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/huddleworks/huddle/internal/models"
)

// PostgresStore handles PostgreSQL database operations for production
// deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('direct','group','team')),
		name TEXT NOT NULL DEFAULT '',
		pair_key TEXT UNIQUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_participants (
		room_id UUID NOT NULL REFERENCES rooms(id),
		user_id TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id UUID NOT NULL REFERENCES rooms(id),
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		attachments JSONB NOT NULL DEFAULT '[]',
		parent_id TEXT,
		is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		edited_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS reactions (
		message_id TEXT NOT NULL REFERENCES messages(id),
		user_id TEXT NOT NULL,
		emoji TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (message_id, user_id, emoji)
	);

	CREATE TABLE IF NOT EXISTS read_receipts (
		message_id TEXT NOT NULL REFERENCES messages(id),
		user_id TEXT NOT NULL,
		read_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (message_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS unread_markers (
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL REFERENCES messages(id),
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_participants_user ON room_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id);
	CREATE INDEX IF NOT EXISTS idx_messages_pinned ON messages(room_id, is_pinned);
	CREATE INDEX IF NOT EXISTS idx_receipts_user ON read_receipts(user_id);
	CREATE INDEX IF NOT EXISTS idx_markers_user ON unread_markers(user_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateDirectRoom returns the existing direct room for the unordered pair
// or creates it, converging under concurrency via the UNIQUE pair_key.
func (s *PostgresStore) CreateDirectRoom(ctx context.Context, userA, userB string) (*models.Room, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, fmt.Errorf("%w: direct room needs two distinct users", ErrInvalidArgument)
	}

	pairKey := PairKey(userA, userB)
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	tag, err := tx.Exec(ctx, `
		INSERT INTO rooms (id, type, pair_key, created_by, created_at)
		VALUES ($1, 'direct', $2, $3, $4)
		ON CONFLICT (pair_key) DO NOTHING
	`, id, pairKey, userA, now)
	if err != nil {
		return nil, err
	}

	if tag.RowsAffected() > 0 {
		for _, u := range []string{userA, userB} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO room_participants (room_id, user_id, joined_at)
				VALUES ($1, $2, $3)
			`, id, u, now); err != nil {
				return nil, err
			}
		}
	}

	var existingID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM rooms WHERE pair_key = $1`, pairKey).Scan(&existingID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, existingID)
}

// CreateGroupRoom creates a group or team room with the creator included.
func (s *PostgresStore) CreateGroupRoom(ctx context.Context, name string, roomType models.RoomType, creator string, memberIDs []string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if len(memberIDs) == 0 {
		return nil, fmt.Errorf("%w: members are required", ErrInvalidArgument)
	}
	if roomType != models.RoomGroup && roomType != models.RoomTeam {
		return nil, fmt.Errorf("%w: invalid room type %q", ErrInvalidArgument, roomType)
	}

	members := map[string]bool{creator: true}
	for _, m := range memberIDs {
		if m != "" {
			members[m] = true
		}
	}

	id := uuid.New()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO rooms (id, type, name, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, string(roomType), name, creator, now); err != nil {
		return nil, err
	}

	for u := range members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_participants (room_id, user_id, joined_at)
			VALUES ($1, $2, $3)
		`, id, u, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room with its participant set.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{ID: id}
	var typeStr string

	err := s.pool.QueryRow(ctx, `
		SELECT type, name, created_by, created_at FROM rooms WHERE id = $1
	`, id).Scan(&typeStr, &room.Name, &room.CreatedBy, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	room.Type = models.RoomType(typeStr)

	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM room_participants WHERE room_id = $1 ORDER BY user_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		room.Participants = append(room.Participants, u)
	}
	return room, rows.Err()
}

// ListRoomsForUser returns the user's rooms annotated for the sidebar.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID string) ([]models.RoomSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.type, r.name, r.created_by, r.created_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.room_id = r.id AND m.sender_id != $1
			   AND NOT EXISTS (SELECT 1 FROM read_receipts rr
			                   WHERE rr.message_id = m.id AND rr.user_id = $1)) AS unread,
			EXISTS (SELECT 1 FROM unread_markers um
			        JOIN messages mm ON mm.id = um.message_id
			        WHERE um.user_id = $1 AND mm.room_id = r.id) AS has_marker
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY r.created_at, r.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RoomSummary
	var roomIDs []uuid.UUID
	for rows.Next() {
		var sum models.RoomSummary
		var typeStr string
		if err := rows.Scan(&sum.ID, &typeStr, &sum.Name, &sum.CreatedBy, &sum.CreatedAt, &sum.UnreadCount, &sum.HasUnreadMarker); err != nil {
			return nil, err
		}
		sum.Type = models.RoomType(typeStr)
		summaries = append(summaries, sum)
		roomIDs = append(roomIDs, sum.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	prows, err := s.pool.Query(ctx, `
		SELECT room_id, user_id FROM room_participants
		WHERE room_id = ANY($1) ORDER BY user_id
	`, roomIDs)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	participants := make(map[uuid.UUID][]string)
	for prows.Next() {
		var roomID uuid.UUID
		var u string
		if err := prows.Scan(&roomID, &u); err != nil {
			return nil, err
		}
		participants[roomID] = append(participants[roomID], u)
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	lrows, err := s.pool.Query(ctx, `
		SELECT room_id, id, sender_id, content, created_at FROM messages
		WHERE id IN (SELECT MAX(id) FROM messages WHERE room_id = ANY($1) GROUP BY room_id)
	`, roomIDs)
	if err != nil {
		return nil, err
	}
	defer lrows.Close()

	previews := make(map[uuid.UUID]*models.MessagePreview)
	for lrows.Next() {
		var roomID uuid.UUID
		var p models.MessagePreview
		if err := lrows.Scan(&roomID, &p.MessageID, &p.SenderID, &p.Content, &p.CreatedAt); err != nil {
			return nil, err
		}
		previews[roomID] = &p
	}
	if err := lrows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		summaries[i].Participants = participants[summaries[i].ID]
		summaries[i].LastMessage = previews[summaries[i].ID]
	}
	return summaries, nil
}

// InsertMessage stores a message atomically, assigning ULID and timestamp
// if unset.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return err
	}

	var parent any
	if msg.ParentID != "" {
		parent = msg.ParentID
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, attachments, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, attachments, parent, msg.CreatedAt)
	return err
}

const pgMessageColumns = `id, room_id, sender_id, content, attachments, COALESCE(parent_id, ''), is_pinned, is_edited, created_at, edited_at`

func scanPgMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	var attachments []byte
	var editedAt *time.Time
	err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &attachments,
		&msg.ParentID, &msg.IsPinned, &msg.IsEdited, &msg.CreatedAt, &editedAt)
	if err != nil {
		return nil, err
	}
	msg.EditedAt = editedAt
	if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanPgMessage(s.pool.QueryRow(ctx, `
		SELECT `+pgMessageColumns+` FROM messages WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

// ListRoomMessages returns up to limit messages in ascending order, with a
// has-more flag for paging further back.
func (s *PostgresStore) ListRoomMessages(ctx context.Context, roomID string, limit int, before string) ([]models.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + pgMessageColumns + ` FROM messages WHERE room_id = $1`
	args := []any{roomID}
	if before != "" {
		query += ` AND id < $2`
		args = append(args, before)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, false, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, hasMore, nil
}

// UpdateMessageContent applies an edit without reordering.
func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id, content string) (*models.Message, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET content = $1, is_edited = TRUE, edited_at = $2 WHERE id = $3
	`, content, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage removes the message, its replies and all satellite rows in
// one transaction.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"reactions", "read_receipts", "unread_markers"} {
		q := `DELETE FROM ` + table + ` WHERE message_id = $1 OR message_id IN (SELECT id FROM messages WHERE parent_id = $1)`
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE parent_id = $1`, id); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// TogglePin flips the pinned flag and returns the new state.
func (s *PostgresStore) TogglePin(ctx context.Context, id string) (bool, error) {
	var pinned bool
	err := s.pool.QueryRow(ctx, `
		UPDATE messages SET is_pinned = NOT is_pinned WHERE id = $1 RETURNING is_pinned
	`, id).Scan(&pinned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return false, err
	}
	return pinned, nil
}

// ListPinned returns a room's pinned messages in ascending order.
func (s *PostgresStore) ListPinned(ctx context.Context, roomID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+` FROM messages
		WHERE room_id = $1 AND is_pinned ORDER BY id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPgMessages(rows)
}

// GetReplies returns all replies to a root message, oldest first.
func (s *PostgresStore) GetReplies(ctx context.Context, parentID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+` FROM messages WHERE parent_id = $1 ORDER BY id
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPgMessages(rows)
}

// ReplyCounts returns reply counts for thread badges.
func (s *PostgresStore) ReplyCounts(ctx context.Context, parentIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(parentIDs) == 0 {
		return counts, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT parent_id, COUNT(*) FROM messages WHERE parent_id = ANY($1) GROUP BY parent_id
	`, parentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// AddReaction records a reaction idempotently.
func (s *PostgresStore) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: emoji is required", ErrInvalidArgument)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		SELECT id, $1, $2, $3 FROM messages WHERE id = $4
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`, userID, emoji, time.Now().UTC(), messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if err := s.messageExists(ctx, messageID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveReaction removes a reaction; absent reactions are a no-op.
func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	if err := s.messageExists(ctx, messageID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`, messageID, userID, emoji)
	return err
}

// ReactionsBatch returns full reaction rows per message.
func (s *PostgresStore) ReactionsBatch(ctx context.Context, messageIDs []string) (map[string][]models.Reaction, error) {
	result := make(map[string][]models.Reaction)
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id, user_id, emoji, created_at FROM reactions
		WHERE message_id = ANY($1) ORDER BY created_at, user_id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		result[r.MessageID] = append(result[r.MessageID], r)
	}
	return result, rows.Err()
}

// MarkRead writes first-read receipts and reports how many were actually
// inserted; existing receipts are untouched and deleted message ids are
// skipped.
func (s *PostgresStore) MarkRead(ctx context.Context, userID string, messageIDs []string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		SELECT id, $1, $2 FROM messages WHERE id = ANY($3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, userID, time.Now().UTC(), messageIDs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ReceiptsBatch returns read receipts per message.
func (s *PostgresStore) ReceiptsBatch(ctx context.Context, messageIDs []string) (map[string][]models.ReadReceipt, error) {
	result := make(map[string][]models.ReadReceipt)
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id, user_id, read_at FROM read_receipts
		WHERE message_id = ANY($1) ORDER BY read_at, user_id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r models.ReadReceipt
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.ReadAt); err != nil {
			return nil, err
		}
		result[r.MessageID] = append(result[r.MessageID], r)
	}
	return result, rows.Err()
}

// UnreadCounts returns per-room unread counts for the user.
func (s *PostgresStore) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.room_id, COUNT(*)
		FROM messages m
		JOIN room_participants p ON p.room_id = m.room_id AND p.user_id = $1
		WHERE m.sender_id != $1
		  AND NOT EXISTS (SELECT 1 FROM read_receipts rr
		                  WHERE rr.message_id = m.id AND rr.user_id = $1)
		GROUP BY m.room_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var roomID uuid.UUID
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, err
		}
		counts[roomID.String()] = n
	}
	return counts, rows.Err()
}

// MarkUnread sets an unread marker without touching receipts.
func (s *PostgresStore) MarkUnread(ctx context.Context, userID, messageID string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO unread_markers (user_id, message_id, created_at)
		SELECT $1, id, $2 FROM messages WHERE id = $3
		ON CONFLICT (user_id, message_id) DO NOTHING
	`, userID, time.Now().UTC(), messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if err := s.messageExists(ctx, messageID); err != nil {
			return err
		}
	}
	return nil
}

// ClearMarker removes an unread marker; absent markers are a no-op.
func (s *PostgresStore) ClearMarker(ctx context.Context, userID, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM unread_markers WHERE user_id = $1 AND message_id = $2
	`, userID, messageID)
	return err
}

// MarkersBatch reports which of the given messages the user has marked.
func (s *PostgresStore) MarkersBatch(ctx context.Context, userID string, messageIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id FROM unread_markers WHERE user_id = $1 AND message_id = ANY($2)
	`, userID, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = true
	}
	return result, rows.Err()
}

// RoomsWithMarkers returns marker counts per room for the user.
func (s *PostgresStore) RoomsWithMarkers(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.room_id, COUNT(*)
		FROM unread_markers um
		JOIN messages m ON m.id = um.message_id
		WHERE um.user_id = $1
		GROUP BY m.room_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var roomID uuid.UUID
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, err
		}
		counts[roomID.String()] = n
	}
	return counts, rows.Err()
}

// SearchMessages is the ILIKE fallback scoped to the user's rooms.
func (s *PostgresStore) SearchMessages(ctx context.Context, userID, query string, limit int) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Message{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+` FROM messages
		WHERE room_id IN (SELECT room_id FROM room_participants WHERE user_id = $1)
		  AND content ILIKE $2
		ORDER BY id DESC LIMIT $3
	`, userID, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPgMessages(rows)
}

func (s *PostgresStore) messageExists(ctx context.Context, id string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM messages WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return err
}

func collectPgMessages(rows pgx.Rows) ([]models.Message, error) {
	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
