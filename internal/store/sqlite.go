package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/huddleworks/huddle/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the default
// authoritative store for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/huddle.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/huddle.db"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('direct','group','team')),
		name TEXT NOT NULL DEFAULT '',
		pair_key TEXT UNIQUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_participants (
		room_id TEXT NOT NULL REFERENCES rooms(id),
		user_id TEXT NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '[]',
		parent_id TEXT,
		is_pinned INTEGER NOT NULL DEFAULT 0,
		is_edited INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		edited_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS reactions (
		message_id TEXT NOT NULL REFERENCES messages(id),
		user_id TEXT NOT NULL,
		emoji TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (message_id, user_id, emoji)
	);

	CREATE TABLE IF NOT EXISTS read_receipts (
		message_id TEXT NOT NULL REFERENCES messages(id),
		user_id TEXT NOT NULL,
		read_at DATETIME NOT NULL,
		PRIMARY KEY (message_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS unread_markers (
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL REFERENCES messages(id),
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_participants_user ON room_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id);
	CREATE INDEX IF NOT EXISTS idx_messages_pinned ON messages(room_id, is_pinned);
	CREATE INDEX IF NOT EXISTS idx_receipts_user ON read_receipts(user_id);
	CREATE INDEX IF NOT EXISTS idx_markers_user ON unread_markers(user_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateDirectRoom returns the existing direct room for the unordered pair
// or creates it. Concurrent calls converge on the same room through the
// UNIQUE pair_key constraint.
func (s *SQLiteStore) CreateDirectRoom(ctx context.Context, userA, userB string) (*models.Room, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, fmt.Errorf("%w: direct room needs two distinct users", ErrInvalidArgument)
	}

	pairKey := PairKey(userA, userB)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := uuid.New().String()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, type, pair_key, created_by, created_at)
		VALUES (?, 'direct', ?, ?, ?)
		ON CONFLICT (pair_key) DO NOTHING
	`, id, pairKey, userA, now)
	if err != nil {
		return nil, err
	}

	if n, _ := res.RowsAffected(); n > 0 {
		for _, u := range []string{userA, userB} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO room_participants (room_id, user_id, joined_at)
				VALUES (?, ?, ?)
			`, id, u, now); err != nil {
				return nil, err
			}
		}
	}

	var existingID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM rooms WHERE pair_key = ?`, pairKey).Scan(&existingID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, uuid.MustParse(existingID))
}

// CreateGroupRoom creates a group or team room. The creator is always a
// participant, whether or not listed in memberIDs.
func (s *SQLiteStore) CreateGroupRoom(ctx context.Context, name string, roomType models.RoomType, creator string, memberIDs []string) (*models.Room, error) {
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

	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, type, name, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, string(roomType), name, creator, now); err != nil {
		return nil, err
	}

	for u := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_participants (room_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, id, u, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, uuid.MustParse(id))
}

// GetRoom retrieves a room with its participant set.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	var idStr, typeStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, name, created_by, created_at
		FROM rooms WHERE id = ?
	`, id.String()).Scan(&idStr, &typeStr, &room.Name, &room.CreatedBy, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	room.ID = uuid.MustParse(idStr)
	room.Type = models.RoomType(typeStr)

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY user_id
	`, idStr)
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

// ListRoomsForUser returns the user's rooms annotated with unread counts,
// unread-marker flags and last-message previews.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID string) ([]models.RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.type, r.name, r.created_by, r.created_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.room_id = r.id AND m.sender_id != ?
			   AND NOT EXISTS (SELECT 1 FROM read_receipts rr
			                   WHERE rr.message_id = m.id AND rr.user_id = ?)) AS unread,
			EXISTS (SELECT 1 FROM unread_markers um
			        JOIN messages mm ON mm.id = um.message_id
			        WHERE um.user_id = ? AND mm.room_id = r.id) AS has_marker
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE p.user_id = ?
		ORDER BY r.created_at, r.id
	`, userID, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RoomSummary
	var roomIDs []string
	for rows.Next() {
		var sum models.RoomSummary
		var idStr, typeStr string
		var hasMarker int
		if err := rows.Scan(&idStr, &typeStr, &sum.Name, &sum.CreatedBy, &sum.CreatedAt, &sum.UnreadCount, &hasMarker); err != nil {
			return nil, err
		}
		sum.ID = uuid.MustParse(idStr)
		sum.Type = models.RoomType(typeStr)
		sum.HasUnreadMarker = hasMarker == 1
		summaries = append(summaries, sum)
		roomIDs = append(roomIDs, idStr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	if err := s.attachParticipants(ctx, summaries, roomIDs); err != nil {
		return nil, err
	}
	if err := s.attachLastMessages(ctx, summaries, roomIDs); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *SQLiteStore) attachParticipants(ctx context.Context, summaries []models.RoomSummary, roomIDs []string) error {
	query := `SELECT room_id, user_id FROM room_participants WHERE room_id IN (` + placeholders(len(roomIDs)) + `) ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(roomIDs)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	byRoom := make(map[string][]string)
	for rows.Next() {
		var roomID, userID string
		if err := rows.Scan(&roomID, &userID); err != nil {
			return err
		}
		byRoom[roomID] = append(byRoom[roomID], userID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range summaries {
		summaries[i].Participants = byRoom[summaries[i].ID.String()]
	}
	return nil
}

func (s *SQLiteStore) attachLastMessages(ctx context.Context, summaries []models.RoomSummary, roomIDs []string) error {
	// ULIDs sort by creation time, so MAX(id) is the newest message.
	query := `
		SELECT room_id, id, sender_id, content, created_at FROM messages
		WHERE id IN (SELECT MAX(id) FROM messages WHERE room_id IN (` + placeholders(len(roomIDs)) + `) GROUP BY room_id)`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(roomIDs)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	byRoom := make(map[string]*models.MessagePreview)
	for rows.Next() {
		var roomID string
		var p models.MessagePreview
		if err := rows.Scan(&roomID, &p.MessageID, &p.SenderID, &p.Content, &p.CreatedAt); err != nil {
			return err
		}
		byRoom[roomID] = &p
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range summaries {
		summaries[i].LastMessage = byRoom[summaries[i].ID.String()]
	}
	return nil
}

// InsertMessage stores a message, assigning a ULID and timestamp if unset.
// The row, attachments included, is written atomically.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, attachments, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, string(attachments), parent, msg.CreatedAt)
	return err
}

const messageColumns = `id, room_id, sender_id, content, attachments, COALESCE(parent_id, ''), is_pinned, is_edited, created_at, edited_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	msg := &models.Message{}
	var attachments string
	var pinned, edited int
	var editedAt sql.NullTime
	err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &attachments,
		&msg.ParentID, &pinned, &edited, &msg.CreatedAt, &editedAt)
	if err != nil {
		return nil, err
	}
	msg.IsPinned = pinned == 1
	msg.IsEdited = edited == 1
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

// ListRoomMessages returns up to limit messages in (created_at, id)
// ascending order. A non-empty before cursor pages backwards; the returned
// bool reports whether older messages remain.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, roomID string, limit int, before string) ([]models.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	// Fetch newest-first so the limit selects the most recent window, then
	// reverse into ascending render order.
	query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ?`
	args := []any{roomID}
	if before != "" {
		query += ` AND id < ?`
		args = append(args, before)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
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

// UpdateMessageContent applies an edit. Editing never reorders: created_at
// and id are untouched.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string) (*models.Message, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, is_edited = 1, edited_at = ? WHERE id = ?
	`, content, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage hard-removes a message together with its reactions, read
// receipts and unread markers in one transaction. Replies to a deleted root
// (and their satellite rows) go with it so no reply ever references a
// missing parent.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"reactions", "read_receipts", "unread_markers"} {
		q := `DELETE FROM ` + table + ` WHERE message_id = ? OR message_id IN (SELECT id FROM messages WHERE parent_id = ?)`
		if _, err := tx.ExecContext(ctx, q, id, id); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE parent_id = ?`, id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// TogglePin flips the pinned flag and returns the new state.
func (s *SQLiteStore) TogglePin(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var pinned int
	err = tx.QueryRowContext(ctx, `SELECT is_pinned FROM messages WHERE id = ?`, id).Scan(&pinned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return false, err
	}

	newState := pinned == 0
	newVal := 0
	if newState {
		newVal = 1
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET is_pinned = ? WHERE id = ?`, newVal, id); err != nil {
		return false, err
	}
	return newState, tx.Commit()
}

// ListPinned returns a room's pinned messages in ascending order.
func (s *SQLiteStore) ListPinned(ctx context.Context, roomID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = ? AND is_pinned = 1 ORDER BY id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GetReplies returns all replies to a root message, oldest first.
func (s *SQLiteStore) GetReplies(ctx context.Context, parentID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE parent_id = ? ORDER BY id
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ReplyCounts returns reply counts for thread badge rendering. Parents with
// no replies are absent from the map.
func (s *SQLiteStore) ReplyCounts(ctx context.Context, parentIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(parentIDs) == 0 {
		return counts, nil
	}

	query := `SELECT parent_id, COUNT(*) FROM messages WHERE parent_id IN (` + placeholders(len(parentIDs)) + `) GROUP BY parent_id`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(parentIDs)...)
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

// AddReaction records a reaction. Adding an existing one is a no-op.
func (s *SQLiteStore) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: emoji is required", ErrInvalidArgument)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		SELECT id, ?, ?, ? FROM messages WHERE id = ?
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`, userID, emoji, time.Now().UTC(), messageID)
	if err != nil {
		return err
	}

	// Zero rows means either an idempotent duplicate or a dangling message
	// id; only the latter is an error.
	if n, _ := res.RowsAffected(); n == 0 {
		if err := s.messageExists(ctx, messageID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveReaction removes a reaction; removing an absent one is a no-op.
func (s *SQLiteStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	if err := s.messageExists(ctx, messageID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?
	`, messageID, userID, emoji)
	return err
}

// ReactionsBatch returns full reaction rows per message, oldest first, so
// clients can render counts, reacting users and toggle affordances.
func (s *SQLiteStore) ReactionsBatch(ctx context.Context, messageIDs []string) (map[string][]models.Reaction, error) {
	result := make(map[string][]models.Reaction)
	if len(messageIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT message_id, user_id, emoji, created_at FROM reactions
		WHERE message_id IN (` + placeholders(len(messageIDs)) + `)
		ORDER BY created_at, user_id`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(messageIDs)...)
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

// MarkRead writes first-read receipts for the given messages and reports
// how many were actually inserted. Existing receipts keep their original
// read_at; ids of already-deleted messages are skipped, since polls
// routinely race deletes.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID string, messageIDs []string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		SELECT id, ?, ? FROM messages WHERE id = ?
		ON CONFLICT (message_id, user_id) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, id := range messageIDs {
		res, err := stmt.ExecContext(ctx, userID, now, id)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, tx.Commit()
}

// ReceiptsBatch returns read receipts per message for "seen by" rendering.
func (s *SQLiteStore) ReceiptsBatch(ctx context.Context, messageIDs []string) (map[string][]models.ReadReceipt, error) {
	result := make(map[string][]models.ReadReceipt)
	if len(messageIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT message_id, user_id, read_at FROM read_receipts
		WHERE message_id IN (` + placeholders(len(messageIDs)) + `)
		ORDER BY read_at, user_id`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(messageIDs)...)
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

// UnreadCounts returns, per room the user belongs to, the count of messages
// with no receipt from the user and not authored by the user.
func (s *SQLiteStore) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.room_id, COUNT(*)
		FROM messages m
		JOIN room_participants p ON p.room_id = m.room_id AND p.user_id = ?
		WHERE m.sender_id != ?
		  AND NOT EXISTS (SELECT 1 FROM read_receipts rr
		                  WHERE rr.message_id = m.id AND rr.user_id = ?)
		GROUP BY m.room_id
	`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var roomID string
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, err
		}
		counts[roomID] = n
	}
	return counts, rows.Err()
}

// MarkUnread sets an unread marker. Never touches read receipts.
func (s *SQLiteStore) MarkUnread(ctx context.Context, userID, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO unread_markers (user_id, message_id, created_at)
		SELECT ?, id, ? FROM messages WHERE id = ?
		ON CONFLICT (user_id, message_id) DO NOTHING
	`, userID, time.Now().UTC(), messageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if err := s.messageExists(ctx, messageID); err != nil {
			return err
		}
	}
	return nil
}

// ClearMarker removes an unread marker; clearing an absent one is a no-op.
func (s *SQLiteStore) ClearMarker(ctx context.Context, userID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM unread_markers WHERE user_id = ? AND message_id = ?
	`, userID, messageID)
	return err
}

// MarkersBatch reports which of the given messages the user has marked.
func (s *SQLiteStore) MarkersBatch(ctx context.Context, userID string, messageIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(messageIDs) == 0 {
		return result, nil
	}

	query := `SELECT message_id FROM unread_markers WHERE user_id = ? AND message_id IN (` + placeholders(len(messageIDs)) + `)`
	args := append([]any{userID}, stringArgs(messageIDs)...)
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// RoomsWithMarkers returns rooms holding at least one marker for the user,
// with marker counts for badge rendering.
func (s *SQLiteStore) RoomsWithMarkers(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.room_id, COUNT(*)
		FROM unread_markers um
		JOIN messages m ON m.id = um.message_id
		WHERE um.user_id = ?
		GROUP BY m.room_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var roomID string
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, err
		}
		counts[roomID] = n
	}
	return counts, rows.Err()
}

// SearchMessages is the store-backed search fallback: substring match over
// content, scoped to rooms the user belongs to, newest first.
func (s *SQLiteStore) SearchMessages(ctx context.Context, userID, query string, limit int) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Message{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id IN (SELECT room_id FROM room_participants WHERE user_id = ?)
		  AND content LIKE ? ESCAPE '\'
		ORDER BY id DESC LIMIT ?
	`, userID, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *SQLiteStore) messageExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return err
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
