// Package notify is the boundary to the out-of-band notification
// collaborator. The core's only obligation is deciding whether a message
// is newer than what a user was already notified about; delivery happens
// elsewhere.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/huddleworks/huddle/internal/models"
)

// Cursor tracks, per user, the newest message id already notified. ULIDs
// order lexically, so a plain string comparison answers "is this newer".
type Cursor interface {
	Last(ctx context.Context, userID string) (string, error)
	Advance(ctx context.Context, userID, messageID string) error
}

// MemoryCursor is the in-process Cursor used without Redis.
type MemoryCursor struct {
	mu   sync.Mutex
	last map[string]string
}

// NewMemoryCursor creates an empty cursor store.
func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{last: make(map[string]string)}
}

func (c *MemoryCursor) Last(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[userID], nil
}

func (c *MemoryCursor) Advance(ctx context.Context, userID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageID > c.last[userID] {
		c.last[userID] = messageID
	}
	return nil
}

// Sink receives notification events for delivery. Implemented by the
// platform's push dispatcher; the bundled LogSink just records them.
type Sink interface {
	Notify(ctx context.Context, userID string, msg *models.Message, mentioned bool)
}

// LogSink logs notification decisions instead of delivering anything.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Notify(ctx context.Context, userID string, msg *models.Message, mentioned bool) {
	s.Logger.Debug().
		Str("user", userID).
		Str("message", msg.ID).
		Str("room", msg.RoomID).
		Bool("mentioned", mentioned).
		Msg("notification dispatched")
}

// Dispatcher fans a new message out to recipients that have not yet been
// notified of anything this new, then advances their cursors.
type Dispatcher struct {
	cursor Cursor
	sink   Sink
}

// NewDispatcher wires a cursor store to a delivery sink.
func NewDispatcher(cursor Cursor, sink Sink) *Dispatcher {
	return &Dispatcher{cursor: cursor, sink: sink}
}

// ShouldNotify reports whether msg is newer than the user's cursor.
func (d *Dispatcher) ShouldNotify(ctx context.Context, userID string, msg *models.Message) (bool, error) {
	last, err := d.cursor.Last(ctx, userID)
	if err != nil {
		return false, err
	}
	return msg.ID > last, nil
}

// MessageSent informs recipients about a new message. The sender is never
// notified; mentionedIDs flags recipients for mention-style alerts.
func (d *Dispatcher) MessageSent(ctx context.Context, msg *models.Message, recipients, mentionedIDs []string) {
	mentioned := make(map[string]bool, len(mentionedIDs))
	for _, id := range mentionedIDs {
		mentioned[id] = true
	}

	for _, userID := range recipients {
		if userID == msg.SenderID {
			continue
		}
		ok, err := d.ShouldNotify(ctx, userID, msg)
		if err != nil || !ok {
			continue
		}
		d.sink.Notify(ctx, userID, msg, mentioned[userID])
		_ = d.cursor.Advance(ctx, userID, msg.ID)
	}
}
