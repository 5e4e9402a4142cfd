package models

import "time"

// Reaction is an emoji annotation on a message. Identity is the composite
// (message, user, emoji); the store enforces at most one row per identity.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadReceipt records that a user has observed a message. Receipts are
// monotonic: written once, never updated, never deleted while the message
// lives.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
