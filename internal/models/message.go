package models

import "time"

// Attachment is an opaque descriptor returned by the upload collaborator.
// The messaging core never interprets the URL.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Message is a single room message. IDs are ULIDs, so lexical order on ID
// matches creation order and breaks createdAt ties deterministically.
type Message struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"room_id"`
	SenderID    string       `json:"sender_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ParentID    string       `json:"parent_id,omitempty"`
	IsPinned    bool         `json:"is_pinned"`
	IsEdited    bool         `json:"is_edited"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
}

// IsRoot reports whether the message starts a thread (or is plain, with no
// replies yet). Only root messages may be reply targets.
func (m *Message) IsRoot() bool {
	return m.ParentID == ""
}
