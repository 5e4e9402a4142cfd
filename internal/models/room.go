package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomType is the closed set of conversation container kinds.
type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
	RoomTeam   RoomType = "team"
)

// Room is a conversation container with a fixed participant set.
// Direct rooms carry no stored name; clients derive one from the other
// participant via the user directory.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Type         RoomType  `json:"type"`
	Name         string    `json:"name,omitempty"`
	Participants []string  `json:"participants"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasParticipant reports whether userID belongs to the room.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID.
// Only meaningful for direct rooms.
func (r *Room) OtherParticipant(userID string) string {
	for _, p := range r.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// RoomSummary is a room annotated for sidebar rendering.
type RoomSummary struct {
	Room
	UnreadCount     int             `json:"unread_count"`
	HasUnreadMarker bool            `json:"has_unread_marker"`
	LastMessage     *MessagePreview `json:"last_message,omitempty"`
}

// MessagePreview is the trailing message shown next to a room in the sidebar.
type MessagePreview struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
