// Package huddle provides a client for the huddle team-messaging API.
// State synchronization is pull-based: see Session for the polling loops
// that keep a client's view current without any push channel.
package huddle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a huddle API client bound to one user identity.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
}

// NewClient creates a client for the given server and user.
func NewClient(baseURL, userID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		UserID:     userID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request with the identity header attached.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.UserID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("huddle error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	respBody, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	var body []byte
	if in != nil {
		body, _ = json.Marshal(in)
	}
	respBody, err := c.doRequest(ctx, "POST", path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Attachment is an opaque stored-file descriptor.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Message represents a chat message.
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

// MessagePreview is the last-message snippet on a room summary.
type MessagePreview struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomSummary is a sidebar entry: the room plus unread state and preview.
type RoomSummary struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Name            string          `json:"name,omitempty"`
	Participants    []string        `json:"participants"`
	CreatedAt       time.Time       `json:"created_at"`
	UnreadCount     int             `json:"unread_count"`
	HasUnreadMarker bool            `json:"has_unread_marker"`
	LastMessage     *MessagePreview `json:"last_message,omitempty"`
	DisplayName     string          `json:"display_name"`
}

// ListRooms returns the caller's rooms with unread badges and previews.
func (c *Client) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	var rooms []RoomSummary
	if err := c.getJSON(ctx, "/rooms", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateDirectRoom starts (or returns) a DM with another user.
func (c *Client) CreateDirectRoom(ctx context.Context, userID string) (*RoomSummary, error) {
	var room RoomSummary
	err := c.postJSON(ctx, "/rooms/direct", map[string]string{"user_id": userID}, &room)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateGroupRoom creates a group or team room with the given members.
func (c *Client) CreateGroupRoom(ctx context.Context, name, roomType string, memberIDs []string) (*RoomSummary, error) {
	var room RoomSummary
	err := c.postJSON(ctx, "/rooms/group", map[string]any{
		"name":       name,
		"type":       roomType,
		"member_ids": memberIDs,
	}, &room)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// MessagesPage is one window of a room's messages.
type MessagesPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// GetMessages retrieves a room's messages, oldest first. A non-empty
// before fetches the page older than that message id.
func (c *Client) GetMessages(ctx context.Context, roomID string, limit int, before string) (*MessagesPage, error) {
	path := fmt.Sprintf("/rooms/%s/messages?limit=%d", roomID, limit)
	if before != "" {
		path += "&before=" + url.QueryEscape(before)
	}
	var page MessagesPage
	if err := c.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendMessage posts a message; a non-empty parentID makes it a thread
// reply.
func (c *Client) SendMessage(ctx context.Context, roomID, content, parentID string, attachments []Attachment) (*Message, error) {
	var msg Message
	err := c.postJSON(ctx, "/rooms/"+roomID+"/messages", map[string]any{
		"content":     content,
		"parent_id":   parentID,
		"attachments": attachments,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces a message's content.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*Message, error) {
	body, _ := json.Marshal(map[string]string{"content": content})
	respBody, err := c.doRequest(ctx, "PATCH", "/messages/"+messageID, body)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage removes a message the caller sent.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/messages/"+messageID, nil)
	return err
}

// TogglePin flips a message's pinned flag and returns the new state.
func (c *Client) TogglePin(ctx context.Context, messageID string) (bool, error) {
	var resp struct {
		IsPinned bool `json:"is_pinned"`
	}
	if err := c.postJSON(ctx, "/messages/"+messageID+"/pin", nil, &resp); err != nil {
		return false, err
	}
	return resp.IsPinned, nil
}

// ListPinned returns a room's pinned messages.
func (c *Client) ListPinned(ctx context.Context, roomID string) ([]Message, error) {
	var msgs []Message
	if err := c.getJSON(ctx, "/rooms/"+roomID+"/pins", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Thread is a root message's replies plus the badge count.
type Thread struct {
	Replies []Message `json:"replies"`
	Count   int       `json:"count"`
}

// GetReplies fetches a root message's thread.
func (c *Client) GetReplies(ctx context.Context, messageID string) (*Thread, error) {
	var t Thread
	if err := c.getJSON(ctx, "/messages/"+messageID+"/replies", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ReplyCounts returns reply counts for a window of root messages.
func (c *Client) ReplyCounts(ctx context.Context, messageIDs []string) (map[string]int, error) {
	out := map[string]int{}
	err := c.postJSON(ctx, "/messages/reply-counts", map[string]any{"message_ids": messageIDs}, &out)
	return out, err
}

// ForwardMessage copies a message into other rooms the caller belongs to.
func (c *Client) ForwardMessage(ctx context.Context, messageID string, targetRoomIDs []string) ([]Message, error) {
	var msgs []Message
	err := c.postJSON(ctx, "/messages/"+messageID+"/forward",
		map[string]any{"target_room_ids": targetRoomIDs}, &msgs)
	return msgs, err
}

// Reaction is one user's emoji on a message, hydrated with their name.
type Reaction struct {
	MessageID   string    `json:"message_id"`
	UserID      string    `json:"user_id"`
	Emoji       string    `json:"emoji"`
	CreatedAt   time.Time `json:"created_at"`
	DisplayName string    `json:"display_name"`
}

// AddReaction records the caller's emoji; repeats are absorbed.
func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	return c.postJSON(ctx, "/messages/"+messageID+"/reactions",
		map[string]string{"emoji": emoji}, nil)
}

// RemoveReaction removes the caller's emoji if present.
func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	body, _ := json.Marshal(map[string]string{"emoji": emoji})
	_, err := c.doRequest(ctx, "DELETE", "/messages/"+messageID+"/reactions", body)
	return err
}

// Reactions fetches reactions for a window of message ids, grouped by
// message.
func (c *Client) Reactions(ctx context.Context, messageIDs []string) (map[string][]Reaction, error) {
	out := map[string][]Reaction{}
	err := c.postJSON(ctx, "/messages/reactions", map[string]any{"message_ids": messageIDs}, &out)
	return out, err
}

// Receipt is one user's read record for a message.
type Receipt struct {
	MessageID   string    `json:"message_id"`
	UserID      string    `json:"user_id"`
	ReadAt      time.Time `json:"read_at"`
	DisplayName string    `json:"display_name"`
}

// MarkRead acknowledges messages the caller has seen. First read wins
// server-side, so repeat acknowledgements are harmless.
func (c *Client) MarkRead(ctx context.Context, messageIDs []string) error {
	return c.postJSON(ctx, "/messages/read", map[string]any{"message_ids": messageIDs}, nil)
}

// Receipts fetches read receipts for a window of message ids.
func (c *Client) Receipts(ctx context.Context, messageIDs []string) (map[string][]Receipt, error) {
	out := map[string][]Receipt{}
	err := c.postJSON(ctx, "/messages/receipts", map[string]any{"message_ids": messageIDs}, &out)
	return out, err
}

// UnreadCounts returns the caller's unread count per room.
func (c *Client) UnreadCounts(ctx context.Context) (map[string]int, error) {
	out := map[string]int{}
	err := c.getJSON(ctx, "/unread", &out)
	return out, err
}

// MarkUnread flags a message to come back to.
func (c *Client) MarkUnread(ctx context.Context, messageID string) error {
	return c.postJSON(ctx, "/messages/"+messageID+"/marker", nil, nil)
}

// ClearMarker removes the caller's come-back-to flag.
func (c *Client) ClearMarker(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/messages/"+messageID+"/marker", nil)
	return err
}

// Markers reports which of the given messages carry the caller's flag.
func (c *Client) Markers(ctx context.Context, messageIDs []string) (map[string]bool, error) {
	out := map[string]bool{}
	err := c.postJSON(ctx, "/messages/markers", map[string]any{"message_ids": messageIDs}, &out)
	return out, err
}

// SetTyping refreshes the caller's composing signal for a room.
func (c *Client) SetTyping(ctx context.Context, roomID string) error {
	_, err := c.doRequest(ctx, "PUT", "/rooms/"+roomID+"/typing", nil)
	return err
}

// ClearTyping drops the composing signal immediately.
func (c *Client) ClearTyping(ctx context.Context, roomID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/rooms/"+roomID+"/typing", nil)
	return err
}

// Typer is one user currently composing in a room.
type Typer struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Typing returns who is composing in a room right now.
func (c *Client) Typing(ctx context.Context, roomID string) ([]Typer, error) {
	var out []Typer
	err := c.getJSON(ctx, "/rooms/"+roomID+"/typing", &out)
	return out, err
}

// SearchResponse is the response from searching messages.
type SearchResponse struct {
	Query   string    `json:"query"`
	Results []Message `json:"results"`
}

// Search finds messages across the caller's rooms.
func (c *Client) Search(ctx context.Context, query string, limit int) (*SearchResponse, error) {
	path := fmt.Sprintf("/search?q=%s&limit=%d", url.QueryEscape(query), limit)
	var resp SearchResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
