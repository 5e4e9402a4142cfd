package huddle

import (
	"context"
	"sync"
	"time"
)

// Polling cadence. The room list moves slowly; an open room's messages
// and typing state are hot.
const (
	RoomListInterval = 5 * time.Second
	MessagesInterval = 2 * time.Second
	TypingInterval   = 2 * time.Second
)

// RoomUpdate is one refresh of the open room's state.
type RoomUpdate struct {
	Messages  []Message
	HasMore   bool
	Typing    []Typer
	Reactions map[string][]Reaction
	Receipts  map[string][]Receipt
	Markers   map[string]bool
}

// SessionHandlers receives state refreshes as the session's polling loops
// observe them. Nil handlers are skipped.
type SessionHandlers struct {
	OnRooms func(rooms []RoomSummary)
	OnRoom  func(update RoomUpdate)
	OnError func(err error)
}

// Session replicates the server's state by polling. One slow loop keeps
// the room list fresh; opening a room starts fast loops for its messages
// and typing state, and switching rooms cancels them. Every message fetch
// is acknowledged with a read receipt batch, which is what drives the
// unread badge down on the next room-list poll.
type Session struct {
	client   *Client
	handlers SessionHandlers

	mu         sync.Mutex
	openRoomID string
	cancelRoom context.CancelFunc
}

// NewSession creates a session over the given client.
func NewSession(client *Client, handlers SessionHandlers) *Session {
	return &Session{client: client, handlers: handlers}
}

// Run polls the room list until ctx is done. It blocks; run it in its own
// goroutine alongside OpenRoom calls.
func (s *Session) Run(ctx context.Context) {
	t := time.NewTicker(RoomListInterval)
	defer t.Stop()

	s.refreshRooms(ctx)
	for {
		select {
		case <-ctx.Done():
			s.CloseRoom()
			return
		case <-t.C:
			s.refreshRooms(ctx)
		}
	}
}

func (s *Session) refreshRooms(ctx context.Context) {
	rooms, err := s.client.ListRooms(ctx)
	if err != nil {
		s.fail(err)
		return
	}
	if s.handlers.OnRooms != nil {
		s.handlers.OnRooms(rooms)
	}
}

// OpenRoom switches the session's hot loops to roomID. Any previously
// open room's loops are cancelled first.
func (s *Session) OpenRoom(ctx context.Context, roomID string) {
	s.mu.Lock()
	if s.cancelRoom != nil {
		s.cancelRoom()
	}
	roomCtx, cancel := context.WithCancel(ctx)
	s.openRoomID = roomID
	s.cancelRoom = cancel
	s.mu.Unlock()

	go s.pollRoom(roomCtx, roomID)
}

// CloseRoom stops the hot loops without opening another room.
func (s *Session) CloseRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRoom != nil {
		s.cancelRoom()
		s.cancelRoom = nil
		s.openRoomID = ""
	}
}

func (s *Session) pollRoom(ctx context.Context, roomID string) {
	t := time.NewTicker(MessagesInterval)
	defer t.Stop()

	s.refreshRoom(ctx, roomID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refreshRoom(ctx, roomID)
		}
	}
}

// refreshRoom fetches the room's visible window plus its per-message
// state, then acknowledges everything fetched.
func (s *Session) refreshRoom(ctx context.Context, roomID string) {
	page, err := s.client.GetMessages(ctx, roomID, 50, "")
	if err != nil {
		s.fail(err)
		return
	}

	update := RoomUpdate{Messages: page.Messages, HasMore: page.HasMore}

	ids := make([]string, len(page.Messages))
	for i, m := range page.Messages {
		ids[i] = m.ID
	}
	if len(ids) > 0 {
		if update.Reactions, err = s.client.Reactions(ctx, ids); err != nil {
			s.fail(err)
		}
		if update.Receipts, err = s.client.Receipts(ctx, ids); err != nil {
			s.fail(err)
		}
		if update.Markers, err = s.client.Markers(ctx, ids); err != nil {
			s.fail(err)
		}
	}
	if update.Typing, err = s.client.Typing(ctx, roomID); err != nil {
		s.fail(err)
	}

	if s.handlers.OnRoom != nil {
		s.handlers.OnRoom(update)
	}

	// Seeing the window is reading it. The receipts are idempotent, so
	// acknowledging the same window every poll costs only the request.
	if len(ids) > 0 {
		if err := s.client.MarkRead(ctx, ids); err != nil {
			s.fail(err)
		}
	}
}

// Send posts a message to the open room and refreshes it immediately
// rather than waiting for the next tick.
func (s *Session) Send(ctx context.Context, content, parentID string, attachments []Attachment) (*Message, error) {
	roomID := s.OpenRoomID()
	if roomID == "" {
		return nil, context.Canceled
	}
	msg, err := s.client.SendMessage(ctx, roomID, content, parentID, attachments)
	if err != nil {
		return nil, err
	}
	s.refreshRoom(ctx, roomID)
	return msg, nil
}

// ToggleReaction applies an optimistic reaction flip: hadReaction is the
// state the UI showed. On failure the caller's optimistic rendering
// should be rolled back; the returned error signals that.
func (s *Session) ToggleReaction(ctx context.Context, messageID, emoji string, hadReaction bool) error {
	var err error
	if hadReaction {
		err = s.client.RemoveReaction(ctx, messageID, emoji)
	} else {
		err = s.client.AddReaction(ctx, messageID, emoji)
	}
	if err != nil {
		return err
	}
	if roomID := s.OpenRoomID(); roomID != "" {
		s.refreshRoom(ctx, roomID)
	}
	return nil
}

// ToggleMarker flips the come-back-to flag, optimistically mirrored by
// the UI the same way as reactions.
func (s *Session) ToggleMarker(ctx context.Context, messageID string, hadMarker bool) error {
	var err error
	if hadMarker {
		err = s.client.ClearMarker(ctx, messageID)
	} else {
		err = s.client.MarkUnread(ctx, messageID)
	}
	if err != nil {
		return err
	}
	if roomID := s.OpenRoomID(); roomID != "" {
		s.refreshRoom(ctx, roomID)
	}
	return nil
}

// StartTypingLoop refreshes the caller's composing signal every
// TypingInterval until ctx is done, then clears it. Call it with a ctx
// scoped to the user actually typing.
func (s *Session) StartTypingLoop(ctx context.Context, roomID string) {
	t := time.NewTicker(TypingInterval)
	defer t.Stop()

	if err := s.client.SetTyping(ctx, roomID); err != nil {
		s.fail(err)
	}
	for {
		select {
		case <-ctx.Done():
			// Best effort; the entry expires on its own anyway.
			clearCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.client.ClearTyping(clearCtx, roomID)
			cancel()
			return
		case <-t.C:
			if err := s.client.SetTyping(ctx, roomID); err != nil {
				s.fail(err)
			}
		}
	}
}

// OpenRoomID returns the currently open room, or "".
func (s *Session) OpenRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openRoomID
}

func (s *Session) fail(err error) {
	if s.handlers.OnError != nil && err != nil {
		s.handlers.OnError(err)
	}
}
