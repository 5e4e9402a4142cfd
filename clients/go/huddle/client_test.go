package huddle

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/huddleworks/huddle/internal/api"
	"github.com/huddleworks/huddle/internal/directory"
	"github.com/huddleworks/huddle/internal/handlers"
	"github.com/huddleworks/huddle/internal/store"
)

func newTestBackend(t *testing.T) *httptest.Server {
	t.Helper()

	s, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	h := handlers.NewHandler(handlers.Deps{
		Store: s,
		Directory: directory.NewStatic(
			directory.Profile{ID: "u-alice", Name: "Alice"},
			directory.Profile{ID: "u-bob", Name: "Bob"},
		),
		Logger: zerolog.Nop(),
	})

	srv := httptest.NewServer(api.NewRouter(zerolog.Nop(), h, api.Options{
		RateLimitPerMinute: 100000,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientConversationFlow(t *testing.T) {
	srv := newTestBackend(t)
	ctx := context.Background()

	alice := NewClient(srv.URL, "u-alice")
	bob := NewClient(srv.URL, "u-bob")

	room, err := alice.CreateDirectRoom(ctx, "u-bob")
	if err != nil {
		t.Fatal(err)
	}
	if room.DisplayName != "Bob" {
		t.Fatalf("expected DM named after counterpart, got %q", room.DisplayName)
	}

	// The same pair converges on the same room from either side.
	same, err := bob.CreateDirectRoom(ctx, "u-alice")
	if err != nil {
		t.Fatal(err)
	}
	if same.ID != room.ID {
		t.Fatal("direct room creation should be idempotent per pair")
	}

	msg, err := alice.SendMessage(ctx, room.ID, "hello bob", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	reply, err := bob.SendMessage(ctx, room.ID, "hi!", msg.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reply.ParentID != msg.ID {
		t.Fatalf("expected reply parented to %s, got %q", msg.ID, reply.ParentID)
	}

	counts, err := alice.ReplyCounts(ctx, []string{msg.ID})
	if err != nil {
		t.Fatal(err)
	}
	if counts[msg.ID] != 1 {
		t.Fatalf("expected 1 reply, got %d", counts[msg.ID])
	}

	if err := bob.AddReaction(ctx, msg.ID, "👍"); err != nil {
		t.Fatal(err)
	}
	reactions, err := alice.Reactions(ctx, []string{msg.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(reactions[msg.ID]) != 1 || reactions[msg.ID][0].DisplayName != "Bob" {
		t.Fatalf("unexpected reactions: %+v", reactions[msg.ID])
	}

	found, err := bob.Search(ctx, "hello", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found.Results) != 1 || found.Results[0].ID != msg.ID {
		t.Fatalf("unexpected search results: %+v", found.Results)
	}
}

func TestSessionPollAcknowledgesReads(t *testing.T) {
	srv := newTestBackend(t)
	ctx := context.Background()

	alice := NewClient(srv.URL, "u-alice")
	bob := NewClient(srv.URL, "u-bob")

	room, err := alice.CreateDirectRoom(ctx, "u-bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := alice.SendMessage(ctx, room.ID, "are you there?", "", nil); err != nil {
		t.Fatal(err)
	}

	unread, err := bob.UnreadCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if unread[room.ID] != 1 {
		t.Fatalf("expected 1 unread before polling, got %d", unread[room.ID])
	}

	var got RoomUpdate
	session := NewSession(bob, SessionHandlers{
		OnRoom: func(u RoomUpdate) { got = u },
		OnError: func(err error) {
			t.Errorf("session error: %v", err)
		},
	})

	// One poll cycle: fetch the window, then acknowledge it.
	session.refreshRoom(ctx, room.ID)

	if len(got.Messages) != 1 || got.Messages[0].Content != "are you there?" {
		t.Fatalf("unexpected window: %+v", got.Messages)
	}

	unread, err = bob.UnreadCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if unread[room.ID] != 0 {
		t.Fatalf("polling should drive unread to zero, got %d", unread[room.ID])
	}
}

func TestSessionOpenRoomSwitchCancels(t *testing.T) {
	srv := newTestBackend(t)
	ctx := context.Background()

	alice := NewClient(srv.URL, "u-alice")
	room1, err := alice.CreateDirectRoom(ctx, "u-bob")
	if err != nil {
		t.Fatal(err)
	}

	session := NewSession(alice, SessionHandlers{})

	session.OpenRoom(ctx, room1.ID)
	if session.OpenRoomID() != room1.ID {
		t.Fatalf("expected open room %s, got %s", room1.ID, session.OpenRoomID())
	}

	session.CloseRoom()
	if session.OpenRoomID() != "" {
		t.Fatal("closing should clear the open room")
	}
}

func TestSessionToggleMarker(t *testing.T) {
	srv := newTestBackend(t)
	ctx := context.Background()

	alice := NewClient(srv.URL, "u-alice")
	bob := NewClient(srv.URL, "u-bob")

	room, err := alice.CreateDirectRoom(ctx, "u-bob")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := alice.SendMessage(ctx, room.ID, "come back to this", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	session := NewSession(bob, SessionHandlers{})

	if err := session.ToggleMarker(ctx, msg.ID, false); err != nil {
		t.Fatal(err)
	}
	markers, err := bob.Markers(ctx, []string{msg.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !markers[msg.ID] {
		t.Fatal("marker should be set after toggle")
	}

	if err := session.ToggleMarker(ctx, msg.ID, true); err != nil {
		t.Fatal(err)
	}
	markers, _ = bob.Markers(ctx, []string{msg.ID})
	if markers[msg.ID] {
		t.Fatal("marker should be cleared after second toggle")
	}
}
