package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/huddleworks/huddle/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Notify(ctx context.Context, userID string, msg *models.Message, mentioned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + ":" + msg.ID
	if mentioned {
		key += ":mention"
	}
	s.events = append(s.events, key)
}

func TestDispatcherSkipsSender(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(NewMemoryCursor(), sink)
	ctx := context.Background()

	msg := &models.Message{ID: "01A", RoomID: "r1", SenderID: "alice"}
	d.MessageSent(ctx, msg, []string{"alice", "bob"}, nil)

	if len(sink.events) != 1 || sink.events[0] != "bob:01A" {
		t.Fatalf("only bob should be notified, got %v", sink.events)
	}
}

func TestDispatcherCursorMonotonic(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(NewMemoryCursor(), sink)
	ctx := context.Background()

	newer := &models.Message{ID: "01B", RoomID: "r1", SenderID: "alice"}
	older := &models.Message{ID: "01A", RoomID: "r1", SenderID: "alice"}

	d.MessageSent(ctx, newer, []string{"bob"}, nil)
	// A message older than the cursor never re-notifies.
	d.MessageSent(ctx, older, []string{"bob"}, nil)

	if len(sink.events) != 1 {
		t.Fatalf("expected one notification, got %v", sink.events)
	}
}

func TestDispatcherFlagsMentions(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(NewMemoryCursor(), sink)
	ctx := context.Background()

	msg := &models.Message{ID: "01A", RoomID: "r1", SenderID: "alice"}
	d.MessageSent(ctx, msg, []string{"bob", "carol"}, []string{"carol"})

	want := map[string]bool{"bob:01A": true, "carol:01A:mention": true}
	if len(sink.events) != 2 {
		t.Fatalf("expected two notifications, got %v", sink.events)
	}
	for _, e := range sink.events {
		if !want[e] {
			t.Fatalf("unexpected event %q", e)
		}
	}
}

func TestMemoryCursorAdvanceOnly(t *testing.T) {
	c := NewMemoryCursor()
	ctx := context.Background()

	c.Advance(ctx, "bob", "01B")
	c.Advance(ctx, "bob", "01A")

	last, err := c.Last(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if last != "01B" {
		t.Fatalf("cursor should never move backwards, got %q", last)
	}
}
