package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/huddleworks/huddle/internal/directory"
	"github.com/huddleworks/huddle/internal/handlers"
	"github.com/huddleworks/huddle/internal/store"
	"github.com/huddleworks/huddle/internal/uploads"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWithDirectory(t, directory.NewStatic(
		directory.Profile{ID: "u-alice", Name: "Alice Jones"},
		directory.Profile{ID: "u-bob", Name: "Bob Smith"},
		directory.Profile{ID: "u-carol", Name: "Carol Wu"},
	))
}

func newTestServerWithDirectory(t *testing.T, dir directory.Resolver) *httptest.Server {
	t.Helper()

	s, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	uploadDir := t.TempDir()
	uploader, err := uploads.NewDisk(uploadDir, "")
	if err != nil {
		t.Fatal(err)
	}

	h := handlers.NewHandler(handlers.Deps{
		Store:     s,
		Directory: dir,
		Uploader:  uploader,
		Policy:    uploads.Policy{MaxSize: 1 << 20},
		Logger:    zerolog.Nop(),
	})

	router := NewRouter(zerolog.Nop(), h, Options{
		RateLimitPerMinute: 100000,
		UploadDir:          uploadDir,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// do performs a request as the given user and decodes the JSON response.
func do(t *testing.T, srv *httptest.Server, user, method, path string, body any, out any) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, srv.URL+path, reqBody)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp
}

func createDirectRoom(t *testing.T, srv *httptest.Server, caller, other string) string {
	t.Helper()
	var room struct {
		ID string `json:"id"`
	}
	resp := do(t, srv, caller, "POST", "/rooms/direct", map[string]string{"user_id": other}, &room)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create direct room: status %d", resp.StatusCode)
	}
	return room.ID
}

func sendMessage(t *testing.T, srv *httptest.Server, user, roomID, content string) string {
	t.Helper()
	var msg struct {
		ID string `json:"id"`
	}
	resp := do(t, srv, user, "POST", "/rooms/"+roomID+"/messages",
		map[string]any{"content": content}, &msg)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send message: status %d", resp.StatusCode)
	}
	return msg.ID
}

func TestIdentityHeaderRequired(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "", "GET", "/rooms", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity header, got %d", resp.StatusCode)
	}

	// Health stays public.
	resp = do(t, srv, "", "GET", "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should not require identity, got %d", resp.StatusCode)
	}
}

func TestDirectRoomDisplayName(t *testing.T) {
	srv := newTestServer(t)

	var room struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	resp := do(t, srv, "u-alice", "POST", "/rooms/direct", map[string]string{"user_id": "u-bob"}, &room)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if room.DisplayName != "Bob Smith" {
		t.Fatalf("alice's view should be named after bob, got %q", room.DisplayName)
	}

	// Creating a DM with an unknown user fails.
	resp = do(t, srv, "u-alice", "POST", "/rooms/direct", map[string]string{"user_id": "u-ghost"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", resp.StatusCode)
	}
}

func TestNonParticipantForbidden(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")
	msgID := sendMessage(t, srv, "u-alice", roomID, "private")

	if resp := do(t, srv, "u-carol", "GET", "/rooms/"+roomID, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 reading the room, got %d", resp.StatusCode)
	}
	if resp := do(t, srv, "u-carol", "GET", "/rooms/"+roomID+"/messages", nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 listing messages, got %d", resp.StatusCode)
	}
	resp := do(t, srv, "u-carol", "POST", "/messages/"+msgID+"/reactions",
		map[string]string{"emoji": "👍"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 reacting, got %d", resp.StatusCode)
	}
}

func TestSendMessageValidation(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")

	// Empty content without attachments is rejected.
	resp := do(t, srv, "u-alice", "POST", "/rooms/"+roomID+"/messages",
		map[string]any{"content": "   \n"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d", resp.StatusCode)
	}

	// Unknown mentions are rejected whole.
	resp = do(t, srv, "u-alice", "POST", "/rooms/"+roomID+"/messages",
		map[string]any{"content": "ping @[Ghost](u-ghost)"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mention, got %d", resp.StatusCode)
	}

	// Known mentions pass and content is stored verbatim.
	var msg struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	resp = do(t, srv, "u-alice", "POST", "/rooms/"+roomID+"/messages",
		map[string]any{"content": "ping @[Bob Smith](u-bob)"}, &msg)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if msg.Content != "ping @[Bob Smith](u-bob)" {
		t.Fatalf("mention token should be stored verbatim, got %q", msg.Content)
	}

	// Oversized content is rejected.
	resp = do(t, srv, "u-alice", "POST", "/rooms/"+roomID+"/messages",
		map[string]any{"content": strings.Repeat("x", 9000)}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversized content, got %d", resp.StatusCode)
	}
}

func TestThreadingRules(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")
	otherRoom := createDirectRoom(t, srv, "u-alice", "u-carol")

	rootID := sendMessage(t, srv, "u-alice", roomID, "root")

	// Reply to a root works.
	var reply struct {
		ID       string `json:"id"`
		ParentID string `json:"parent_id"`
	}
	resp := do(t, srv, "u-bob", "POST", "/rooms/"+roomID+"/messages",
		map[string]any{"content": "reply", "parent_id": rootID}, &reply)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for reply, got %d", resp.StatusCode)
	}

	// Reply to a reply is rejected: one level only.
	resp = do(t, srv, "u-alice", "POST", "/rooms/"+roomID+"/messages",
		map[string]any{"content": "nested", "parent_id": reply.ID}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for nested reply, got %d", resp.StatusCode)
	}

	// Parent must live in the same room.
	resp = do(t, srv, "u-alice", "POST", "/rooms/"+otherRoom+"/messages",
		map[string]any{"content": "cross", "parent_id": rootID}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-room parent, got %d", resp.StatusCode)
	}

	var thread struct {
		Replies []struct {
			ID string `json:"id"`
		} `json:"replies"`
		Count int `json:"count"`
	}
	do(t, srv, "u-alice", "GET", "/messages/"+rootID+"/replies", nil, &thread)
	if thread.Count != 1 || len(thread.Replies) != 1 {
		t.Fatalf("expected one reply, got %+v", thread)
	}
}

func TestEditAndDeletePermissions(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")
	msgID := sendMessage(t, srv, "u-alice", roomID, "draft")

	// Another participant cannot edit.
	resp := do(t, srv, "u-bob", "PATCH", "/messages/"+msgID,
		map[string]string{"content": "hijacked"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 editing someone else's message, got %d", resp.StatusCode)
	}

	var edited struct {
		Content  string `json:"content"`
		IsEdited bool   `json:"is_edited"`
	}
	resp = do(t, srv, "u-alice", "PATCH", "/messages/"+msgID,
		map[string]string{"content": "final"}, &edited)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if edited.Content != "final" || !edited.IsEdited {
		t.Fatalf("unexpected edit result: %+v", edited)
	}

	// Another participant cannot delete either.
	if resp := do(t, srv, "u-bob", "DELETE", "/messages/"+msgID, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 deleting someone else's message, got %d", resp.StatusCode)
	}
	if resp := do(t, srv, "u-alice", "DELETE", "/messages/"+msgID, nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp := do(t, srv, "u-alice", "DELETE", "/messages/"+msgID, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleting twice should 404, got %d", resp.StatusCode)
	}
}

func TestAnyParticipantMayPin(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")
	msgID := sendMessage(t, srv, "u-alice", roomID, "keep this")

	var pin struct {
		IsPinned bool `json:"is_pinned"`
	}
	resp := do(t, srv, "u-bob", "POST", "/messages/"+msgID+"/pin", nil, &pin)
	if resp.StatusCode != http.StatusOK || !pin.IsPinned {
		t.Fatalf("non-sender participant should pin: status %d, pinned %v", resp.StatusCode, pin.IsPinned)
	}

	var pinned []struct {
		ID string `json:"id"`
	}
	do(t, srv, "u-alice", "GET", "/rooms/"+roomID+"/pins", nil, &pinned)
	if len(pinned) != 1 || pinned[0].ID != msgID {
		t.Fatalf("unexpected pinned list: %v", pinned)
	}
}

func TestUnreadFlow(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")

	m1 := sendMessage(t, srv, "u-alice", roomID, "one")
	m2 := sendMessage(t, srv, "u-alice", roomID, "two")

	var counts map[string]int
	do(t, srv, "u-bob", "GET", "/unread", nil, &counts)
	if counts[roomID] != 2 {
		t.Fatalf("expected 2 unread, got %d", counts[roomID])
	}

	var ack map[string]int
	do(t, srv, "u-bob", "POST", "/messages/read", map[string]any{"message_ids": []string{m1, m2}}, &ack)
	if ack["acknowledged"] != 2 {
		t.Fatalf("expected 2 receipts written, got %d", ack["acknowledged"])
	}

	// Re-acknowledging writes nothing; first read already won.
	do(t, srv, "u-bob", "POST", "/messages/read", map[string]any{"message_ids": []string{m1, m2}}, &ack)
	if ack["acknowledged"] != 0 {
		t.Fatalf("re-ack should write 0 receipts, got %d", ack["acknowledged"])
	}

	// Decode into a fresh map: json merges into non-nil maps, so reusing
	// counts would keep the stale pre-ack entry.
	counts = map[string]int{}
	do(t, srv, "u-bob", "GET", "/unread", nil, &counts)
	if counts[roomID] != 0 {
		t.Fatalf("expected 0 unread after ack, got %d", counts[roomID])
	}

	// Mark-unread flags the room without reopening the receipts.
	do(t, srv, "u-bob", "POST", "/messages/"+m2+"/marker", nil, nil)
	var rooms []struct {
		ID              string `json:"id"`
		UnreadCount     int    `json:"unread_count"`
		HasUnreadMarker bool   `json:"has_unread_marker"`
	}
	do(t, srv, "u-bob", "GET", "/rooms", nil, &rooms)
	if len(rooms) != 1 {
		t.Fatalf("expected one room, got %d", len(rooms))
	}
	if rooms[0].UnreadCount != 0 || !rooms[0].HasUnreadMarker {
		t.Fatalf("marker should flag the room independently of receipts: %+v", rooms[0])
	}
}

func TestBatchReadsScopedToParticipants(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")
	msgID := sendMessage(t, srv, "u-alice", roomID, "between the two of us")

	do(t, srv, "u-bob", "POST", "/messages/"+msgID+"/reactions", map[string]string{"emoji": "👍"}, nil)
	do(t, srv, "u-bob", "POST", "/messages/read", map[string]any{"message_ids": []string{msgID}}, nil)
	do(t, srv, "u-bob", "POST", "/messages/"+msgID+"/marker", nil, nil)
	do(t, srv, "u-bob", "POST", "/rooms/"+roomID+"/messages",
		map[string]any{"content": "re", "parent_id": msgID}, nil)

	body := map[string]any{"message_ids": []string{msgID}}

	var reactions map[string][]struct {
		Emoji string `json:"emoji"`
	}
	do(t, srv, "u-alice", "POST", "/messages/reactions", body, &reactions)
	if len(reactions[msgID]) != 1 {
		t.Fatalf("participant should see the reaction, got %v", reactions)
	}

	// Carol holds valid ids but is not in the room; the batch reads must
	// not leak who reacted, who read, or thread sizes.
	reactions = nil
	do(t, srv, "u-carol", "POST", "/messages/reactions", body, &reactions)
	if len(reactions[msgID]) != 0 {
		t.Fatalf("outsider should not see reactions, got %v", reactions)
	}

	var receipts map[string][]struct {
		UserID string `json:"user_id"`
	}
	do(t, srv, "u-carol", "POST", "/messages/receipts", body, &receipts)
	if len(receipts[msgID]) != 0 {
		t.Fatalf("outsider should not see receipts, got %v", receipts)
	}

	var marked map[string]bool
	do(t, srv, "u-bob", "POST", "/messages/markers", body, &marked)
	if !marked[msgID] {
		t.Fatalf("participant should see their marker, got %v", marked)
	}
	marked = nil
	do(t, srv, "u-carol", "POST", "/messages/markers", body, &marked)
	if marked[msgID] {
		t.Fatalf("outsider should not see markers, got %v", marked)
	}

	var replyCounts map[string]int
	do(t, srv, "u-alice", "POST", "/messages/reply-counts", body, &replyCounts)
	if replyCounts[msgID] != 1 {
		t.Fatalf("participant should see the thread badge, got %v", replyCounts)
	}
	replyCounts = nil
	do(t, srv, "u-carol", "POST", "/messages/reply-counts", body, &replyCounts)
	if replyCounts[msgID] != 0 {
		t.Fatalf("outsider should not see reply counts, got %v", replyCounts)
	}
}

func TestTypingRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")

	req, _ := http.NewRequest("PUT", srv.URL+"/rooms/"+roomID+"/typing", nil)
	req.Header.Set("X-User-ID", "u-alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set typing: status %d", resp.StatusCode)
	}

	var typers []struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	do(t, srv, "u-bob", "GET", "/rooms/"+roomID+"/typing", nil, &typers)
	if len(typers) != 1 || typers[0].UserID != "u-alice" || typers[0].DisplayName != "Alice Jones" {
		t.Fatalf("bob should see alice typing, got %v", typers)
	}

	// The typer never sees themselves.
	do(t, srv, "u-alice", "GET", "/rooms/"+roomID+"/typing", nil, &typers)
	if len(typers) != 0 {
		t.Fatalf("alice should not see herself, got %v", typers)
	}

	// Sending clears the signal.
	sendMessage(t, srv, "u-alice", roomID, "done typing")
	do(t, srv, "u-bob", "GET", "/rooms/"+roomID+"/typing", nil, &typers)
	if len(typers) != 0 {
		t.Fatalf("send should clear typing, got %v", typers)
	}
}

func TestSearchScopedToCaller(t *testing.T) {
	srv := newTestServer(t)
	shared := createDirectRoom(t, srv, "u-alice", "u-bob")
	private := createDirectRoom(t, srv, "u-alice", "u-carol")

	sendMessage(t, srv, "u-alice", shared, "the roadmap is ready")
	sendMessage(t, srv, "u-alice", private, "secret roadmap draft")

	var result struct {
		Results []struct {
			RoomID string `json:"room_id"`
		} `json:"results"`
	}
	do(t, srv, "u-bob", "GET", "/search?q=roadmap", nil, &result)
	if len(result.Results) != 1 || result.Results[0].RoomID != shared {
		t.Fatalf("bob must only see his rooms, got %+v", result.Results)
	}
}

func TestForwardMessage(t *testing.T) {
	srv := newTestServer(t)
	src := createDirectRoom(t, srv, "u-alice", "u-bob")
	dst := createDirectRoom(t, srv, "u-alice", "u-carol")
	outside := createDirectRoom(t, srv, "u-bob", "u-carol")

	msgID := sendMessage(t, srv, "u-alice", src, "worth sharing")

	var forwarded []struct {
		ID       string `json:"id"`
		RoomID   string `json:"room_id"`
		SenderID string `json:"sender_id"`
		ParentID string `json:"parent_id"`
	}
	resp := do(t, srv, "u-alice", "POST", "/messages/"+msgID+"/forward",
		map[string]any{"target_room_ids": []string{dst}}, &forwarded)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if len(forwarded) != 1 || forwarded[0].RoomID != dst {
		t.Fatalf("unexpected forward result: %+v", forwarded)
	}
	if forwarded[0].SenderID != "u-alice" || forwarded[0].ID == msgID || forwarded[0].ParentID != "" {
		t.Fatal("forwarded copy should be a fresh root message from the forwarder")
	}

	// Cannot forward into a room the caller is outside of.
	resp = do(t, srv, "u-alice", "POST", "/messages/"+msgID+"/forward",
		map[string]any{"target_room_ids": []string{outside}}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 forwarding into a foreign room, got %d", resp.StatusCode)
	}
}

func TestAttachmentUploadAndSend(t *testing.T) {
	srv := newTestServer(t)
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "meeting notes")
	mw.Close()

	req, _ := http.NewRequest("POST", srv.URL+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "u-alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload: status %d: %s", resp.StatusCode, body)
	}

	var att struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		t.Fatal(err)
	}
	if att.Filename != "notes.txt" || att.Size != int64(len("meeting notes")) {
		t.Fatalf("unexpected descriptor: %+v", att)
	}

	// An attachment-only message is allowed.
	var msg struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	sendResp := do(t, srv, "u-alice", "POST", "/rooms/"+roomID+"/messages", map[string]any{
		"content": "",
		"attachments": []map[string]any{
			{"url": att.URL, "filename": att.Filename, "mime_type": "text/plain", "size": att.Size},
		},
	}, &msg)
	if sendResp.StatusCode != http.StatusCreated {
		t.Fatalf("attachment-only send: status %d", sendResp.StatusCode)
	}
}

// downDirectory simulates the intranet directory being unreachable.
type downDirectory struct{}

func (downDirectory) Resolve(ctx context.Context, userIDs []string) (map[string]directory.Profile, error) {
	return nil, errors.New("directory unreachable")
}

func (downDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	return false, errors.New("directory unreachable")
}

func TestMessagingSurvivesDirectoryOutage(t *testing.T) {
	srv := newTestServerWithDirectory(t, downDirectory{})
	roomID := createDirectRoom(t, srv, "u-alice", "u-bob")
	msgID := sendMessage(t, srv, "u-alice", roomID, "draft")

	// Mention validation is skipped, not failed, when the directory is
	// down; send and edit behave the same way.
	var edited struct {
		Content  string `json:"content"`
		IsEdited bool   `json:"is_edited"`
	}
	resp := do(t, srv, "u-alice", "PATCH", "/messages/"+msgID,
		map[string]string{"content": "cc @[Bob](u-bob)"}, &edited)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit during outage: status %d", resp.StatusCode)
	}
	if edited.Content != "cc @[Bob](u-bob)" || !edited.IsEdited {
		t.Fatalf("unexpected edit result: %+v", edited)
	}
}
