package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/huddleworks/huddle/internal/api/middleware"
	"github.com/huddleworks/huddle/internal/mention"
	"github.com/huddleworks/huddle/internal/metrics"
	"github.com/huddleworks/huddle/internal/models"
)

const maxContentBytes = 8192

// SendMessageRequest posts a message to a room. Content may be empty only
// when at least one attachment is present.
type SendMessageRequest struct {
	Content     string              `json:"content"`
	ParentID    string              `json:"parent_id,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty" validate:"dive"`
}

// MessagesResponse is the room view payload.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// ListMessages returns a window of a room's messages in stable ascending
// order; participants only.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}
	if _, err := h.roomForParticipant(r.Context(), roomID, caller); err != nil {
		h.StoreError(w, err)
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > 200 {
		limit = 200
	}
	before := r.URL.Query().Get("before")

	messages, hasMore, err := h.store.ListRoomMessages(r.Context(), roomID.String(), limit, before)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, MessagesResponse{Messages: messages, HasMore: hasMore})
}

// SendMessage handles posting a message, threading included.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	room, err := h.roomForParticipant(r.Context(), roomID, caller)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	var req SendMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Content = strings.TrimRight(req.Content, " \t\n")
	if req.Content == "" && len(req.Attachments) == 0 {
		h.Error(w, http.StatusBadRequest, "content is required without attachments")
		return
	}
	if len(req.Content) > maxContentBytes {
		h.Error(w, http.StatusUnprocessableEntity, fmt.Sprintf("content too long (max %d bytes)", maxContentBytes))
		return
	}
	for _, a := range req.Attachments {
		if err := h.policy.Check(a.Filename, a.MimeType, a.Size); err != nil {
			h.Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	// Replies must target a root message in the same room; one level only.
	if req.ParentID != "" {
		parent, err := h.store.GetMessage(r.Context(), req.ParentID)
		if err != nil {
			h.StoreError(w, err)
			return
		}
		if parent.RoomID != roomID.String() || !parent.IsRoot() {
			h.Error(w, http.StatusNotFound, "parent is not a root message in this room")
			return
		}
	}

	// Mention tokens are validated once, here; content is stored verbatim.
	unknown, err := mention.Validate(r.Context(), h.directory, req.Content)
	if err != nil {
		h.logger.Warn().Err(err).Msg("mention validation skipped")
	} else if len(unknown) > 0 {
		h.Error(w, http.StatusBadRequest, "unknown mentioned users: "+strings.Join(unknown, ", "))
		return
	}

	msg := &models.Message{
		RoomID:      roomID.String(),
		SenderID:    caller,
		Content:     req.Content,
		Attachments: req.Attachments,
		ParentID:    req.ParentID,
	}
	if err := h.store.InsertMessage(r.Context(), msg); err != nil {
		h.StoreError(w, err)
		return
	}

	kind := "root"
	if msg.ParentID != "" {
		kind = "reply"
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	// Sending ends the composing state immediately.
	if err := h.typing.Clear(r.Context(), msg.RoomID, caller); err != nil {
		h.logger.Warn().Err(err).Msg("typing clear failed")
	}

	// Search indexing is best-effort.
	if h.redis != nil {
		if err := h.redis.IndexMessage(r.Context(), msg); err != nil {
			h.logger.Warn().Err(err).Msg("search indexing failed")
		}
	}

	if h.dispatcher != nil {
		h.dispatcher.MessageSent(r.Context(), msg, room.Participants, mention.MentionedIDs(msg.Content))
	}

	h.JSON(w, http.StatusCreated, msg)
}

// EditMessageRequest replaces a message's content.
type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// EditMessage applies an edit; only the original sender may edit, and the
// message keeps its position.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	msg, _, err := h.messageForParticipant(r.Context(), messageID, caller)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	if msg.SenderID != caller {
		h.Error(w, http.StatusForbidden, "only the sender may edit a message")
		return
	}

	var req EditMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Content) > maxContentBytes {
		h.Error(w, http.StatusUnprocessableEntity, fmt.Sprintf("content too long (max %d bytes)", maxContentBytes))
		return
	}

	unknown, err := mention.Validate(r.Context(), h.directory, req.Content)
	if err != nil {
		h.logger.Warn().Err(err).Msg("mention validation skipped")
	} else if len(unknown) > 0 {
		h.Error(w, http.StatusBadRequest, "unknown mentioned users: "+strings.Join(unknown, ", "))
		return
	}

	updated, err := h.store.UpdateMessageContent(r.Context(), messageID, req.Content)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	if h.redis != nil {
		h.redis.UnindexMessage(r.Context(), msg)
		if err := h.redis.IndexMessage(r.Context(), updated); err != nil {
			h.logger.Warn().Err(err).Msg("search indexing failed")
		}
	}

	h.JSON(w, http.StatusOK, updated)
}

// DeleteMessage hard-removes a message and everything scoped to it; only
// the original sender may delete.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	msg, _, err := h.messageForParticipant(r.Context(), messageID, caller)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	if msg.SenderID != caller {
		h.Error(w, http.StatusForbidden, "only the sender may delete a message")
		return
	}

	if err := h.store.DeleteMessage(r.Context(), messageID); err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.MessagesDeleted.Inc()
	if h.redis != nil {
		h.redis.UnindexMessage(r.Context(), msg)
	}

	h.JSON(w, http.StatusOK, map[string]string{"deleted": messageID})
}

// TogglePin flips the pinned flag; any participant may pin or unpin.
func (h *Handler) TogglePin(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	if _, _, err := h.messageForParticipant(r.Context(), messageID, caller); err != nil {
		h.StoreError(w, err)
		return
	}

	pinned, err := h.store.TogglePin(r.Context(), messageID)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"message_id": messageID, "is_pinned": pinned})
}

// ListPinned returns a room's pinned messages.
func (h *Handler) ListPinned(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}
	if _, err := h.roomForParticipant(r.Context(), roomID, caller); err != nil {
		h.StoreError(w, err)
		return
	}

	pinned, err := h.store.ListPinned(r.Context(), roomID.String())
	if err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, pinned)
}

// RepliesResponse carries a thread's replies and its badge count.
type RepliesResponse struct {
	Replies []models.Message `json:"replies"`
	Count   int              `json:"count"`
}

// GetReplies returns a root message's thread, oldest first.
func (h *Handler) GetReplies(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	if _, _, err := h.messageForParticipant(r.Context(), messageID, caller); err != nil {
		h.StoreError(w, err)
		return
	}

	replies, err := h.store.GetReplies(r.Context(), messageID)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, RepliesResponse{Replies: replies, Count: len(replies)})
}

// ReplyCountsRequest asks for thread badge counts in batch.
type ReplyCountsRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,max=500"`
}

// ReplyCounts returns reply counts per root message, limited to messages in
// the caller's rooms.
func (h *Handler) ReplyCounts(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	var req ReplyCountsRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	visible, err := h.visibleMessageIDs(r.Context(), caller, req.MessageIDs)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	counts, err := h.store.ReplyCounts(r.Context(), visible)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, counts)
}

// ForwardMessageRequest re-sends a message into other rooms.
type ForwardMessageRequest struct {
	TargetRoomIDs []string `json:"target_room_ids" validate:"required,min=1"`
}

// ForwardMessage copies a message the caller can see into target rooms the
// caller belongs to, as fresh root messages.
func (h *Handler) ForwardMessage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	src, _, err := h.messageForParticipant(r.Context(), messageID, caller)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	var req ForwardMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	forwarded := make([]models.Message, 0, len(req.TargetRoomIDs))
	for _, target := range req.TargetRoomIDs {
		targetID, err := uuid.Parse(target)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid target room ID format")
			return
		}
		room, err := h.roomForParticipant(r.Context(), targetID, caller)
		if err != nil {
			h.StoreError(w, err)
			return
		}

		msg := &models.Message{
			RoomID:      room.ID.String(),
			SenderID:    caller,
			Content:     src.Content,
			Attachments: src.Attachments,
		}
		if err := h.store.InsertMessage(r.Context(), msg); err != nil {
			h.StoreError(w, err)
			return
		}
		metrics.MessagesSent.WithLabelValues("root").Inc()
		if h.redis != nil {
			if err := h.redis.IndexMessage(r.Context(), msg); err != nil {
				h.logger.Warn().Err(err).Msg("search indexing failed")
			}
		}
		if h.dispatcher != nil {
			h.dispatcher.MessageSent(r.Context(), msg, room.Participants, nil)
		}
		forwarded = append(forwarded, *msg)
	}

	h.JSON(w, http.StatusCreated, forwarded)
}
