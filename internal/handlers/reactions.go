package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/huddleworks/huddle/internal/api/middleware"
	"github.com/huddleworks/huddle/internal/metrics"
	"github.com/huddleworks/huddle/internal/models"
)

// ReactionRequest adds or removes one emoji for the calling user.
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

// ReactionView is a reaction hydrated with the reactor's display name.
type ReactionView struct {
	models.Reaction
	DisplayName string `json:"display_name"`
}

// AddReaction records (message, caller, emoji). Repeats are absorbed; the
// pair of add and remove always converges regardless of retries.
func (h *Handler) AddReaction(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	if _, _, err := h.messageForParticipant(r.Context(), messageID, caller); err != nil {
		h.StoreError(w, err)
		return
	}

	var req ReactionRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.AddReaction(r.Context(), messageID, caller, req.Emoji); err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.ReactionsToggled.WithLabelValues("add").Inc()
	h.JSON(w, http.StatusOK, map[string]string{"message_id": messageID, "emoji": req.Emoji})
}

// RemoveReaction deletes the caller's (message, emoji) reaction if present.
func (h *Handler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	if _, _, err := h.messageForParticipant(r.Context(), messageID, caller); err != nil {
		h.StoreError(w, err)
		return
	}

	var req ReactionRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.RemoveReaction(r.Context(), messageID, caller, req.Emoji); err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.ReactionsToggled.WithLabelValues("remove").Inc()
	h.JSON(w, http.StatusOK, map[string]string{"message_id": messageID, "emoji": req.Emoji})
}

// BatchIDsRequest names the messages a batch read covers. Clients send the
// ids of the window they have on screen.
type BatchIDsRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,max=500"`
}

// ReactionsBatch returns reactions grouped by message, each hydrated with
// the reactor's display name. Ids that no longer resolve, or that live in
// rooms the caller is not in, simply have no entry.
func (h *Handler) ReactionsBatch(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	var req BatchIDsRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	visible, err := h.visibleMessageIDs(r.Context(), caller, req.MessageIDs)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	grouped, err := h.store.ReactionsBatch(r.Context(), visible)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	userSet := make(map[string]bool)
	for _, reactions := range grouped {
		for _, re := range reactions {
			userSet[re.UserID] = true
		}
	}
	userIDs := make([]string, 0, len(userSet))
	for id := range userSet {
		userIDs = append(userIDs, id)
	}
	names := h.resolveNames(r.Context(), userIDs)

	out := make(map[string][]ReactionView, len(grouped))
	for msgID, reactions := range grouped {
		views := make([]ReactionView, len(reactions))
		for i, re := range reactions {
			views[i] = ReactionView{Reaction: re, DisplayName: names[re.UserID]}
		}
		out[msgID] = views
	}

	h.JSON(w, http.StatusOK, out)
}
