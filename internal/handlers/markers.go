package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/huddleworks/huddle/internal/api/middleware"
)

// MarkUnread flags a message for the caller to come back to. The flag is
// personal state layered on top of receipts; setting it never touches the
// read record.
func (h *Handler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	if _, _, err := h.messageForParticipant(r.Context(), messageID, caller); err != nil {
		h.StoreError(w, err)
		return
	}

	if err := h.store.MarkUnread(r.Context(), caller, messageID); err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"message_id": messageID, "marked": true})
}

// ClearMarker removes the caller's marker from a message. Clearing a
// marker that was never set is a no-op.
func (h *Handler) ClearMarker(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	if err := h.store.ClearMarker(r.Context(), caller, messageID); err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"message_id": messageID, "marked": false})
}

// MarkersBatch reports which of a window's messages carry the caller's
// marker. Messages outside the caller's rooms are never reported.
func (h *Handler) MarkersBatch(w http.ResponseWriter, r *http.Request) {
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

	marked, err := h.store.MarkersBatch(r.Context(), caller, visible)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, marked)
}

// RoomsWithMarkers returns, per room, how many of the caller's markers it
// holds. Feeds the room-list badge.
func (h *Handler) RoomsWithMarkers(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	rooms, err := h.store.RoomsWithMarkers(r.Context(), caller)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, rooms)
}
