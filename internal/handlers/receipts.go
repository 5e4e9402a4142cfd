package handlers

import (
	"net/http"

	"github.com/huddleworks/huddle/internal/api/middleware"
	"github.com/huddleworks/huddle/internal/metrics"
	"github.com/huddleworks/huddle/internal/models"
)

// MarkReadRequest records the caller's first sighting of each message.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,max=500"`
}

// MarkRead writes first-read-wins receipts for the caller. Ids that were
// deleted between fetch and acknowledgement are skipped silently; the rest
// of the batch still lands.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	var req MarkReadRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	written, err := h.store.MarkRead(r.Context(), caller, req.MessageIDs)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.ReceiptsWritten.Add(float64(written))
	h.JSON(w, http.StatusOK, map[string]int{"acknowledged": written})
}

// ReceiptView is a receipt hydrated with the reader's display name.
type ReceiptView struct {
	models.ReadReceipt
	DisplayName string `json:"display_name"`
}

// ReceiptsBatch returns read receipts grouped by message for a window of
// message ids. Only messages in the caller's rooms are reported.
func (h *Handler) ReceiptsBatch(w http.ResponseWriter, r *http.Request) {
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

	grouped, err := h.store.ReceiptsBatch(r.Context(), visible)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	userSet := make(map[string]bool)
	for _, receipts := range grouped {
		for _, rc := range receipts {
			userSet[rc.UserID] = true
		}
	}
	userIDs := make([]string, 0, len(userSet))
	for id := range userSet {
		userIDs = append(userIDs, id)
	}
	names := h.resolveNames(r.Context(), userIDs)

	out := make(map[string][]ReceiptView, len(grouped))
	for msgID, receipts := range grouped {
		views := make([]ReceiptView, len(receipts))
		for i, rc := range receipts {
			views[i] = ReceiptView{ReadReceipt: rc, DisplayName: names[rc.UserID]}
		}
		out[msgID] = views
	}

	h.JSON(w, http.StatusOK, out)
}

// UnreadCounts returns the caller's unread count per room. Rooms with
// nothing unread are omitted.
func (h *Handler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	counts, err := h.store.UnreadCounts(r.Context(), caller)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, counts)
}
