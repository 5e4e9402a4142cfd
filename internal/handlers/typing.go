package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/huddleworks/huddle/internal/api/middleware"
	"github.com/huddleworks/huddle/internal/metrics"
)

// SetTyping refreshes the caller's composing signal for a room. Clients
// throttle this to one call per few seconds while the user types; the
// entry expires on its own if the keystrokes stop.
func (h *Handler) SetTyping(w http.ResponseWriter, r *http.Request) {
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

	if err := h.typing.Set(r.Context(), roomID.String(), caller); err != nil {
		h.logger.Error().Err(err).Msg("typing set failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.TypingSignals.Inc()
	h.JSON(w, http.StatusOK, map[string]bool{"typing": true})
}

// ClearTyping drops the caller's composing signal immediately.
func (h *Handler) ClearTyping(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	if err := h.typing.Clear(r.Context(), roomID.String(), caller); err != nil {
		h.logger.Error().Err(err).Msg("typing clear failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"typing": false})
}

// GetTyping returns who is composing in a room right now, excluding the
// caller, hydrated with display names.
func (h *Handler) GetTyping(w http.ResponseWriter, r *http.Request) {
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

	users, err := h.typing.Active(r.Context(), roomID.String(), caller)
	if err != nil {
		h.logger.Error().Err(err).Msg("typing read failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	names := h.resolveNames(r.Context(), users)
	type typer struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	out := make([]typer, len(users))
	for i, id := range users {
		out[i] = typer{UserID: id, DisplayName: names[id]}
	}
	h.JSON(w, http.StatusOK, out)
}
