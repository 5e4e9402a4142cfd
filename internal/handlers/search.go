package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/huddleworks/huddle/internal/api/middleware"
	"github.com/huddleworks/huddle/internal/metrics"
	"github.com/huddleworks/huddle/internal/models"
)

// SearchMessages answers q= across the rooms the caller belongs to. The
// Redis word index is consulted first when configured; otherwise the SQL
// store's scan fallback serves the query. Either way results only ever
// include rooms the caller is in.
func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	query := r.URL.Query().Get("q")
	if query == "" {
		h.Error(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	limit := 25
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	metrics.SearchQueries.Inc()

	var results []models.Message
	if h.redis != nil {
		refs, err := h.redis.SearchRefs(r.Context(), query, limit)
		if err != nil {
			h.logger.Warn().Err(err).Msg("search index unavailable, using store fallback")
		} else {
			results = h.resolveSearchRefs(r, caller, refs, limit)
		}
	}
	if results == nil {
		var err error
		results, err = h.store.SearchMessages(r.Context(), caller, query, limit)
		if err != nil {
			h.StoreError(w, err)
			return
		}
	}

	if results == nil {
		results = []models.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

// resolveSearchRefs turns index refs into messages, dropping rooms the
// caller is not in and refs to since-deleted messages.
func (h *Handler) resolveSearchRefs(r *http.Request, caller string, refs [][2]string, limit int) []models.Message {
	// One membership check per distinct room, not per ref.
	allowed := make(map[string]bool)

	results := make([]models.Message, 0, limit)
	for _, ref := range refs {
		if len(results) >= limit {
			break
		}
		roomID, messageID := ref[0], ref[1]

		ok, checked := allowed[roomID]
		if !checked {
			id, err := uuid.Parse(roomID)
			if err == nil {
				var room *models.Room
				if room, err = h.store.GetRoom(r.Context(), id); err == nil {
					ok = room.HasParticipant(caller)
				}
			}
			allowed[roomID] = ok
		}
		if !ok {
			continue
		}

		msg, err := h.store.GetMessage(r.Context(), messageID)
		if err != nil {
			continue
		}
		results = append(results, *msg)
	}
	return results
}
