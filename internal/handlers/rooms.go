package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/huddleworks/huddle/internal/api/middleware"
	"github.com/huddleworks/huddle/internal/metrics"
	"github.com/huddleworks/huddle/internal/models"
)

// CreateDirectRoomRequest starts (or returns) a DM with another user.
type CreateDirectRoomRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// CreateGroupRoomRequest creates a group or team room.
type CreateGroupRoomRequest struct {
	Name      string   `json:"name" validate:"required"`
	Type      string   `json:"type" validate:"omitempty,oneof=group team"`
	MemberIDs []string `json:"member_ids" validate:"required,min=1"`
}

// RoomResponse is a room hydrated for rendering: direct rooms get a
// display name derived from the other participant.
type RoomResponse struct {
	models.Room
	DisplayName string `json:"display_name"`
}

func (h *Handler) roomResponse(r *http.Request, room *models.Room) RoomResponse {
	caller := middleware.UserFromContext(r.Context())
	resp := RoomResponse{Room: *room, DisplayName: room.Name}
	if room.Type == models.RoomDirect {
		other := room.OtherParticipant(caller)
		resp.DisplayName = h.resolveNames(r.Context(), []string{other})[other]
	}
	return resp
}

// CreateDirectRoom handles starting a DM. Calling it again for the same
// pair returns the existing room.
func (h *Handler) CreateDirectRoom(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	var req CreateDirectRoomRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if ok, err := h.directory.Exists(r.Context(), req.UserID); err == nil && !ok {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	room, err := h.store.CreateDirectRoom(r.Context(), caller, req.UserID)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.RoomsCreated.WithLabelValues(string(models.RoomDirect)).Inc()
	h.JSON(w, http.StatusOK, h.roomResponse(r, room))
}

// CreateGroupRoom handles creating a group or team room; the creator is
// always included.
func (h *Handler) CreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	var req CreateGroupRoomRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	roomType := models.RoomType(req.Type)
	if req.Type == "" {
		roomType = models.RoomGroup
	}

	room, err := h.store.CreateGroupRoom(r.Context(), req.Name, roomType, caller, req.MemberIDs)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.RoomsCreated.WithLabelValues(string(roomType)).Inc()
	h.JSON(w, http.StatusCreated, h.roomResponse(r, room))
}

// RoomSummaryResponse is a sidebar entry.
type RoomSummaryResponse struct {
	models.RoomSummary
	DisplayName string `json:"display_name"`
}

// ListRooms returns the caller's rooms with unread badges, marker flags
// and last-message previews.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserFromContext(r.Context())

	summaries, err := h.store.ListRoomsForUser(r.Context(), caller)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	// Resolve counterpart names for all direct rooms in one lookup.
	var others []string
	for _, s := range summaries {
		if s.Type == models.RoomDirect {
			others = append(others, s.OtherParticipant(caller))
		}
	}
	names := h.resolveNames(r.Context(), others)

	out := make([]RoomSummaryResponse, len(summaries))
	for i, s := range summaries {
		out[i] = RoomSummaryResponse{RoomSummary: s, DisplayName: s.Name}
		if s.Type == models.RoomDirect {
			out[i].DisplayName = names[s.OtherParticipant(caller)]
		}
	}
	h.JSON(w, http.StatusOK, out)
}

// GetRoom returns a single room; participants only.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
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
	h.JSON(w, http.StatusOK, h.roomResponse(r, room))
}
