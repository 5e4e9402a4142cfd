package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/huddleworks/huddle/internal/directory"
	"github.com/huddleworks/huddle/internal/models"
	"github.com/huddleworks/huddle/internal/notify"
	"github.com/huddleworks/huddle/internal/presence"
	"github.com/huddleworks/huddle/internal/store"
	"github.com/huddleworks/huddle/internal/uploads"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store      store.DataStore
	redis      *store.RedisStore // nil when Redis is not configured
	typing     presence.Registry
	directory  directory.Resolver
	dispatcher *notify.Dispatcher
	uploader   uploads.Uploader
	policy     uploads.Policy
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Deps bundles the collaborators a Handler needs.
type Deps struct {
	Store      store.DataStore
	Redis      *store.RedisStore
	Typing     presence.Registry
	Directory  directory.Resolver
	Dispatcher *notify.Dispatcher
	Uploader   uploads.Uploader
	Policy     uploads.Policy
	Logger     zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(d Deps) *Handler {
	if d.Directory == nil {
		d.Directory = directory.Permissive{}
	}
	if d.Typing == nil {
		d.Typing = presence.NewMemory(0)
	}
	return &Handler{
		store:      d.Store,
		redis:      d.Redis,
		typing:     d.Typing,
		directory:  d.Directory,
		dispatcher: d.Dispatcher,
		uploader:   d.Uploader,
		policy:     d.Policy,
		validate:   validator.New(),
		logger:     d.Logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// StoreError maps the store's error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is a 500 with the detail kept out of the response.
func (h *Handler) StoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrForbidden):
		h.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrInvalidArgument):
		h.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("internal error")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// roomForParticipant loads a room and enforces that userID belongs to it.
func (h *Handler) roomForParticipant(ctx context.Context, roomID uuid.UUID, userID string) (*models.Room, error) {
	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, store.ErrForbidden
	}
	return room, nil
}

// messageForParticipant loads a message and enforces that userID belongs
// to its room.
func (h *Handler) messageForParticipant(ctx context.Context, messageID, userID string) (*models.Message, *models.Room, error) {
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	roomID, err := uuid.Parse(msg.RoomID)
	if err != nil {
		return nil, nil, err
	}
	room, err := h.roomForParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, nil, err
	}
	return msg, room, nil
}

// visibleMessageIDs narrows a batch of message ids to those living in rooms
// the caller belongs to. Ids that no longer resolve are dropped the same way
// batch reads skip deleted messages; one room lookup per distinct room.
func (h *Handler) visibleMessageIDs(ctx context.Context, caller string, ids []string) ([]string, error) {
	allowed := make(map[string]bool)

	visible := make([]string, 0, len(ids))
	for _, id := range ids {
		msg, err := h.store.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}

		ok, checked := allowed[msg.RoomID]
		if !checked {
			roomID, err := uuid.Parse(msg.RoomID)
			if err != nil {
				return nil, err
			}
			room, err := h.store.GetRoom(ctx, roomID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					allowed[msg.RoomID] = false
					continue
				}
				return nil, err
			}
			ok = room.HasParticipant(caller)
			allowed[msg.RoomID] = ok
		}
		if ok {
			visible = append(visible, id)
		}
	}
	return visible, nil
}

// resolveNames maps user ids to display names, falling back to the raw id
// when the directory does not know a user.
func (h *Handler) resolveNames(ctx context.Context, userIDs []string) map[string]string {
	names := make(map[string]string, len(userIDs))
	profiles, err := h.directory.Resolve(ctx, userIDs)
	if err != nil {
		h.logger.Warn().Err(err).Msg("directory lookup failed")
		profiles = map[string]directory.Profile{}
	}
	for _, id := range userIDs {
		if p, ok := profiles[id]; ok && p.Name != "" {
			names[id] = p.Name
		} else {
			names[id] = id
		}
	}
	return names
}
