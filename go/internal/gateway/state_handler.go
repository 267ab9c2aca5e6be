package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crazyrace/crazyrace/go/internal/api"
	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/room"
)

// SnapshotSource reads a session straight from storage. Used when the
// in-memory state has no entry for the room yet, which happens after a
// gateway restart or for a room that has been quiet since startup.
type SnapshotSource interface {
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
}

// StateHandler serves the room monitor endpoint.
type StateHandler struct {
	states *RoomStateManager
	source SnapshotSource
}

// NewStateHandler creates a new state handler.
func NewStateHandler(states *RoomStateManager, source SnapshotSource) *StateHandler {
	return &StateHandler{states: states, source: source}
}

// HandleGetRoomState handles GET /api/rooms/{code}/state.
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		api.WriteError(w, http.StatusBadRequest, errors.New("room code is required"))
		return
	}

	now := time.Now().UTC()
	state := h.states.State(code, now)
	if state == nil {
		s, err := h.source.GetSessionByCode(r.Context(), code)
		if errors.Is(err, room.ErrRoomNotFound) {
			api.WriteError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("room_code", code).Msg("failed to load session for state")
			api.WriteError(w, http.StatusInternalServerError, errors.New("failed to get room state"))
			return
		}
		h.states.Seed(s)
		state = h.states.State(code, now)
	}

	api.WriteJSON(w, http.StatusOK, state)
}

// RegisterStateRoutes registers state-related HTTP routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms/{code}/state", h.HandleGetRoomState)
}
