package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crazyrace/crazyrace/go/internal/api"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleRoomConnection handles WebSocket connections for a room. A
// participant_id ties the connection to a player; spectators connect without
// one and only receive broadcasts.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("room_code")
	if roomCode == "" {
		http.Error(w, "room_code is required", http.StatusBadRequest)
		return
	}

	participantID := r.URL.Query().Get("participant_id")
	if participantID != "" {
		if _, err := uuid.Parse(participantID); err != nil {
			http.Error(w, "invalid participant_id format", http.StatusBadRequest)
			return
		}
	}

	if err := h.connectionManager.UpgradeConnection(w, r, participantID, roomCode); err != nil {
		log.Error().
			Err(err).
			Str("room_code", roomCode).
			Str("participant_id", participantID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.connectionManager.GetConnectionStats()
	api.WriteJSON(w, http.StatusOK, struct {
		TotalConnections int `json:"total_connections"`
		ActiveRooms      int `json:"active_rooms"`
	}{total, rooms})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/rooms", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
