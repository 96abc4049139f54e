package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for lobby connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleLobbyConnection upgrades a client into a lobby's broadcast pool.
func (h *WebSocketHandler) HandleLobbyConnection(w http.ResponseWriter, r *http.Request) {
	lobbyIDStr := r.URL.Query().Get("lobby_id")
	if lobbyIDStr == "" {
		http.Error(w, "lobby_id is required", http.StatusBadRequest)
		return
	}
	lobbyID, err := uuid.Parse(lobbyIDStr)
	if err != nil {
		http.Error(w, "invalid lobby_id format", http.StatusBadRequest)
		return
	}

	// In production this would come from a JWT or session cookie.
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "player_id is required", http.StatusBadRequest)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, playerID, lobbyID); err != nil {
		log.Error().
			Err(err).
			Str("lobby_id", lobbyID.String()).
			Str("player_id", playerID).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleConnectionStats returns counts of active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, lobbies := h.connectionManager.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections": total,
		"active_lobbies":    len(lobbies),
		"lobby_connections": lobbies,
	})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/lobby", h.HandleLobbyConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
