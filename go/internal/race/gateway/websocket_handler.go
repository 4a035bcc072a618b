package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for race clients
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	handler           EventHandler
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, handler EventHandler) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		handler:           handler,
	}
}

// HandleConnection upgrades the request. Session membership is established by the events the client sends.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if _, err := h.connectionManager.UpgradeConnection(w, r, h.handler); err != nil {
		// the upgrader has already replied to the client
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}
