package gateway

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

// Handler is what the gateway needs from the race hub
type Handler interface {
	EventHandler
	SessionProvider
}

// Service serves websocket clients, the state API and the session RPC
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	sessionService    *SessionService
	config            Config
}

// Config holds configuration for the race gateway
type Config struct {
	ConnectionConfig ConnectionConfig
	PublicURL        string
	AllowedOrigins   []string
}

// DefaultConfig returns default configuration for the race gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates the gateway around a connection manager. The same manager must be
// handed to the hub as its broadcaster.
func NewService(config Config, cm *ConnectionManager, hub Handler) *Service {
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, hub),
		stateHandler:      NewStateHandler(hub, config.PublicURL),
		sessionService:    NewSessionService(hub),
		config:            config,
	}
}

// Handler returns the routed HTTP handler wrapped in CORS
func (s *Service) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/health", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.GET("/ws", s.wsHandler.HandleConnection)
	router.GET("/ws/stats", s.wsHandler.HandleConnectionStats)
	s.stateHandler.Register(router)

	_, rpc := NewSessionServiceHandler(s.sessionService)
	router.Handler(http.MethodPost, SessionServiceGetSessionProcedure, rpc)

	return CORSMiddleware(s.config.AllowedOrigins, router)
}

// Stop closes every client connection
func (s *Service) Stop() {
	log.Info().Msg("stopping race gateway")
	s.connectionManager.Close()
}
