package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/mcdev12/typeracer/go/internal/models"
	"github.com/mcdev12/typeracer/go/internal/race"
	"github.com/mcdev12/typeracer/go/internal/race/store"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// SessionProvider loads session snapshots and final standings. The hub implements it.
type SessionProvider interface {
	Session(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	Results(ctx context.Context, sessionID uuid.UUID) ([]race.Standing, error)
}

// SessionState is the JSON body served for a session lookup
type SessionState struct {
	Session   *models.Session `json:"session"`
	Standings []race.Standing `json:"standings,omitempty"`
}

// StateHandler serves read-only session state and join QR codes
type StateHandler struct {
	sessions  SessionProvider
	publicURL string
}

// NewStateHandler creates a state handler. publicURL prefixes join links; when empty it is derived from the request.
func NewStateHandler(sessions SessionProvider, publicURL string) *StateHandler {
	return &StateHandler{
		sessions:  sessions,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Register mounts the state routes
func (h *StateHandler) Register(router *httprouter.Router) {
	router.GET("/api/sessions/:id", h.HandleGetSession)
	router.GET("/api/sessions/:id/qr", h.HandleJoinQR)
}

// HandleGetSession returns the session snapshot, plus standings once finished
func (h *StateHandler) HandleGetSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	session, ok := h.load(w, r, ps)
	if !ok {
		return
	}

	state, err := loadState(r.Context(), h.sessions, session)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to load standings")
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to encode session state")
	}
}

// HandleJoinQR renders a PNG QR code pointing at the session's join link
func (h *StateHandler) HandleJoinQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	session, ok := h.load(w, r, ps)
	if !ok {
		return
	}

	link := fmt.Sprintf("%s/join/%s", h.baseURL(r), session.ID)
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("link", link).Msg("failed to encode join QR code")
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(png); err != nil {
		log.Debug().Err(err).Msg("failed to write QR code")
	}
}

func (h *StateHandler) load(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (*models.Session, bool) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return nil, false
	}

	session, err := h.sessions.Session(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	case err != nil:
		log.Error().Err(err).Str("session_id", id.String()).Msg("failed to load session")
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return nil, false
	}
	return session, true
}

// loadState attaches the recorded standings once the session has finished
func loadState(ctx context.Context, sessions SessionProvider, session *models.Session) (SessionState, error) {
	state := SessionState{Session: session}
	if session.Phase != models.PhaseFinished {
		return state, nil
	}
	standings, err := sessions.Results(ctx, session.ID)
	if err != nil {
		return SessionState{}, fmt.Errorf("failed to load results: %w", err)
	}
	state.Standings = standings
	return state, nil
}

func (h *StateHandler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
