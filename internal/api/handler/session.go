package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/partyrelay/internal/api/apierr"
	"github.com/mcoot/partyrelay/internal/api/middleware"
	"github.com/mcoot/partyrelay/internal/api/request"
	"github.com/mcoot/partyrelay/internal/api/response"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/relay"
	"github.com/mcoot/partyrelay/internal/services/session"
)

// SessionHandler handles session endpoints and websocket upgrades
type SessionHandler struct {
	sessions *session.Controller
	relay    *relay.Router
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Controller, relay *relay.Router, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		relay:    relay,
		logger:   logger,
	}
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	hostID := middleware.MustGetUserID(r.Context())

	var req request.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, h.logger, apierr.NewInvalidRequestError("Invalid request body"))
		return
	}

	s, err := h.sessions.CreateSession(r.Context(), hostID, req.MaxPlayers)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.SessionFromModel(s, nil))
}

// Get handles GET /api/v1/sessions/{code}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	s, players, err := h.sessions.GetSessionByCode(r.Context(), code)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, http.StatusOK, response.SessionFromModel(s, players))
}

// Join handles POST /api/v1/sessions/{code}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req request.JoinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, apierr.NewInvalidRequestError("Invalid request body"))
		return
	}

	player, s, err := h.sessions.JoinSession(r.Context(), code, req.DisplayName, req.AvatarURL)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.JoinResponse{
		Player:  response.PlayerFromModel(player),
		Session: response.SessionSummaryFromModel(s),
	})
}

// Players handles GET /api/v1/sessions/{id}/players
func (h *SessionHandler) Players(w http.ResponseWriter, r *http.Request) {
	sessionID := model.SessionID(mux.Vars(r)["id"])

	players, err := h.sessions.ListPlayers(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PlayersFromModel(players))
}

// End handles POST /api/v1/sessions/{id}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	hostID := middleware.MustGetUserID(r.Context())
	sessionID := model.SessionID(mux.Vars(r)["id"])

	if err := h.sessions.EndSession(r.Context(), sessionID, hostID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.NoContent(w)
}

// LoadGame handles POST /api/v1/sessions/{id}/game
func (h *SessionHandler) LoadGame(w http.ResponseWriter, r *http.Request) {
	hostID := middleware.MustGetUserID(r.Context())
	sessionID := model.SessionID(mux.Vars(r)["id"])

	var req request.LoadGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, apierr.NewInvalidRequestError("Invalid request body"))
		return
	}
	if req.GameID == "" {
		writeError(w, r, h.logger, apierr.NewInvalidRequestError("gameId is required"))
		return
	}

	s, version, err := h.sessions.LoadGame(r.Context(), sessionID, hostID, model.GameID(req.GameID))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LoadGameResponse{
		SessionID:     string(s.ID),
		GameID:        string(version.GameID),
		GameVersionID: string(version.ID),
		Status:        string(s.Status),
	})
}

// Connect handles GET /api/v1/sessions/{id}/ws
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	sessionID := model.SessionID(mux.Vars(r)["id"])

	role, err := h.relay.Authorize(r.Context(), sessionID, relay.ParamsFromRequest(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.relay.Serve(w, r, sessionID, role)
}
