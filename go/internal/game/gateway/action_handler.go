package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/quizbuzz/quizbuzz/go/internal/game/arbiter"
	"github.com/quizbuzz/quizbuzz/go/internal/game/coordinator"
	"github.com/quizbuzz/quizbuzz/go/internal/game/events"
	"github.com/quizbuzz/quizbuzz/go/internal/game/registry"
	"github.com/quizbuzz/quizbuzz/go/internal/lobby"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/quizbuzz/quizbuzz/go/internal/question"
	"github.com/quizbuzz/quizbuzz/go/internal/session"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
	"github.com/rs/zerolog/log"
)

// ActionHandler is the HTTP JSON surface for lobby and game actions. All
// state mutations route through the registry so each lobby keeps its single
// writer; reads go straight to the gateway.
type ActionHandler struct {
	lobbies   *lobby.App
	questions *question.App
	sessions  *session.App
	registry  *registry.Registry
	gateway   store.Gateway
}

func NewActionHandler(lobbies *lobby.App, questions *question.App, sessions *session.App, reg *registry.Registry, gw store.Gateway) *ActionHandler {
	return &ActionHandler{
		lobbies:   lobbies,
		questions: questions,
		sessions:  sessions,
		registry:  reg,
		gateway:   gw,
	}
}

// RegisterRoutes registers the API routes with an HTTP mux.
func (h *ActionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/lobbies", h.handleCreateLobby)
	mux.HandleFunc("GET /api/lobbies", h.handleListLobbies)
	mux.HandleFunc("GET /api/lobbies/{id}", h.handleGetLobby)
	mux.HandleFunc("GET /api/lobbies/{id}/events", h.handleListEvents)
	mux.HandleFunc("GET /api/lobbies/{id}/sessions", h.handleListSessions)
	mux.HandleFunc("POST /api/lobbies/{id}/join", h.handleAction(coordinator.ActionJoin))
	mux.HandleFunc("POST /api/lobbies/{id}/leave", h.handleAction(coordinator.ActionLeave))
	mux.HandleFunc("POST /api/lobbies/{id}/start", h.handleAction(coordinator.ActionStart))
	mux.HandleFunc("POST /api/lobbies/{id}/buzz", h.handleAction(coordinator.ActionBuzz))
	mux.HandleFunc("POST /api/lobbies/{id}/answer", h.handleAction(coordinator.ActionAnswer))
	mux.HandleFunc("POST /api/lobbies/{id}/next", h.handleAction(coordinator.ActionNext))
	mux.HandleFunc("POST /api/lobbies/{id}/end", h.handleAction(coordinator.ActionEnd))
	mux.HandleFunc("POST /api/lobbies/{id}/resume", h.handleAction(coordinator.ActionResume))
	mux.HandleFunc("GET /api/categories", h.handleListCategories)
}

type actionRequest struct {
	PlayerID        string     `json:"playerId"`
	Username        string     `json:"username,omitempty"`
	QuestionIndex   int        `json:"questionIndex"`
	SelectedOption  int        `json:"selectedOption"`
	ClientTimestamp *time.Time `json:"clientTimestamp,omitempty"`
}

type actionResponse struct {
	Phase   models.Phase            `json:"phase"`
	Lobby   *models.Lobby           `json:"lobby,omitempty"`
	Session *models.Session         `json:"session,omitempty"`
	Buzz    *arbiter.Result         `json:"buzz,omitempty"`
	Outcome *scoringOutcomeResponse `json:"outcome,omitempty"`
}

type scoringOutcomeResponse struct {
	Correct       bool `json:"correct"`
	PointsAwarded int  `json:"pointsAwarded"`
}

type errorResponse struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Phase   models.Phase `json:"phase,omitempty"`
}

func (h *ActionHandler) handleCreateLobby(w http.ResponseWriter, r *http.Request) {
	var req lobby.CreateLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid request body", "")
		return
	}

	lob, err := h.lobbies.CreateLobby(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, lob)
}

func (h *ActionHandler) handleListLobbies(w http.ResponseWriter, r *http.Request) {
	lobbies, err := h.lobbies.ListOpenLobbies(r.Context())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobbies": lobbies})
}

func (h *ActionHandler) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := parseLobbyID(w, r)
	if !ok {
		return
	}
	lob, err := h.gateway.GetLobby(r.Context(), lobbyID)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, lob)
}

// handleListEvents serves the lobby's event history. Clients that detect a
// sequence gap on the WebSocket refetch from their last seen seq.
func (h *ActionHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := parseLobbyID(w, r)
	if !ok {
		return
	}

	afterSeq := int64(0)
	if s := r.URL.Query().Get("after_seq"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "invalid after_seq", "")
			return
		}
		afterSeq = v
	}
	limit := int32(100)
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "BadRequest", "invalid limit", "")
			return
		}
		limit = int32(v)
	}

	evts, err := h.gateway.ListEvents(r.Context(), lobbyID, afterSeq, limit)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}

func (h *ActionHandler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := parseLobbyID(w, r)
	if !ok {
		return
	}
	sessions, err := h.sessions.Ledger(r.Context(), lobbyID)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *ActionHandler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.questions.ListCategories(r.Context())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// handleAction builds the handler for one coordinator action kind.
func (h *ActionHandler) handleAction(kind coordinator.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID, ok := parseLobbyID(w, r)
		if !ok {
			return
		}

		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "invalid request body", "")
			return
		}
		if req.PlayerID == "" {
			writeError(w, http.StatusBadRequest, "BadRequest", "playerId is required", "")
			return
		}

		act := coordinator.Action{
			Kind:           kind,
			PlayerID:       req.PlayerID,
			Username:       req.Username,
			QuestionIndex:  req.QuestionIndex,
			SelectedOption: req.SelectedOption,
		}
		if req.ClientTimestamp != nil {
			act.ClientTimestamp = *req.ClientTimestamp
		}

		res := h.registry.Dispatch(r.Context(), lobbyID, act)
		if res.Err != nil {
			log.Debug().
				Err(res.Err).
				Str("lobby_id", lobbyID.String()).
				Str("action", string(kind)).
				Str("player_id", req.PlayerID).
				Msg("action rejected")
			writeDomainError(w, res.Err, res.Phase)
			return
		}

		resp := actionResponse{
			Phase:   res.Phase,
			Lobby:   res.Lobby,
			Session: res.Session,
			Buzz:    res.Buzz,
		}
		if res.Outcome != nil {
			resp.Outcome = &scoringOutcomeResponse{
				Correct:       res.Outcome.Correct,
				PointsAwarded: res.Outcome.PointsAwarded,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parseLobbyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid lobby id", "")
		return uuid.Nil, false
	}
	return id, true
}

// writeDomainError maps domain errors onto the HTTP surface. Conflicts and
// stale indexes are 409s the client resolves by resyncing; persistence
// failures are 503s worth retrying.
func writeDomainError(w http.ResponseWriter, err error, phase models.Phase) {
	switch {
	case errors.Is(err, coordinator.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Unauthorized", err.Error(), phase)
	case errors.Is(err, arbiter.ErrDuplicateBuzz):
		writeError(w, http.StatusConflict, "DuplicateBuzz", err.Error(), phase)
	case errors.Is(err, coordinator.ErrStaleQuestionIndex):
		writeError(w, http.StatusConflict, "StaleQuestionIndex", err.Error(), phase)
	case errors.Is(err, coordinator.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "InvalidTransition", err.Error(), phase)
	case errors.Is(err, registry.ErrLobbyFinished):
		writeError(w, http.StatusConflict, "InvalidTransition", err.Error(), phase)
	case errors.Is(err, store.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "ConcurrencyConflict", err.Error(), phase)
	case errors.Is(err, coordinator.ErrLobbyPaused),
		errors.Is(err, events.ErrPersistenceFailure):
		writeError(w, http.StatusServiceUnavailable, "PersistenceFailure", err.Error(), phase)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error(), phase)
	case errors.Is(err, lobby.ErrLobbyFull),
		errors.Is(err, lobby.ErrLobbyInactive),
		errors.Is(err, lobby.ErrNotEnoughPlayers):
		writeError(w, http.StatusUnprocessableEntity, "LobbyRule", err.Error(), phase)
	default:
		log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "Internal", "internal error", phase)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, phase models.Phase) {
	writeJSON(w, status, errorResponse{Code: code, Message: message, Phase: phase})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
