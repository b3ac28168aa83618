package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/engine"
	"github.com/xela07ax/spaceai-action-pipeline/internal/infra/auth"
	"go.uber.org/zap"
)

const defaultLogLimit = 50

var (
	errActorMismatch = errors.New("actor_id does not match token")
	errUnknownActor  = errors.New("unknown actor")
)

type TurnRequest struct {
	Utterance string `json:"utterance"`
	ActorID   string `json:"actor_id"`
	UserID    string `json:"user_id"`
	Confirmed bool   `json:"confirmed"`
}

type ExecuteRequest struct {
	Parameters map[string]any `json:"parameters"`
	ActorID    string         `json:"actor_id"`
	UserID     string         `json:"user_id"`
	Confirmed  bool           `json:"confirmed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// resolveActor: actor_id из токена главнее запроса, чужую персону указать нельзя.
func (s *Server) resolveActor(r *http.Request, requested string) (*domain.Actor, error) {
	if tokenActor := auth.ActorIDFromContext(r.Context()); tokenActor != "" {
		if requested != "" && requested != tokenActor {
			return nil, errActorMismatch
		}
		requested = tokenActor
	}
	actor, ok := s.deps.Actors.Get(requested)
	if !ok {
		return nil, errUnknownActor
	}
	return actor, nil
}

func (s *Server) writeActorError(w http.ResponseWriter, err error) {
	if errors.Is(err, errActorMismatch) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeError(w, http.StatusNotFound, err.Error())
}

// userID: из токена, иначе то, что прислал клиент (локальный режим без авторизации).
func userID(r *http.Request, fromBody string) string {
	if id := auth.UserIDFromContext(r.Context()); id != "" {
		return id
	}
	return fromBody
}

// actorFilter — для выборок: персона из токена или ?actor_id=.
func actorFilter(r *http.Request) string {
	if id := auth.ActorIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.URL.Query().Get("actor_id")
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Utterance) == "" {
		writeError(w, http.StatusBadRequest, "utterance is required")
		return
	}

	actor, err := s.resolveActor(r, req.ActorID)
	if err != nil {
		s.writeActorError(w, err)
		return
	}

	result := s.deps.Pipeline.HandleTurn(r.Context(), req.Utterance, actor, engine.ExecOptions{
		UserID:    userID(r, req.UserID),
		Confirmed: req.Confirmed,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	category := domain.ToolCategory(r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.GetAvailableTools(category))
}

func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	toolID := chi.URLParam(r, "id")

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor, err := s.resolveActor(r, req.ActorID)
	if err != nil {
		s.writeActorError(w, err)
		return
	}
	if !actor.CanUseTool(toolID) {
		writeError(w, http.StatusForbidden, "capability is not enabled for this actor")
		return
	}

	result := s.deps.Dispatcher.ExecuteTool(r.Context(), engine.ToolCall{
		ToolID:     toolID,
		Parameters: req.Parameters,
		ActorID:    actor.ID,
		UserID:     userID(r, req.UserID),
		Confirmed:  req.Confirmed,
	})

	status := http.StatusOK
	switch {
	case result.RequiresConfirmation:
		status = http.StatusAccepted
	case result.Error == engine.MsgToolNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, result)
}

func (s *Server) listConfirmations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.PendingConfirmations(actorFilter(r)))
}

// ownsConfirmation — с токеном можно трогать только ожидания своей персоны.
func (s *Server) ownsConfirmation(r *http.Request, confirmID string) bool {
	tokenActor := auth.ActorIDFromContext(r.Context())
	if tokenActor == "" {
		return true
	}
	for _, pc := range s.deps.Dispatcher.PendingConfirmations(tokenActor) {
		if pc.ConfirmID == confirmID {
			return true
		}
	}
	return false
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.ownsConfirmation(r, id) {
		writeError(w, http.StatusNotFound, domain.ErrConfirmationNotFound.Error())
		return
	}

	result, err := s.deps.Dispatcher.Confirm(r.Context(), id)
	if err != nil {
		s.writeConfirmationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelConfirmation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.ownsConfirmation(r, id) {
		writeError(w, http.StatusNotFound, domain.ErrConfirmationNotFound.Error())
		return
	}

	if err := s.deps.Dispatcher.CancelConfirmation(id); err != nil {
		s.writeConfirmationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeConfirmationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConfirmationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConfirmationExpired):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

func (s *Server) listActors(w http.ResponseWriter, r *http.Request) {
	if id := auth.ActorIDFromContext(r.Context()); id != "" {
		actor, ok := s.deps.Actors.Get(id)
		if !ok {
			writeJSON(w, http.StatusOK, []domain.Actor{})
			return
		}
		writeJSON(w, http.StatusOK, []domain.Actor{*actor})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Actors.List())
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLogLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) executionLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.GetExecutionLogs(limit, actorFilter(r)))
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.GetStatistics(actorFilter(r)))
}

// auditHistory читает долговременное зеркало журнала, если оно подключено.
func (s *Server) auditHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "audit storage is not configured")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.deps.History.Recent(r.Context(), actorFilter(r), limit)
	if err != nil {
		s.logger.Error("audit history query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) patternInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Patterns.GetPatternInsights())
}

func (s *Server) suggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Patterns.SuggestBasedOnPatterns())
}

func (s *Server) listRoutines(w http.ResponseWriter, r *http.Request) {
	if s.deps.Routines == nil {
		writeJSON(w, http.StatusOK, []domain.Routine{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Routines.List(actorFilter(r)))
}
