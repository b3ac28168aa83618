package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/spaceai-action-pipeline/internal/audit"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/engine"
	"github.com/xela07ax/spaceai-action-pipeline/internal/infra/auth"
	"github.com/xela07ax/spaceai-action-pipeline/internal/patterns"
	"go.uber.org/zap"
)

// TurnHandler — прогон одной реплики через пайплайн.
type TurnHandler interface {
	HandleTurn(ctx context.Context, utterance string, actor *domain.Actor, opts engine.ExecOptions) engine.TurnResult
}

// Dispatcher — то, что API нужно от реестра инструментов.
type Dispatcher interface {
	GetAvailableTools(category domain.ToolCategory) []domain.ToolDescriptor
	ExecuteTool(ctx context.Context, call engine.ToolCall) domain.ToolResult
	Confirm(ctx context.Context, confirmID string) (domain.ToolResult, error)
	CancelConfirmation(confirmID string) error
	PendingConfirmations(actorID string) []domain.PendingConfirmation
	GetExecutionLogs(limit int, actorID string) []domain.ExecutionLogEntry
	GetStatistics(actorID string) domain.Statistics
}

type ActorDirectory interface {
	Get(id string) (*domain.Actor, bool)
	List() []domain.Actor
}

type PatternSource interface {
	GetPatternInsights() []patterns.Insight
	SuggestBasedOnPatterns() []string
}

type RoutineLister interface {
	List(actorID string) []domain.Routine
}

// HistorySource — долговременный журнал (Postgres). Опционален.
type HistorySource interface {
	Recent(ctx context.Context, actorID string, limit int) ([]audit.Record, error)
}

// Deps — зависимости HTTP слоя. Nil Validator отключает авторизацию,
// nil Gatherer — эндпоинт /metrics.
type Deps struct {
	Pipeline   TurnHandler
	Dispatcher Dispatcher
	Actors     ActorDirectory
	Patterns   PatternSource
	Routines   RoutineLister
	History    HistorySource
	Validator  auth.TokenValidator
	Gatherer   prometheus.Gatherer
}

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	deps   Deps
}

// NewServer собирает роутер со всеми маршрутами.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router: chi.NewRouter(),
		logger: logger.Named("api"),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.deps.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.deps.Validator, s.logger))

		r.Post("/v1/turns", s.handleTurn)

		r.Route("/v1/tools", func(r chi.Router) {
			r.Get("/", s.listTools)
			r.Post("/{id}/execute", s.executeTool)
		})

		r.Route("/v1/confirmations", func(r chi.Router) {
			r.Get("/", s.listConfirmations)
			r.Post("/{id}", s.confirm)
			r.Delete("/{id}", s.cancelConfirmation)
		})

		r.Get("/v1/actors", s.listActors)
		r.Get("/v1/logs", s.executionLogs)
		r.Get("/v1/stats", s.statistics)
		r.Get("/v1/audit", s.auditHistory)
		r.Get("/v1/patterns", s.patternInsights)
		r.Get("/v1/suggestions", s.suggestions)
		r.Get("/v1/routines", s.listRoutines)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
