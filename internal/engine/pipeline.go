package engine

import (
	"context"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"go.uber.org/zap"
)

type Perceiver interface {
	Perceive(ctx context.Context, utterance string, actor *domain.Actor) domain.Perception
}

type Planner interface {
	CreatePlan(ctx context.Context, perception domain.Perception, actor *domain.Actor) domain.Plan
}

type Suggester interface {
	SuggestBasedOnPatterns() []string
}

// TurnResult — итог одной реплики пользователя.
type TurnResult struct {
	Perception  domain.Perception            `json:"perception"`
	Plan        domain.Plan                  `json:"plan"`
	Results     map[string]domain.ToolResult `json:"results"`
	Suggestions []string                     `json:"suggestions"`
}

// Pipeline: утверждение -> Perception -> Plan -> действия -> подсказки.
type Pipeline struct {
	perceiver Perceiver
	planner   Planner
	executor  *ActionExecutor
	suggester Suggester
	metrics   *Metrics
	logger    *zap.Logger
}

func NewPipeline(perceiver Perceiver, planner Planner, executor *ActionExecutor, suggester Suggester, metrics *Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		perceiver: perceiver,
		planner:   planner,
		executor:  executor,
		suggester: suggester,
		metrics:   metrics,
		logger:    logger.Named("pipeline"),
	}
}

// HandleTurn не возвращает ошибку: каждая стадия деградирует сама,
// а сбои действий видны в Results.
func (p *Pipeline) HandleTurn(ctx context.Context, utterance string, actor *domain.Actor, opts ExecOptions) TurnResult {
	perception := p.perceiver.Perceive(ctx, utterance, actor)
	if perception.Source == domain.SourceHeuristic {
		p.metrics.LLMFallbacks.WithLabelValues("perception").Inc()
	}

	plan := p.planner.CreatePlan(ctx, perception, actor)
	if plan.Source == domain.SourceTemplate {
		p.metrics.LLMFallbacks.WithLabelValues("planning").Inc()
	}

	results := p.executor.ExecuteActions(ctx, plan.Actions, actor, opts)

	suggestions := []string{}
	if p.suggester != nil {
		suggestions = append(suggestions, p.suggester.SuggestBasedOnPatterns()...)
	}

	p.logger.Info("turn handled",
		zap.String("actor_id", actorID(actor)),
		zap.String("intent", perception.Intent),
		zap.Int("actions", len(plan.Actions)),
		zap.Int("results", len(results)),
		zap.Strings("prerequisites", plan.Prerequisites))

	return TurnResult{
		Perception:  perception,
		Plan:        plan,
		Results:     results,
		Suggestions: suggestions,
	}
}
