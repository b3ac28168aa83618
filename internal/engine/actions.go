package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"go.uber.org/zap"
)

// ExecOptions — кто исполняет план и подтвержден ли он заранее.
type ExecOptions struct {
	UserID    string
	Confirmed bool
}

// ActionHandler исполняет одно действие плана.
type ActionHandler func(ctx context.Context, action domain.ActionDescriptor, actor *domain.Actor, opts ExecOptions) domain.ToolResult

// ActionExecutor — таблица диспетчеризации type -> handler поверх Orchestrator.
type ActionExecutor struct {
	handlers map[domain.ActionType]ActionHandler
	metrics  *Metrics
	logger   *zap.Logger
}

func NewActionExecutor(orch *Orchestrator, metrics *Metrics, logger *zap.Logger) *ActionExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	handlers := make(map[domain.ActionType]ActionHandler, len(domain.CanonicalActionTypes))
	for _, t := range domain.CanonicalActionTypes {
		handlers[t] = dispatchToTool(orch, string(t))
	}
	return &ActionExecutor{
		handlers: handlers,
		metrics:  metrics,
		logger:   logger.Named("actions"),
	}
}

// dispatchToTool — у канонических действий ID инструмента совпадает с типом.
func dispatchToTool(orch *Orchestrator, toolID string) ActionHandler {
	return func(ctx context.Context, action domain.ActionDescriptor, actor *domain.Actor, opts ExecOptions) domain.ToolResult {
		if !actor.CanUseTool(toolID) {
			return domain.ToolResult{Error: fmt.Sprintf("Capability %s is not enabled for this actor", toolID)}
		}
		return orch.ExecuteTool(ctx, ToolCall{
			ToolID:     toolID,
			Parameters: action.Parameters,
			ActorID:    actorID(actor),
			UserID:     opts.UserID,
			Confirmed:  opts.Confirmed,
		})
	}
}

// Handles сообщает, есть ли обработчик для типа.
func (e *ActionExecutor) Handles(t domain.ActionType) bool {
	_, ok := e.handlers[t]
	return ok
}

// ExecuteActions исполняет действия строго по порядку. Сбой одного действия
// записывается под его ключом и не останавливает остальные.
// Повтор типа получает ключ "type#2", "type#3" и т.д.
func (e *ActionExecutor) ExecuteActions(ctx context.Context, actions []domain.ActionDescriptor, actor *domain.Actor, opts ExecOptions) map[string]domain.ToolResult {
	results := make(map[string]domain.ToolResult, len(actions))
	seen := make(map[domain.ActionType]int, len(actions))

	for _, action := range actions {
		seen[action.Type]++
		key := string(action.Type)
		if n := seen[action.Type]; n > 1 {
			key = fmt.Sprintf("%s#%d", action.Type, n)
		}

		results[key] = e.executeOne(ctx, action, actor, opts)

		if r := results[key]; !r.Success && !r.RequiresConfirmation {
			e.logger.Warn("action failed, continuing with the rest",
				zap.String("key", key), zap.String("error", r.Error))
		}
	}
	return results
}

func (e *ActionExecutor) executeOne(ctx context.Context, action domain.ActionDescriptor, actor *domain.Actor, opts ExecOptions) (result domain.ToolResult) {
	handler, ok := e.handlers[action.Type]
	if !ok {
		e.metrics.Rejections.WithLabelValues("unknown_action").Inc()
		return domain.ToolResult{Error: MsgUnknownActionType}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action handler panicked",
				zap.String("type", string(action.Type)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = domain.ToolResult{Error: fmt.Sprintf("Action execution failed: %v", r)}
		}
	}()
	return handler(ctx, action, actor, opts)
}

func actorID(a *domain.Actor) string {
	if a == nil {
		return ""
	}
	return a.ID
}
