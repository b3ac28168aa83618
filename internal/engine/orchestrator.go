// Package engine — реестр инструментов, диспетчер и склейка стадий пайплайна.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"go.uber.org/zap"
)

// Сообщения об отказах, которые видит вызывающий.
const (
	MsgToolNotFound      = "Tool not found"
	MsgUnknownActionType = "Unknown action type"
)

var (
	ErrDuplicateTool = errors.New("tool already registered")
	ErrInvalidTool   = errors.New("invalid tool descriptor")
)

// AuditSink получает копию каждой записи журнала. Не должен блокировать.
type AuditSink interface {
	Log(entry domain.ExecutionLogEntry)
}

// ToolCall — один вызов диспетчера.
type ToolCall struct {
	ToolID     string
	Parameters map[string]any
	ActorID    string
	UserID     string
	Confirmed  bool
}

type Option func(*Orchestrator)

// WithConfirmationTTL — 0 отключает истечение подтверждений.
func WithConfirmationTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.ttl = ttl }
}

func WithAuditSink(sink AuditSink) Option {
	return func(o *Orchestrator) { o.audit = sink }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator владеет реестром, журналом исполнения и ожидающими подтверждениями.
// Один экземпляр на процесс; все три структуры защищены своими мьютексами.
type Orchestrator struct {
	toolsMu sync.RWMutex
	tools   map[string]domain.ToolDescriptor
	order   []string

	logMu sync.RWMutex
	logs  []domain.ExecutionLogEntry

	pendingMu sync.Mutex
	pending   map[string]*domain.PendingConfirmation
	// Просроченные токены помнятся, чтобы отвечать "expired", а не "not found"
	expired      map[string]struct{}
	expiredOrder []string

	ttl     time.Duration
	audit   AuditSink
	metrics *Metrics
	now     func() time.Time
	logger  *zap.Logger
}

func NewOrchestrator(logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		tools:   make(map[string]domain.ToolDescriptor),
		pending: make(map[string]*domain.PendingConfirmation),
		expired: make(map[string]struct{}),
		now:     time.Now,
		logger:  logger.Named("dispatcher"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}

// RegisterTool добавляет инструмент. Реестр только растет: повтор ID — ошибка.
func (o *Orchestrator) RegisterTool(tool domain.ToolDescriptor) error {
	if strings.TrimSpace(tool.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTool)
	}
	if tool.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidTool, tool.ID)
	}
	if tool.Name == "" {
		tool.Name = tool.ID
	}

	o.toolsMu.Lock()
	defer o.toolsMu.Unlock()
	if _, exists := o.tools[tool.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.ID)
	}
	o.tools[tool.ID] = tool
	o.order = append(o.order, tool.ID)

	o.logger.Info("tool registered",
		zap.String("tool_id", tool.ID),
		zap.String("category", string(tool.Category)),
		zap.Bool("requires_confirmation", tool.RequiresConfirmation))
	return nil
}

func (o *Orchestrator) Tool(id string) (domain.ToolDescriptor, bool) {
	o.toolsMu.RLock()
	defer o.toolsMu.RUnlock()
	t, ok := o.tools[id]
	return t, ok
}

// ToolIDs — ID в порядке регистрации.
func (o *Orchestrator) ToolIDs() []string {
	o.toolsMu.RLock()
	defer o.toolsMu.RUnlock()
	return append([]string(nil), o.order...)
}

// GetAvailableTools фильтрует реестр по категории. Пустая категория — все.
func (o *Orchestrator) GetAvailableTools(category domain.ToolCategory) []domain.ToolDescriptor {
	o.toolsMu.RLock()
	defer o.toolsMu.RUnlock()
	out := make([]domain.ToolDescriptor, 0, len(o.order))
	for _, id := range o.order {
		t := o.tools[id]
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// GetToolsForConnector возвращает имена инструментов, привязанных к коннектору.
// Инструменты без явной привязки попадают по старому правилу:
// финансовая категория + "financial" в ID коннектора.
func (o *Orchestrator) GetToolsForConnector(connectorID string) []string {
	o.toolsMu.RLock()
	defer o.toolsMu.RUnlock()
	names := []string{}
	for _, id := range o.order {
		t := o.tools[id]
		switch {
		case t.UsesConnector(connectorID):
			names = append(names, t.Name)
		case len(t.RequiredConnectors) == 0 &&
			t.Category == domain.CategoryFinancial &&
			strings.Contains(connectorID, "financial"):
			names = append(names, t.Name)
		}
	}
	return names
}

// ExecuteTool — единая точка вызова инструмента. Никогда не паникует и не возвращает ошибку:
// все исходы выражены в ToolResult.
//
//  1. неизвестный инструмент — отказ без записи в журнал
//  2. валидация параметров — отказ без записи в журнал
//  3. шлюз подтверждения — токен, без запуска и без записи
//  4. запуск обработчика с перехватом ошибок и паник
//  5. одна запись в журнал
func (o *Orchestrator) ExecuteTool(ctx context.Context, call ToolCall) domain.ToolResult {
	return o.execute(ctx, call, true)
}

func (o *Orchestrator) execute(ctx context.Context, call ToolCall, consumePending bool) domain.ToolResult {
	log := o.logger.With(zap.String("tool_id", call.ToolID), zap.String("actor_id", call.ActorID))

	// 1. Lookup
	tool, ok := o.Tool(call.ToolID)
	if !ok {
		o.metrics.Rejections.WithLabelValues("unknown_tool").Inc()
		log.Warn("unknown tool requested")
		return domain.ToolResult{Error: MsgToolNotFound}
	}

	params := call.Parameters
	if params == nil {
		params = map[string]any{}
	}

	// 2. Validation
	if problems := validateParameters(tool.Parameters, params); len(problems) > 0 {
		o.metrics.Rejections.WithLabelValues("validation").Inc()
		msg := "Invalid parameters: " + strings.Join(problems, "; ")
		log.Info("parameter validation failed", zap.Strings("problems", problems))
		return domain.ToolResult{Error: msg}
	}

	// 3. Confirmation gate
	if tool.RequiresConfirmation {
		if !call.Confirmed {
			return o.requestConfirmation(tool, params, call)
		}
		if consumePending {
			o.consumeMatching(tool.ID, call.ActorID, params)
		}
	}

	// 4. Execute
	start := time.Now()
	inv := domain.Invocation{ToolID: tool.ID, ActorID: call.ActorID, UserID: call.UserID, Confirmed: call.Confirmed}
	result := o.runHandler(domain.WithInvocation(ctx, inv), tool, params, log)
	elapsed := time.Since(start)

	// 5. Journal
	entry := domain.ExecutionLogEntry{
		ID:              uuid.New().String(),
		ToolID:          tool.ID,
		ToolName:        tool.Name,
		Parameters:      maps.Clone(params),
		Result:          result,
		Timestamp:       o.now(),
		ActorID:         call.ActorID,
		UserID:          call.UserID,
		Confirmed:       call.Confirmed,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	o.appendLog(entry)

	status := "success"
	if !result.Success {
		status = "failure"
	}
	o.metrics.ToolExecutions.WithLabelValues(tool.ID, status).Inc()
	o.metrics.ToolDuration.WithLabelValues(tool.ID).Observe(elapsed.Seconds())

	return result
}

// runHandler переводит ошибку и панику обработчика в неуспешный результат.
func (o *Orchestrator) runHandler(ctx context.Context, tool domain.ToolDescriptor, params map[string]any, log *zap.Logger) (result domain.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("tool handler panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = domain.ToolResult{Error: fmt.Sprintf("Tool execution failed: %v", r)}
		}
	}()

	res, err := tool.Handler(ctx, params)
	if err != nil {
		log.Warn("tool handler failed", zap.Error(err))
		return domain.ToolResult{Error: err.Error()}
	}
	if res == nil {
		log.Warn("tool handler returned no result")
		return domain.ToolResult{Error: "Tool returned no result"}
	}
	if !res.Success && res.Error == "" {
		res.Error = "Tool execution failed"
	}
	return *res
}

func (o *Orchestrator) appendLog(entry domain.ExecutionLogEntry) {
	o.logMu.Lock()
	o.logs = append(o.logs, entry)
	o.logMu.Unlock()

	if o.audit != nil {
		o.audit.Log(entry)
	}
}

// GetExecutionLogs — последние записи, новые первыми.
// limit <= 0 — все; пустой actorID — все персоны.
func (o *Orchestrator) GetExecutionLogs(limit int, actorID string) []domain.ExecutionLogEntry {
	o.logMu.RLock()
	defer o.logMu.RUnlock()

	out := []domain.ExecutionLogEntry{}
	for i := len(o.logs) - 1; i >= 0; i-- {
		if actorID != "" && o.logs[i].ActorID != actorID {
			continue
		}
		out = append(out, o.logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// GetStatistics считается только по журналу, отдельных счетчиков нет.
func (o *Orchestrator) GetStatistics(actorID string) domain.Statistics {
	o.logMu.RLock()
	defer o.logMu.RUnlock()

	stats := domain.Statistics{ToolUsage: map[string]int{}}
	var totalMs int64
	for _, e := range o.logs {
		if actorID != "" && e.ActorID != actorID {
			continue
		}
		stats.TotalExecutions++
		if e.Result.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		totalMs += e.ExecutionTimeMs
		stats.ToolUsage[e.ToolID]++
	}
	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalExecutions)
		stats.AverageExecutionTimeMs = float64(totalMs) / float64(stats.TotalExecutions)
	}
	return stats
}
