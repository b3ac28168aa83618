// Package tools — канонические инструменты пайплайна.
// ID инструмента совпадает с типом действия плана.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-action-pipeline/internal/connectors"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

// MemoryWriter — порт записи в долговременную память.
type MemoryWriter interface {
	AddMemory(ctx context.Context, rec domain.MemoryRecord) error
}

// Registry — куда регистрируются инструменты.
type Registry interface {
	RegisterTool(tool domain.ToolDescriptor) error
}

type Deps struct {
	Memory    MemoryWriter
	Routines  *RoutineStore
	Connector connectors.ExecutionProvider
}

const DefaultTaskPriority = "P3"

// Canonical возвращает восемь канонических инструментов.
func Canonical(deps Deps) []domain.ToolDescriptor {
	return []domain.ToolDescriptor{
		{
			ID:          string(domain.ActionTelephonyCall),
			Name:        "Phone Call",
			Description: "Places an outbound call via the telephony connector",
			Category:    domain.CategoryCommunication,
			Parameters: []domain.ParameterSpec{
				{Name: "phoneNumber", Type: domain.ParamString, Description: "E.164 phone number", Required: true},
			},
			RequiresConfirmation: true,
			RequiredConnectors:   []string{"telephony"},
			Handler:              connectorHandler(deps.Connector, connectors.CapTelephonyCall, "phoneNumber"),
		},
		{
			ID:          string(domain.ActionTelephonySMS),
			Name:        "Send SMS",
			Description: "Sends a text message via the telephony connector",
			Category:    domain.CategoryCommunication,
			Parameters: []domain.ParameterSpec{
				{Name: "phoneNumber", Type: domain.ParamString, Description: "E.164 phone number", Required: true},
				{Name: "message", Type: domain.ParamString, Description: "Message text", Required: true},
			},
			RequiresConfirmation: true,
			RequiredConnectors:   []string{"telephony"},
			Handler:              connectorHandler(deps.Connector, connectors.CapTelephonySMS, "phoneNumber", "message"),
		},
		{
			ID:          string(domain.ActionEmailSend),
			Name:        "Send Email",
			Description: "Sends an email via the mail connector",
			Category:    domain.CategoryCommunication,
			Parameters: []domain.ParameterSpec{
				{Name: "to", Type: domain.ParamString, Description: "Recipient address", Required: true},
				{Name: "subject", Type: domain.ParamString, Description: "Subject line", Required: true},
				{Name: "body", Type: domain.ParamString, Description: "Message body", Required: true},
			},
			RequiresConfirmation: true,
			RequiredConnectors:   []string{"email"},
			Handler:              connectorHandler(deps.Connector, connectors.CapEmailSend, "to", "subject", "body"),
		},
		{
			ID:          string(domain.ActionStoreMemory),
			Name:        "Store Memory",
			Description: "Writes a fact or note into long-term memory",
			Category:    domain.CategoryData,
			Parameters: []domain.ParameterSpec{
				{Name: "content", Type: domain.ParamString, Description: "What to remember", Required: true},
				{Name: "type", Type: domain.ParamString, Description: "Memory type, defaults to note"},
				{Name: "subject", Type: domain.ParamString, Description: "Optional subject"},
				{Name: "importance", Type: domain.ParamNumber, Description: "0..1"},
			},
			Handler: storeMemoryHandler(deps.Memory),
		},
		{
			ID:          string(domain.ActionCreateTask),
			Name:        "Create Task",
			Description: "Writes a pending task record",
			Category:    domain.CategoryData,
			Parameters: []domain.ParameterSpec{
				{Name: "content", Type: domain.ParamString, Description: "Task description", Required: true},
				{Name: "priority", Type: domain.ParamString, Description: "P1..P4, defaults to P3"},
			},
			Handler: createTaskHandler(deps.Memory),
		},
		{
			ID:          string(domain.ActionCalendarEvent),
			Name:        "Calendar Event",
			Description: "Creates a calendar event",
			Category:    domain.CategoryAutomation,
			Parameters: []domain.ParameterSpec{
				{Name: "summary", Type: domain.ParamString, Description: "Event title", Required: true},
				{Name: "start", Type: domain.ParamString, Description: "Start date/time", Required: true},
				{Name: "end", Type: domain.ParamString, Description: "End date/time"},
			},
			RequiredConnectors: []string{"calendar"},
			Handler:            connectorHandler(deps.Connector, connectors.CapCalendarCreate, "summary", "start"),
		},
		{
			ID:          string(domain.ActionWebSearch),
			Name:        "Web Search",
			Description: "Acknowledges a search request; the caller performs the search",
			Category:    domain.CategoryData,
			Parameters: []domain.ParameterSpec{
				{Name: "query", Type: domain.ParamString, Description: "Search query", Required: true},
			},
			Handler: webSearchHandler,
		},
		{
			ID:          string(domain.ActionRoutineCreate),
			Name:        "Create Routine",
			Description: "Registers a trigger-condition-action automation",
			Category:    domain.CategoryAutomation,
			Parameters: []domain.ParameterSpec{
				{Name: "name", Type: domain.ParamString, Description: "Routine name", Required: true},
				{Name: "trigger", Type: domain.ParamString, Description: "When the routine fires", Required: true},
				{Name: "actions", Type: domain.ParamArray, Description: "What the routine does", Required: true},
			},
			Handler: routineHandler(deps.Routines),
		},
	}
}

// Register регистрирует все канонические инструменты.
func Register(reg Registry, deps Deps) error {
	for _, t := range Canonical(deps) {
		if err := reg.RegisterTool(t); err != nil {
			return fmt.Errorf("register %s: %w", t.ID, err)
		}
	}
	return nil
}

// connectorHandler пересылает параметры в коннектор. Перечисленные поля не могут быть пустыми.
func connectorHandler(conn connectors.ExecutionProvider, capID string, nonEmpty ...string) domain.ToolHandler {
	return func(ctx context.Context, params map[string]any) (*domain.ToolResult, error) {
		if conn == nil {
			return domain.Failure("Connector unavailable for " + capID), nil
		}
		for _, name := range nonEmpty {
			if strings.TrimSpace(stringParam(params, name)) == "" {
				return domain.Failure(fmt.Sprintf("Parameter '%s' must not be empty", name)), nil
			}
		}

		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", capID, err)
		}
		raw, err := conn.Call(ctx, capID, payload)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", capID, err)
		}

		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", capID, err)
		}
		return domain.Success(data), nil
	}
}

func storeMemoryHandler(mem MemoryWriter) domain.ToolHandler {
	return func(ctx context.Context, params map[string]any) (*domain.ToolResult, error) {
		if mem == nil {
			return domain.Failure("Memory store unavailable"), nil
		}
		inv := domain.InvocationFromContext(ctx)
		rec := domain.MemoryRecord{
			Content: stringParam(params, "content"),
			ActorID: inv.ActorID,
			Type:    stringParam(params, "type"),
			Subject: stringParam(params, "subject"),
		}
		if imp, ok := numberParam(params, "importance"); ok {
			rec.Importance = imp
		}
		if err := mem.AddMemory(ctx, rec); err != nil {
			return nil, fmt.Errorf("store memory: %w", err)
		}
		memType := rec.Type
		if memType == "" {
			memType = "note"
		}
		return domain.Success(map[string]any{"stored": true, "type": memType}), nil
	}
}

func createTaskHandler(mem MemoryWriter) domain.ToolHandler {
	return func(ctx context.Context, params map[string]any) (*domain.ToolResult, error) {
		if mem == nil {
			return domain.Failure("Memory store unavailable"), nil
		}
		priority := strings.ToUpper(strings.TrimSpace(stringParam(params, "priority")))
		if priority == "" {
			priority = DefaultTaskPriority
		}
		rec := domain.MemoryRecord{
			Content:  stringParam(params, "content"),
			ActorID:  domain.InvocationFromContext(ctx).ActorID,
			Type:     "task",
			Metadata: map[string]any{"priority": priority, "status": "pending"},
		}
		if err := mem.AddMemory(ctx, rec); err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		return domain.Success(map[string]any{
			"content":  rec.Content,
			"priority": priority,
			"status":   "pending",
		}), nil
	}
}

func webSearchHandler(_ context.Context, params map[string]any) (*domain.ToolResult, error) {
	query := strings.TrimSpace(stringParam(params, "query"))
	if query == "" {
		return domain.Failure("Parameter 'query' must not be empty"), nil
	}
	return domain.Success(map[string]any{"query": query, "status": "deferred"}), nil
}

func routineHandler(store *RoutineStore) domain.ToolHandler {
	return func(ctx context.Context, params map[string]any) (*domain.ToolResult, error) {
		if store == nil {
			return domain.Failure("Routine registry unavailable"), nil
		}
		actions, _ := params["actions"].([]any)
		if actions == nil {
			actions = toAnySlice(params["actions"])
		}
		r, err := store.Create(domain.InvocationFromContext(ctx).ActorID,
			stringParam(params, "name"), stringParam(params, "trigger"), actions)
		if err != nil {
			return domain.Failure(err.Error()), nil
		}
		return domain.Success(r), nil
	}
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}

func numberParam(params map[string]any, name string) (float64, bool) {
	switch v := params[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// toAnySlice — []string и прочие срезы приводятся к []any через JSON.
func toAnySlice(v any) []any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
