// Package planning превращает Perception в Plan.
//
// Путь модели и шаблонный путь оформлены как двухшаговый конвейер:
// tryModelPath() -> planResult, затем orElse(templatePath). Ошибка модели
// не повторяется и наружу не выходит. После любого пути действия, чьи коннекторы
// не включены у персоны, исключаются с пометкой в prerequisites.
package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/llm"
	"go.uber.org/zap"
)

const (
	// TemplateConfidence — фиксированная уверенность шаблонного пути.
	TemplateConfidence = 0.8
	// DefaultModelConfidence — если модель не указала свою.
	DefaultModelConfidence = 0.7
)

// ConnectorDirectory отвечает, включен ли коннектор у персоны.
type ConnectorDirectory interface {
	IsConnectorEnabled(actor *domain.Actor, connectorID string) bool
}

// ToolCatalog — зарегистрированные инструменты: их ID идут в промпт модели,
// а дескрипторы дополняют коннекторы в действиях, предложенных моделью.
type ToolCatalog interface {
	ToolIDs() []string
	Tool(id string) (domain.ToolDescriptor, bool)
}

// ActorConnectors — справочник по полю EnabledConnectors самой персоны.
type ActorConnectors struct{}

func (ActorConnectors) IsConnectorEnabled(actor *domain.Actor, connectorID string) bool {
	return actor.HasConnector(connectorID)
}

type Planner struct {
	provider   llm.Provider
	catalog    ToolCatalog
	connectors ConnectorDirectory
	logger     *zap.Logger
}

func NewPlanner(provider llm.Provider, catalog ToolCatalog, connectors ConnectorDirectory, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if connectors == nil {
		connectors = ActorConnectors{}
	}
	return &Planner{
		provider:   provider,
		catalog:    catalog,
		connectors: connectors,
		logger:     logger.Named("planning"),
	}
}

// planResult — результат пути модели: план или ошибка.
type planResult struct {
	plan domain.Plan
	err  error
}

func (r planResult) orElse(fallback func() domain.Plan) (domain.Plan, error) {
	if r.err != nil {
		return fallback(), r.err
	}
	return r.plan, nil
}

// CreatePlan никогда не возвращает ошибку и не возвращает nil-подобный план.
func (p *Planner) CreatePlan(ctx context.Context, perception domain.Perception, actor *domain.Actor) domain.Plan {
	plan, modelErr := p.tryModelPath(ctx, perception, actor).orElse(func() domain.Plan {
		return templatePath(perception)
	})
	if modelErr != nil {
		p.logger.Warn("model planning unavailable, using template",
			zap.String("intent", perception.Intent), zap.Error(modelErr))
	}

	p.filterByConnectors(&plan, actor)

	p.logger.Debug("plan created",
		zap.String("source", plan.Source),
		zap.Int("actions", len(plan.Actions)),
		zap.Strings("prerequisites", plan.Prerequisites))
	return plan
}

// filterByConnectors исключает действия без включенных коннекторов.
// Порядок оставшихся действий сохраняется, priority не учитывается.
func (p *Planner) filterByConnectors(plan *domain.Plan, actor *domain.Actor) {
	kept := make([]domain.ActionDescriptor, 0, len(plan.Actions))
	for _, action := range plan.Actions {
		missing := false
		for _, c := range action.RequiredConnectors {
			if !p.connectors.IsConnectorEnabled(actor, c) {
				plan.AddPrerequisite("Connector required: " + c)
				missing = true
			}
		}
		if missing {
			p.logger.Info("action excluded: connector not enabled",
				zap.String("type", string(action.Type)),
				zap.Strings("connectors", action.RequiredConnectors))
			continue
		}
		kept = append(kept, action)
	}
	plan.Actions = kept
	if plan.Prerequisites == nil {
		plan.Prerequisites = []string{}
	}
}

// modelPlan — ожидаемая форма JSON от модели.
type modelPlan struct {
	Goal          string   `json:"goal"`
	Steps         []string `json:"steps"`
	Actions       []struct {
		Type               string         `json:"type"`
		Parameters         map[string]any `json:"parameters"`
		RequiredConnectors []string       `json:"requiredConnectors"`
		Priority           int            `json:"priority"`
	} `json:"actions"`
	Prerequisites []string `json:"prerequisites"`
	Confidence    *float64 `json:"confidence"`
}

func (p *Planner) tryModelPath(ctx context.Context, perception domain.Perception, actor *domain.Actor) planResult {
	userPrompt, err := buildUserPrompt(perception)
	if err != nil {
		return planResult{err: err}
	}

	raw, err := llm.Call(ctx, p.provider, p.buildSystemPrompt(actor), userPrompt)
	if err != nil {
		return planResult{err: err}
	}

	jsonStr := llm.ExtractJSON(raw)
	if jsonStr == "" {
		return planResult{err: fmt.Errorf("no JSON found in planner response")}
	}

	var mp modelPlan
	if err := json.Unmarshal([]byte(jsonStr), &mp); err != nil {
		return planResult{err: fmt.Errorf("failed to parse planner response: %w", err)}
	}

	plan := domain.Plan{
		Goal:          mp.Goal,
		Steps:         nonNil(mp.Steps),
		Actions:       make([]domain.ActionDescriptor, 0, len(mp.Actions)),
		Prerequisites: []string{},
		Confidence:    DefaultModelConfidence,
		Source:        domain.SourceModel,
	}
	for _, pre := range mp.Prerequisites {
		plan.AddPrerequisite(pre)
	}
	if mp.Confidence != nil {
		plan.Confidence = clamp01(*mp.Confidence)
	}

	for _, a := range mp.Actions {
		t := domain.ActionType(strings.TrimSpace(a.Type))
		if !t.IsCanonical() {
			p.logger.Warn("planner proposed unsupported action type", zap.String("type", a.Type))
			continue
		}
		params := a.Parameters
		if params == nil {
			params = map[string]any{}
		}
		plan.Actions = append(plan.Actions, domain.ActionDescriptor{
			Type:               t,
			Parameters:         params,
			RequiredConnectors: p.requiredConnectors(t, a.RequiredConnectors),
			Priority:           a.Priority,
		})
	}
	if plan.Goal == "" {
		plan.Goal = goalFor(perception.Intent)
	}
	return planResult{plan: plan}
}

// requiredConnectors объединяет коннекторы от модели с коннекторами
// зарегистрированного инструмента: модель может их не указать.
func (p *Planner) requiredConnectors(t domain.ActionType, fromModel []string) []string {
	out := make([]string, 0, len(fromModel))
	seen := make(map[string]struct{}, len(fromModel))
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, c := range fromModel {
		add(c)
	}
	if p.catalog != nil {
		if tool, ok := p.catalog.Tool(string(t)); ok {
			for _, c := range tool.RequiredConnectors {
				add(c)
			}
		}
	}
	return out
}

func (p *Planner) buildSystemPrompt(actor *domain.Actor) string {
	var tools []string
	if p.catalog != nil {
		for _, id := range p.catalog.ToolIDs() {
			if actor.CanUseTool(id) {
				tools = append(tools, id)
			}
		}
	}
	var connectors []string
	if actor != nil {
		connectors = actor.EnabledConnectors
	}
	types := make([]string, 0, len(domain.CanonicalActionTypes))
	for _, t := range domain.CanonicalActionTypes {
		types = append(types, string(t))
	}

	var sb strings.Builder
	sb.WriteString("You are the planner of a personal assistant. Turn the perceived request into a plan.\n\n")
	sb.WriteString("Available tools: " + strings.Join(tools, ", ") + "\n")
	sb.WriteString("Enabled connectors: " + strings.Join(connectors, ", ") + "\n")
	sb.WriteString("Allowed action types: " + strings.Join(types, ", ") + "\n\n")
	sb.WriteString("Parameters per type:\n")
	sb.WriteString("- telephony_call: phoneNumber\n- telephony_sms: phoneNumber, message\n")
	sb.WriteString("- email_send: to, subject, body\n- store_memory: content, type?\n")
	sb.WriteString("- create_task: content, priority?\n- calendar_event: summary, start\n")
	sb.WriteString("- web_search: query\n- routine_create: name, trigger, actions\n\n")
	sb.WriteString("Output a single JSON object only:\n")
	sb.WriteString(`{"goal": "...", "steps": ["..."], "actions": [{"type": "...", "parameters": {}, "requiredConnectors": ["..."], "priority": 1}], "prerequisites": ["..."], "confidence": 0.0-1.0}`)
	sb.WriteString("\n")
	return sb.String()
}

func buildUserPrompt(perception domain.Perception) (string, error) {
	payload := map[string]any{
		"input":     perception.Input,
		"intent":    perception.Intent,
		"entities":  perception.Entities,
		"sentiment": perception.Sentiment,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal perception: %w", err)
	}
	return "Plan for this perceived request:\n" + string(data), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
