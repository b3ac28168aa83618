package planning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/llm"
	"github.com/xela07ax/spaceai-action-pipeline/internal/perception"
)

type providerFunc func(ctx context.Context, msgs []llm.Message) (string, error)

func (f providerFunc) SendMessage(ctx context.Context, msgs []llm.Message) (string, error) {
	return f(ctx, msgs)
}

type staticCatalog []string

func (c staticCatalog) ToolIDs() []string { return c }

func (c staticCatalog) Tool(id string) (domain.ToolDescriptor, bool) {
	for _, known := range c {
		if known == id {
			return domain.ToolDescriptor{ID: id}, true
		}
	}
	return domain.ToolDescriptor{}, false
}

// connectorCatalog — инструменты с привязкой к коннекторам.
type connectorCatalog map[string][]string

func (c connectorCatalog) ToolIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	return ids
}

func (c connectorCatalog) Tool(id string) (domain.ToolDescriptor, bool) {
	connectors, ok := c[id]
	return domain.ToolDescriptor{ID: id, RequiredConnectors: connectors}, ok
}

func downProvider() llm.Provider {
	return providerFunc(func(context.Context, []llm.Message) (string, error) {
		return "", &llm.ProviderError{Op: "send", Err: errors.New("connection refused")}
	})
}

func fullActor() *domain.Actor {
	return &domain.Actor{ID: "a1", EnabledConnectors: []string{"telephony", "email", "calendar"}}
}

func perceive(text string) domain.Perception {
	return perception.NewPerceiver(nil, nil, nil, nil).Perceive(context.Background(), text, nil)
}

func TestCreatePlan_ScenarioSMS(t *testing.T) {
	p := NewPlanner(downProvider(), nil, nil, nil)

	plan := p.CreatePlan(context.Background(), perceive("text +15551234567 saying I'll be late"), fullActor())

	assert.Equal(t, domain.SourceTemplate, plan.Source)
	assert.Equal(t, TemplateConfidence, plan.Confidence)
	require.Len(t, plan.Actions, 1)
	a := plan.Actions[0]
	assert.Equal(t, domain.ActionTelephonySMS, a.Type)
	assert.Equal(t, "+15551234567", a.Parameters["phoneNumber"])
	assert.Equal(t, "I'll be late", a.Parameters["message"])
	assert.Equal(t, []string{"telephony"}, a.RequiredConnectors)
	assert.Empty(t, plan.Prerequisites)
}

func TestCreatePlan_ScenarioNote(t *testing.T) {
	p := NewPlanner(nil, nil, nil, nil)

	plan := p.CreatePlan(context.Background(), perceive("remember that my wifi password is foo123"), &domain.Actor{ID: "a1"})

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, domain.ActionStoreMemory, plan.Actions[0].Type)
	assert.Equal(t, "my wifi password is foo123", plan.Actions[0].Parameters["content"])
	assert.Equal(t, "note", plan.Actions[0].Parameters["type"])
}

func TestCreatePlan_ScenarioMissingConnector(t *testing.T) {
	p := NewPlanner(nil, nil, nil, nil)
	actor := &domain.Actor{ID: "a1", EnabledConnectors: []string{"telephony"}}

	plan := p.CreatePlan(context.Background(), perceive("schedule a meeting tomorrow at 10am"), actor)

	assert.Empty(t, plan.Actions)
	assert.Contains(t, plan.Prerequisites, "Connector required: calendar")
}

func TestCreatePlan_TemplateTable(t *testing.T) {
	tests := []struct {
		input  string
		want   domain.ActionType
		params map[string]any
	}{
		{"call +15551234567", domain.ActionTelephonyCall, map[string]any{"phoneNumber": "+15551234567"}},
		{"email bob@example.com about lunch", domain.ActionEmailSend, map[string]any{"to": "bob@example.com", "subject": "lunch"}},
		{"remind me to buy milk", domain.ActionCreateTask, map[string]any{"content": "buy milk", "priority": "P3"}},
		{"schedule dentist tomorrow at 10am", domain.ActionCalendarEvent, map[string]any{"start": "tomorrow 10am"}},
		{"search for golang generics", domain.ActionWebSearch, map[string]any{"query": "golang generics"}},
		{"create a routine every morning at 7am, read the news", domain.ActionRoutineCreate, map[string]any{"trigger": "every morning at 7am"}},
	}
	p := NewPlanner(nil, nil, nil, nil)
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			plan := p.CreatePlan(context.Background(), perceive(tt.input), fullActor())
			require.Len(t, plan.Actions, 1)
			assert.Equal(t, tt.want, plan.Actions[0].Type)
			for k, v := range tt.params {
				assert.Equal(t, v, plan.Actions[0].Parameters[k], k)
			}
		})
	}
}

func TestCreatePlan_UnknownIntentEmpty(t *testing.T) {
	p := NewPlanner(nil, nil, nil, nil)

	in := perceive("hello there")
	require.Equal(t, domain.IntentConversation, in.Intent)

	plan := p.CreatePlan(context.Background(), in, fullActor())

	assert.NotNil(t, plan.Actions)
	assert.Empty(t, plan.Actions)
	assert.Equal(t, TemplateConfidence, plan.Confidence)
}

func TestCreatePlan_MissingPhoneIsPrerequisite(t *testing.T) {
	p := NewPlanner(nil, nil, nil, nil)

	plan := p.CreatePlan(context.Background(), perceive("call mom"), fullActor())

	require.Len(t, plan.Actions, 1)
	assert.NotContains(t, plan.Actions[0].Parameters, "phoneNumber")
	assert.Contains(t, plan.Prerequisites, "Phone number required")
}

func TestCreatePlan_ModelPath(t *testing.T) {
	provider := providerFunc(func(_ context.Context, msgs []llm.Message) (string, error) {
		require.Len(t, msgs, 2)
		assert.Contains(t, msgs[0].Content, "telephony_sms")
		assert.Contains(t, msgs[0].Content, "Available tools: store_memory, telephony_sms\n")
		assert.Contains(t, msgs[0].Content, "Enabled connectors: telephony, email, calendar")
		return `Here you go: {"goal":"notify","steps":["send"],"actions":[
			{"type":"telephony_sms","parameters":{"phoneNumber":"+1","message":"hi"},"requiredConnectors":["telephony"],"priority":2},
			{"type":"launch_rocket","parameters":{}},
			{"type":"store_memory","parameters":{"content":"x"},"priority":1}
		]}`, nil
	})
	actor := fullActor()
	actor.Capabilities = []string{"store_memory", "telephony_sms"}
	p := NewPlanner(provider, staticCatalog{"store_memory", "email_send", "telephony_sms"}, nil, nil)

	plan := p.CreatePlan(context.Background(), domain.Perception{Input: "x", Intent: "sms"}, actor)

	assert.Equal(t, domain.SourceModel, plan.Source)
	assert.Equal(t, DefaultModelConfidence, plan.Confidence)
	require.Len(t, plan.Actions, 2, "unsupported types are dropped")
	assert.Equal(t, domain.ActionTelephonySMS, plan.Actions[0].Type, "declaration order is kept")
	assert.Equal(t, domain.ActionStoreMemory, plan.Actions[1].Type)
}

func TestCreatePlan_ModelPathStillFiltersConnectors(t *testing.T) {
	provider := providerFunc(func(context.Context, []llm.Message) (string, error) {
		return `{"goal":"g","actions":[{"type":"calendar_event","parameters":{"summary":"s","start":"t"},"requiredConnectors":["calendar"]}],"confidence":1.7}`, nil
	})
	p := NewPlanner(provider, nil, nil, nil)

	plan := p.CreatePlan(context.Background(), domain.Perception{Intent: "calendar"}, &domain.Actor{ID: "a1"})

	assert.Empty(t, plan.Actions)
	assert.Equal(t, []string{"Connector required: calendar"}, plan.Prerequisites)
	assert.Equal(t, 1.0, plan.Confidence)
}

func TestCreatePlan_ModelPathBackfillsConnectorsFromTools(t *testing.T) {
	provider := providerFunc(func(context.Context, []llm.Message) (string, error) {
		return `{"goal":"g","actions":[
			{"type":"telephony_call","parameters":{"phoneNumber":"+15551234567"}},
			{"type":"store_memory","parameters":{"content":"x"}},
			{"type":"email_send","parameters":{"to":"a@b.co"},"requiredConnectors":["email"]}
		]}`, nil
	})
	catalog := connectorCatalog{
		"telephony_call": {"telephony"},
		"store_memory":   nil,
		"email_send":     {"email"},
	}
	p := NewPlanner(provider, catalog, nil, nil)
	actor := &domain.Actor{ID: "a1", EnabledConnectors: []string{"email"}}

	plan := p.CreatePlan(context.Background(), domain.Perception{Intent: "call"}, actor)

	assert.Equal(t, domain.SourceModel, plan.Source)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, domain.ActionStoreMemory, plan.Actions[0].Type)
	assert.Equal(t, domain.ActionEmailSend, plan.Actions[1].Type)
	assert.Equal(t, []string{"email"}, plan.Actions[1].RequiredConnectors, "declared and registered connectors are merged without duplicates")
	assert.Equal(t, []string{"Connector required: telephony"}, plan.Prerequisites)
}

func TestCreatePlan_MalformedModelOutputFallsBack(t *testing.T) {
	provider := providerFunc(func(context.Context, []llm.Message) (string, error) {
		return "I cannot plan that", nil
	})
	p := NewPlanner(provider, nil, nil, nil)

	plan := p.CreatePlan(context.Background(), perceive("remember that the door code is 4321"), fullActor())

	assert.Equal(t, domain.SourceTemplate, plan.Source)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, domain.ActionStoreMemory, plan.Actions[0].Type)
}

func TestCreatePlan_ConnectorDirectoryOverride(t *testing.T) {
	p := NewPlanner(nil, nil, denyAll{}, nil)

	plan := p.CreatePlan(context.Background(), perceive("text +15551234567 saying hi"), fullActor())

	assert.Empty(t, plan.Actions)
	assert.Equal(t, []string{"Connector required: telephony"}, plan.Prerequisites)
}

type denyAll struct{}

func (denyAll) IsConnectorEnabled(*domain.Actor, string) bool { return false }

func TestExtractMessage(t *testing.T) {
	assert.Equal(t, "I'll be late", extractMessage("text +15551234567 saying I'll be late"))
	assert.Equal(t, "dinner is ready", extractMessage("tell mom that dinner is ready"))
	assert.Equal(t, "on my way", extractMessage("sms 5551234567: on my way"))
	assert.Equal(t, "ping bob", extractMessage("ping bob"))
}
