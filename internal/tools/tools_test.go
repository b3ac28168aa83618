package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-action-pipeline/internal/connectors"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/memory"
)

func toolByID(t *testing.T, deps Deps, id domain.ActionType) domain.ToolDescriptor {
	t.Helper()
	for _, tool := range Canonical(deps) {
		if tool.ID == string(id) {
			return tool
		}
	}
	t.Fatalf("tool %s not found", id)
	return domain.ToolDescriptor{}
}

func withActor(actorID string) context.Context {
	return domain.WithInvocation(context.Background(), domain.Invocation{ActorID: actorID})
}

func TestCanonical_CoversEveryActionType(t *testing.T) {
	tools := Canonical(Deps{})
	require.Len(t, tools, len(domain.CanonicalActionTypes))
	ids := map[string]bool{}
	for _, tool := range tools {
		ids[tool.ID] = true
		assert.NotNil(t, tool.Handler, tool.ID)
	}
	for _, typ := range domain.CanonicalActionTypes {
		assert.True(t, ids[string(typ)], "missing tool for %s", typ)
	}
}

func TestCanonical_SensitiveToolsRequireConfirmation(t *testing.T) {
	for _, tool := range Canonical(Deps{}) {
		switch domain.ActionType(tool.ID) {
		case domain.ActionTelephonyCall, domain.ActionTelephonySMS, domain.ActionEmailSend:
			assert.True(t, tool.RequiresConfirmation, tool.ID)
		default:
			assert.False(t, tool.RequiresConfirmation, tool.ID)
		}
	}
}

type registryStub struct{ ids []string }

func (r *registryStub) RegisterTool(tool domain.ToolDescriptor) error {
	for _, id := range r.ids {
		if id == tool.ID {
			return errors.New("duplicate")
		}
	}
	r.ids = append(r.ids, tool.ID)
	return nil
}

func TestRegister(t *testing.T) {
	reg := &registryStub{}
	require.NoError(t, Register(reg, Deps{}))
	assert.Len(t, reg.ids, 8)
	assert.ErrorContains(t, Register(reg, Deps{}), "register telephony_call")
}

func TestStoreMemory(t *testing.T) {
	mem := memory.NewStore()
	tool := toolByID(t, Deps{Memory: mem}, domain.ActionStoreMemory)

	res, err := tool.Handler(withActor("a1"), map[string]any{"content": "my wifi password is foo123"})
	require.NoError(t, err)
	require.True(t, res.Success)

	hits := mem.List("a1")
	require.Len(t, hits, 1)
	assert.Equal(t, "my wifi password is foo123", hits[0].Content)
	assert.Equal(t, "note", hits[0].Type)
}

func TestStoreMemory_EmptyContentFails(t *testing.T) {
	tool := toolByID(t, Deps{Memory: memory.NewStore()}, domain.ActionStoreMemory)

	_, err := tool.Handler(withActor("a1"), map[string]any{"content": "  "})
	assert.ErrorIs(t, err, memory.ErrEmptyContent)
}

func TestCreateTask_Defaults(t *testing.T) {
	mem := memory.NewStore()
	tool := toolByID(t, Deps{Memory: mem}, domain.ActionCreateTask)

	res, err := tool.Handler(withActor("a1"), map[string]any{"content": "buy milk"})
	require.NoError(t, err)
	require.True(t, res.Success)

	hits := mem.List("a1")
	require.Len(t, hits, 1)
	assert.Equal(t, "task", hits[0].Type)
	assert.Equal(t, map[string]any{"priority": "P3", "status": "pending"}, hits[0].Metadata)
}

func TestCreateTask_ExplicitPriority(t *testing.T) {
	mem := memory.NewStore()
	tool := toolByID(t, Deps{Memory: mem}, domain.ActionCreateTask)

	res, err := tool.Handler(withActor("a1"), map[string]any{"content": "file taxes", "priority": "p1"})
	require.NoError(t, err)
	assert.Equal(t, "P1", res.Data.(map[string]any)["priority"])
}

func TestConnectorTools(t *testing.T) {
	var gotCap string
	var gotPayload map[string]any
	conn := connectors.ProviderFunc(func(_ context.Context, capID string, payload []byte) ([]byte, error) {
		gotCap = capID
		require.NoError(t, json.Unmarshal(payload, &gotPayload))
		return []byte(`{"status":"sent"}`), nil
	})
	tool := toolByID(t, Deps{Connector: conn}, domain.ActionTelephonySMS)

	res, err := tool.Handler(context.Background(), map[string]any{"phoneNumber": "+15551234567", "message": "I'll be late"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, connectors.CapTelephonySMS, gotCap)
	assert.Equal(t, "I'll be late", gotPayload["message"])
	assert.Equal(t, map[string]any{"status": "sent"}, res.Data)
}

func TestConnectorTools_Failures(t *testing.T) {
	tool := toolByID(t, Deps{}, domain.ActionTelephonyCall)
	res, err := tool.Handler(context.Background(), map[string]any{"phoneNumber": "+1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Connector unavailable")

	down := connectors.ProviderFunc(func(context.Context, string, []byte) ([]byte, error) {
		return nil, errors.New("carrier down")
	})
	tool = toolByID(t, Deps{Connector: down}, domain.ActionEmailSend)
	_, err = tool.Handler(context.Background(), map[string]any{"to": "a@b.co", "subject": "s", "body": "b"})
	assert.ErrorContains(t, err, "carrier down")

	res, err = tool.Handler(context.Background(), map[string]any{"to": " ", "subject": "s", "body": "b"})
	require.NoError(t, err)
	assert.Equal(t, "Parameter 'to' must not be empty", res.Error)
}

func TestWebSearch(t *testing.T) {
	tool := toolByID(t, Deps{}, domain.ActionWebSearch)
	res, err := tool.Handler(context.Background(), map[string]any{"query": "go generics"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "go generics", "status": "deferred"}, res.Data)
}

func TestRoutineCreate(t *testing.T) {
	store := NewRoutineStore()
	tool := toolByID(t, Deps{Routines: store}, domain.ActionRoutineCreate)

	res, err := tool.Handler(withActor("a1"), map[string]any{
		"name": "Morning", "trigger": "every morning at 7am", "actions": []string{"read the news"},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	routines := store.List("a1")
	require.Len(t, routines, 1)
	assert.Equal(t, "Morning", routines[0].Name)
	assert.Equal(t, []any{"read the news"}, routines[0].Actions)
	assert.True(t, routines[0].Enabled)
	assert.Empty(t, store.List("other"))
	assert.Len(t, store.List(""), 1)
}

func TestRoutineCreate_Invalid(t *testing.T) {
	tool := toolByID(t, Deps{Routines: NewRoutineStore()}, domain.ActionRoutineCreate)

	res, err := tool.Handler(withActor("a1"), map[string]any{"name": "x", "trigger": "y", "actions": []any{}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "at least one action")
}
