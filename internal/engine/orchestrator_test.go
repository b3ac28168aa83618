package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingTool struct {
	calls atomic.Int32
	res   *domain.ToolResult
	err   error
	panic any
}

func (c *countingTool) handler(ctx context.Context, _ map[string]any) (*domain.ToolResult, error) {
	c.calls.Add(1)
	if c.panic != nil {
		panic(c.panic)
	}
	if c.err != nil {
		return nil, c.err
	}
	if c.res != nil {
		return c.res, nil
	}
	return domain.Success(domain.InvocationFromContext(ctx).ActorID), nil
}

func smsTool(h domain.ToolHandler) domain.ToolDescriptor {
	return domain.ToolDescriptor{
		ID:       "telephony_sms",
		Name:     "Send SMS",
		Category: domain.CategoryCommunication,
		Parameters: []domain.ParameterSpec{
			{Name: "phoneNumber", Type: domain.ParamString, Required: true},
			{Name: "message", Type: domain.ParamString, Required: true},
		},
		RequiresConfirmation: true,
		RequiredConnectors:   []string{"telephony"},
		Handler:              h,
	}
}

func noteTool(h domain.ToolHandler) domain.ToolDescriptor {
	return domain.ToolDescriptor{
		ID:       "store_memory",
		Name:     "Store Memory",
		Category: domain.CategoryData,
		Parameters: []domain.ParameterSpec{
			{Name: "content", Type: domain.ParamString, Required: true},
			{Name: "importance", Type: domain.ParamNumber},
			{Name: "tags", Type: domain.ParamArray},
			{Name: "meta", Type: domain.ParamObject},
			{Name: "pinned", Type: domain.ParamBoolean},
		},
		Handler: h,
	}
}

var smsParams = map[string]any{"phoneNumber": "+15551234567", "message": "I'll be late"}

func TestRegisterTool(t *testing.T) {
	o := NewOrchestrator(nil)
	c := &countingTool{}

	require.NoError(t, o.RegisterTool(noteTool(c.handler)))
	assert.ErrorIs(t, o.RegisterTool(noteTool(c.handler)), ErrDuplicateTool)
	assert.ErrorIs(t, o.RegisterTool(domain.ToolDescriptor{ID: "x"}), ErrInvalidTool)
	assert.ErrorIs(t, o.RegisterTool(domain.ToolDescriptor{Handler: c.handler}), ErrInvalidTool)
	assert.Equal(t, []string{"store_memory"}, o.ToolIDs())
}

func TestExecuteTool_UnknownToolNotLogged(t *testing.T) {
	o := NewOrchestrator(nil)

	res := o.ExecuteTool(context.Background(), ToolCall{ToolID: "launch_rocket", ActorID: "a1"})

	assert.False(t, res.Success)
	assert.Equal(t, MsgToolNotFound, res.Error)
	assert.Empty(t, o.GetExecutionLogs(0, ""))
}

func TestExecuteTool_MissingRequiredParameter(t *testing.T) {
	c := &countingTool{}
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(smsTool(c.handler)))
	require.NoError(t, o.RegisterTool(noteTool(c.handler)))

	for _, tool := range o.GetAvailableTools("") {
		for _, spec := range tool.Parameters {
			if !spec.Required {
				continue
			}
			t.Run(tool.ID+"/"+spec.Name, func(t *testing.T) {
				params := map[string]any{"phoneNumber": "+1", "message": "m", "content": "c"}
				delete(params, spec.Name)

				res := o.ExecuteTool(context.Background(), ToolCall{ToolID: tool.ID, Parameters: params, ActorID: "a1", Confirmed: true})

				assert.False(t, res.Success)
				assert.Contains(t, res.Error, "missing required parameter '"+spec.Name+"'")
			})
		}
	}
	assert.Zero(t, c.calls.Load())
	assert.Empty(t, o.GetExecutionLogs(0, ""))
}

func TestExecuteTool_TypeValidation(t *testing.T) {
	c := &countingTool{}
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(noteTool(c.handler)))

	tests := []struct {
		name   string
		params map[string]any
		ok     bool
	}{
		{"all valid", map[string]any{"content": "c", "importance": 0.9, "tags": []string{"a"}, "meta": map[string]any{}, "pinned": true}, true},
		{"int is a number", map[string]any{"content": "c", "importance": 1}, true},
		{"array of any", map[string]any{"content": "c", "tags": []any{1, "x"}}, true},
		{"null optional ignored", map[string]any{"content": "c", "importance": nil}, true},
		{"string for number", map[string]any{"content": "c", "importance": "high"}, false},
		{"object is not array", map[string]any{"content": "c", "tags": map[string]any{"0": "a"}}, false},
		{"string is not array", map[string]any{"content": "c", "tags": "a,b"}, false},
		{"number for string", map[string]any{"content": 42}, false},
		{"string for boolean", map[string]any{"content": "c", "pinned": "yes"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := o.ExecuteTool(context.Background(), ToolCall{ToolID: "store_memory", Parameters: tt.params, ActorID: "a1"})
			assert.Equal(t, tt.ok, res.Success, res.Error)
		})
	}
	assert.Equal(t, int32(4), c.calls.Load())
	assert.Len(t, o.GetExecutionLogs(0, ""), 4)
}

func TestExecuteTool_AggregatesValidationErrors(t *testing.T) {
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(smsTool((&countingTool{}).handler)))

	res := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: map[string]any{"message": 5}})

	assert.Equal(t, "Invalid parameters: missing required parameter 'phoneNumber'; parameter 'message' must be of type string, got number", res.Error)
}

func TestExecuteTool_ConfirmationGate(t *testing.T) {
	c := &countingTool{}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	o := NewOrchestrator(nil, WithMetrics(m))
	require.NoError(t, o.RegisterTool(smsTool(c.handler)))

	first := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1"})

	assert.False(t, first.Success)
	assert.True(t, first.RequiresConfirmation)
	assert.NotEmpty(t, first.ConfirmID)
	assert.Contains(t, first.ConfirmationMessage, "Send SMS requires confirmation")
	assert.Contains(t, first.ConfirmationMessage, "phoneNumber=+15551234567")
	assert.Zero(t, c.calls.Load())
	assert.Empty(t, o.GetExecutionLogs(0, ""))
	assert.Len(t, o.PendingConfirmations("a1"), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingConfirmations))

	second := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1", Confirmed: true})

	assert.True(t, second.Success)
	assert.Equal(t, int32(1), c.calls.Load())
	logs := o.GetExecutionLogs(0, "")
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Confirmed)
	assert.Empty(t, o.PendingConfirmations("a1"), "matching pending entry is consumed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingConfirmations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfirmationsRequested.WithLabelValues("telephony_sms")))
}

func TestExecuteTool_ConfirmedWithDifferentParamsKeepsPending(t *testing.T) {
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(smsTool((&countingTool{}).handler)))

	o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1"})
	o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: map[string]any{"phoneNumber": "+1", "message": "x"}, ActorID: "a1", Confirmed: true})

	assert.Len(t, o.PendingConfirmations("a1"), 1)
}

func TestConfirm(t *testing.T) {
	c := &countingTool{}
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(smsTool(c.handler)))

	gated := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1", UserID: "u1"})

	res, err := o.Confirm(context.Background(), gated.ConfirmID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "a1", res.Data, "handler sees the original actor")

	logs := o.GetExecutionLogs(0, "")
	require.Len(t, logs, 1)
	assert.Equal(t, "u1", logs[0].UserID)
	assert.True(t, logs[0].Confirmed)

	_, err = o.Confirm(context.Background(), gated.ConfirmID)
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestCancelConfirmation(t *testing.T) {
	c := &countingTool{}
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(smsTool(c.handler)))
	gated := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1"})

	require.NoError(t, o.CancelConfirmation(gated.ConfirmID))
	assert.ErrorIs(t, o.CancelConfirmation(gated.ConfirmID), domain.ErrConfirmationNotFound)

	_, err := o.Confirm(context.Background(), gated.ConfirmID)
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
	assert.Zero(t, c.calls.Load())
	assert.Empty(t, o.GetExecutionLogs(0, ""))
}

func TestConfirmationTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	c := &countingTool{}
	o := NewOrchestrator(nil, WithConfirmationTTL(15*time.Minute), WithClock(clock.Now))
	require.NoError(t, o.RegisterTool(smsTool(c.handler)))

	expiring := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1"})
	pending := o.PendingConfirmations("a1")
	require.Len(t, pending, 1)
	assert.Equal(t, clock.Now().Add(15*time.Minute), pending[0].ExpiresAt)

	clock.Advance(16 * time.Minute)

	_, err := o.Confirm(context.Background(), expiring.ConfirmID)
	assert.ErrorIs(t, err, domain.ErrConfirmationExpired)
	assert.Zero(t, c.calls.Load())

	o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1"})
	o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a2"})
	clock.Advance(10 * time.Minute)
	o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1"})
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 2, o.SweepExpired())
	assert.Len(t, o.PendingConfirmations(""), 1)
}

func TestConfirmationExpiredAfterSweep(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	o := NewOrchestrator(nil, WithConfirmationTTL(time.Minute), WithClock(clock.Now))
	require.NoError(t, o.RegisterTool(smsTool((&countingTool{}).handler)))

	first := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1"})
	second := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a2"})
	clock.Advance(2 * time.Minute)

	// Чужой запрос подтверждения запускает ленивую уборку
	o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a3"})
	_, err := o.Confirm(context.Background(), first.ConfirmID)
	assert.ErrorIs(t, err, domain.ErrConfirmationExpired)

	// Явная уборка тоже не превращает истекший токен в неизвестный
	o.SweepExpired()
	err = o.CancelConfirmation(second.ConfirmID)
	assert.ErrorIs(t, err, domain.ErrConfirmationExpired)

	_, err = o.Confirm(context.Background(), "never-issued")
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
}

func TestExpiredTombstonesAreBounded(t *testing.T) {
	o := NewOrchestrator(nil)
	for i := 0; i <= maxExpiredTombstones; i++ {
		o.rememberExpired(fmt.Sprintf("id-%d", i))
	}
	assert.Len(t, o.expired, maxExpiredTombstones)
	assert.NotContains(t, o.expired, "id-0")
	assert.Contains(t, o.expired, fmt.Sprintf("id-%d", maxExpiredTombstones))
}

func TestConfirmationWithoutTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	o := NewOrchestrator(nil, WithClock(clock.Now))
	require.NoError(t, o.RegisterTool(smsTool((&countingTool{}).handler)))
	gated := o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: "a1"})

	clock.Advance(365 * 24 * time.Hour)

	assert.Zero(t, o.SweepExpired())
	_, err := o.Confirm(context.Background(), gated.ConfirmID)
	assert.NoError(t, err)
}

func TestExecuteTool_HandlerErrorAndPanicAreContained(t *testing.T) {
	o := NewOrchestrator(nil)
	failing := &countingTool{err: errors.New("carrier down")}
	panicking := &countingTool{panic: "nil map write"}
	empty := &countingTool{res: &domain.ToolResult{Success: false}}

	for id, c := range map[string]*countingTool{"failing": failing, "panicking": panicking, "empty": empty} {
		require.NoError(t, o.RegisterTool(domain.ToolDescriptor{ID: id, Handler: c.handler}))
	}

	var res domain.ToolResult
	require.NotPanics(t, func() {
		res = o.ExecuteTool(context.Background(), ToolCall{ToolID: "panicking", ActorID: "a1"})
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Tool execution failed: nil map write", res.Error)

	res = o.ExecuteTool(context.Background(), ToolCall{ToolID: "failing", ActorID: "a1"})
	assert.Equal(t, "carrier down", res.Error)

	res = o.ExecuteTool(context.Background(), ToolCall{ToolID: "empty", ActorID: "a1"})
	assert.Equal(t, "Tool execution failed", res.Error)

	assert.Len(t, o.GetExecutionLogs(0, ""), 3, "failed executions are logged")
}

type auditStub struct {
	mu      sync.Mutex
	entries []domain.ExecutionLogEntry
}

func (a *auditStub) Log(e domain.ExecutionLogEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

func TestExecutionLogs_AppendOnlyOneToOne(t *testing.T) {
	sink := &auditStub{}
	o := NewOrchestrator(nil, WithAuditSink(sink))
	require.NoError(t, o.RegisterTool(noteTool((&countingTool{}).handler)))

	const n = 7
	for i := 0; i < n; i++ {
		actor := "a1"
		if i%2 == 1 {
			actor = "a2"
		}
		res := o.ExecuteTool(context.Background(), ToolCall{ToolID: "store_memory", Parameters: map[string]any{"content": fmt.Sprint(i)}, ActorID: actor})
		require.True(t, res.Success)
	}

	logs := o.GetExecutionLogs(0, "")
	require.Len(t, logs, n)
	for _, e := range logs {
		assert.GreaterOrEqual(t, e.ExecutionTimeMs, int64(0))
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, "6", logs[0].Parameters["content"], "newest first")
	assert.Len(t, o.GetExecutionLogs(2, ""), 2)
	assert.Len(t, o.GetExecutionLogs(0, "a2"), 3)
	assert.Len(t, sink.entries, n)
}

func TestExecutionLog_ParametersAreCopied(t *testing.T) {
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(noteTool((&countingTool{}).handler)))
	params := map[string]any{"content": "original"}

	o.ExecuteTool(context.Background(), ToolCall{ToolID: "store_memory", Parameters: params})
	params["content"] = "mutated"

	assert.Equal(t, "original", o.GetExecutionLogs(1, "")[0].Parameters["content"])
}

func TestGetStatistics(t *testing.T) {
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(noteTool((&countingTool{}).handler)))
	require.NoError(t, o.RegisterTool(domain.ToolDescriptor{ID: "failing", Handler: (&countingTool{err: errors.New("x")}).handler}))

	assert.Equal(t, domain.Statistics{ToolUsage: map[string]int{}}, o.GetStatistics(""))

	for i := 0; i < 3; i++ {
		o.ExecuteTool(context.Background(), ToolCall{ToolID: "store_memory", Parameters: map[string]any{"content": "c"}, ActorID: "a1"})
	}
	o.ExecuteTool(context.Background(), ToolCall{ToolID: "failing", ActorID: "a2"})

	stats := o.GetStatistics("")
	assert.Equal(t, 4, stats.TotalExecutions)
	assert.Equal(t, 3, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
	assert.GreaterOrEqual(t, stats.AverageExecutionTimeMs, 0.0)
	assert.Equal(t, map[string]int{"store_memory": 3, "failing": 1}, stats.ToolUsage)

	a2 := o.GetStatistics("a2")
	assert.Equal(t, 1, a2.TotalExecutions)
	assert.Equal(t, 0.0, a2.SuccessRate)
}

func TestGetAvailableToolsAndConnectors(t *testing.T) {
	o := NewOrchestrator(nil)
	h := (&countingTool{}).handler
	require.NoError(t, o.RegisterTool(smsTool(h)))
	require.NoError(t, o.RegisterTool(noteTool(h)))
	require.NoError(t, o.RegisterTool(domain.ToolDescriptor{ID: "portfolio", Name: "Portfolio Summary", Category: domain.CategoryFinancial, Handler: h}))
	require.NoError(t, o.RegisterTool(domain.ToolDescriptor{ID: "bank", Name: "Bank Sync", Category: domain.CategoryFinancial, RequiredConnectors: []string{"plaid"}, Handler: h}))

	assert.Len(t, o.GetAvailableTools(""), 4)
	comm := o.GetAvailableTools(domain.CategoryCommunication)
	require.Len(t, comm, 1)
	assert.Equal(t, "telephony_sms", comm[0].ID)

	assert.Equal(t, []string{"Send SMS"}, o.GetToolsForConnector("telephony"))
	assert.Equal(t, []string{"Portfolio Summary"}, o.GetToolsForConnector("financial-data"))
	assert.Equal(t, []string{"Bank Sync"}, o.GetToolsForConnector("plaid"))
	assert.Empty(t, o.GetToolsForConnector("email"))
}

func TestExecuteTool_Concurrent(t *testing.T) {
	o := NewOrchestrator(nil)
	require.NoError(t, o.RegisterTool(noteTool((&countingTool{}).handler)))
	require.NoError(t, o.RegisterTool(smsTool((&countingTool{}).handler)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o.ExecuteTool(context.Background(), ToolCall{ToolID: "store_memory", Parameters: map[string]any{"content": "c"}, ActorID: "a1"})
			o.ExecuteTool(context.Background(), ToolCall{ToolID: "telephony_sms", Parameters: smsParams, ActorID: fmt.Sprint(i)})
			_ = o.GetStatistics("")
			_ = o.PendingConfirmations("")
		}(i)
	}
	wg.Wait()

	assert.Len(t, o.GetExecutionLogs(0, ""), 50)
	assert.Len(t, o.PendingConfirmations(""), 50)
}
