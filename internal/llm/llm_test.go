package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClient_SendMessage(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"choices":[{"message":{"content":"hello"}}]}`)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"})
	require.NoError(t, err)

	out, err := c.SendMessage(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, 429},
		{"unauthorized", http.StatusUnauthorized, `nope`, 401},
		{"no choices", http.StatusOK, `{"choices":[]}`, 0},
		{"api error", http.StatusOK, `{"error":{"message":"bad model"}}`, 0},
		{"garbage", http.StatusOK, `<html>`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.body)
			c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"})
			require.NoError(t, err)

			_, err = c.SendMessage(context.Background(), nil)
			var pErr *ProviderError
			require.ErrorAs(t, err, &pErr)
			assert.Equal(t, tt.wantStatus, pErr.StatusCode)
		})
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestCall_NilProvider(t *testing.T) {
	_, err := Call(context.Background(), nil, "sys", "user")
	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.False(t, pErr.Retryable())
}

type flakyProvider struct {
	calls    int32
	failures int32
	err      error
}

func (f *flakyProvider) SendMessage(ctx context.Context, _ []Message) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return "", f.err
	}
	return "ok", nil
}

func TestReliableProvider_RetriesTransient(t *testing.T) {
	p := &flakyProvider{failures: 1, err: &ProviderError{Op: "send", StatusCode: 503, Err: errors.New("unavailable")}}
	rp := NewReliableProvider(p, ReliableOptions{Attempts: 3, Delay: time.Millisecond}, zap.NewNop())

	out, err := rp.SendMessage(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.calls))
}

func TestReliableProvider_NoRetryOnAuth(t *testing.T) {
	p := &flakyProvider{failures: 10, err: &ProviderError{Op: "send", StatusCode: 401, Err: errors.New("denied")}}
	rp := NewReliableProvider(p, ReliableOptions{Attempts: 3, Delay: time.Millisecond}, zap.NewNop())

	_, err := rp.SendMessage(context.Background(), nil)
	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

func TestReliableProvider_BreakerOpens(t *testing.T) {
	p := &flakyProvider{failures: 100, err: &ProviderError{Op: "send", StatusCode: 401, Err: errors.New("denied")}}
	rp := NewReliableProvider(p, ReliableOptions{Attempts: 1, Delay: time.Millisecond, MaxFailures: 2, OpenTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, _ = rp.SendMessage(context.Background(), nil)
	}
	_, err := rp.SendMessage(context.Background(), nil)

	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "breaker", pErr.Op)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.calls))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`Sure! {"a":1} done`, `{"a":1}`},
		{"```json\n{\"a\":{\"b\":2}}\n``` and {\"c\":3}", `{"a":{"b":2}}`},
		{`{"text":"curly } inside"}`, `{"text":"curly } inside"}`},
		{`no json here`, ``},
		{`{"unterminated": 1`, ``},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractJSON(tt.in), tt.in)
	}
}
