package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// MockConnector имитирует внешние системы для локального запуска.
type MockConnector struct {
	// Задержка выбирается случайно в [MinLatency, MaxLatency)
	MinLatency time.Duration
	MaxLatency time.Duration
}

// NewMockConnector — задержка 50-300мс, как у живого API.
func NewMockConnector() *MockConnector {
	return &MockConnector{MinLatency: 50 * time.Millisecond, MaxLatency: 300 * time.Millisecond}
}

func (c *MockConnector) Call(ctx context.Context, capID string, payload []byte) ([]byte, error) {
	select {
	case <-time.After(c.latency()):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var req map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}

	var resp map[string]any
	switch capID {
	case CapTelephonyCall:
		resp = map[string]any{"status": "dialing", "callId": "CALL-" + shortID(), "to": req["phoneNumber"]}
	case CapTelephonySMS:
		resp = map[string]any{"status": "sent", "messageId": "SMS-" + shortID(), "to": req["phoneNumber"]}
	case CapEmailSend:
		resp = map[string]any{"status": "sent", "messageId": "MAIL-" + shortID(), "to": req["to"]}
	case CapCalendarCreate:
		resp = map[string]any{"status": "created", "eventId": "EVT-" + shortID(), "start": req["start"]}
	case "unstable.service":
		return nil, fmt.Errorf("service internal error")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCapability, capID)
	}

	return json.Marshal(resp)
}

func (c *MockConnector) latency() time.Duration {
	spread := c.MaxLatency - c.MinLatency
	if spread <= 0 {
		return c.MinLatency
	}
	return c.MinLatency + rand.N(spread)
}

func shortID() string {
	return uuid.New().String()[:8]
}
