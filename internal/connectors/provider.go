// Package connectors — транспорт до внешних интеграций (телефония, почта, календарь).
package connectors

import "context"

// ExecutionProvider выполняет операцию коннектора. payload и ответ — JSON.
type ExecutionProvider interface {
	Call(ctx context.Context, capID string, payload []byte) ([]byte, error)
}

// Идентификаторы операций, которые вызывают канонические инструменты.
const (
	CapTelephonyCall  = "telephony.call"
	CapTelephonySMS   = "telephony.sms"
	CapEmailSend      = "email.send"
	CapCalendarCreate = "calendar.create"
)

// ProviderFunc позволяет использовать функцию как ExecutionProvider.
type ProviderFunc func(ctx context.Context, capID string, payload []byte) ([]byte, error)

func (f ProviderFunc) Call(ctx context.Context, capID string, payload []byte) ([]byte, error) {
	return f(ctx, capID, payload)
}
