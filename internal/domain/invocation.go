package domain

import "context"

// Invocation — кто и как вызвал инструмент. Диспетчер кладет ее в контекст
// перед запуском обработчика, чтобы обработчик знал владельца записи.
type Invocation struct {
	ToolID    string
	ActorID   string
	UserID    string
	Confirmed bool
}

type invocationKey struct{}

func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext возвращает пустую Invocation, если ее нет.
func InvocationFromContext(ctx context.Context) Invocation {
	inv, _ := ctx.Value(invocationKey{}).(Invocation)
	return inv
}
