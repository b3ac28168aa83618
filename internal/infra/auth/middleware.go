package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — контракт проверки токена для HTTP слоя
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const (
	userIDKey  ctxKey = "user_id"
	actorIDKey ctxKey = "actor_id"
)

// NewMiddleware проверяет Bearer токен и прокидывает user_id/actor_id в контекст.
// При nil валидаторе запросы проходят без проверки (локальный режим).
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), claims.UserID, claims.ActorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity кладет идентификаторы в контекст.
func WithIdentity(ctx context.Context, userID, actorID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, actorIDKey, actorID)
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func ActorIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorIDKey).(string)
	return id
}
