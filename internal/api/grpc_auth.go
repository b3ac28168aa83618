package api

import (
	"context"

	"github.com/xela07ax/spaceai-action-pipeline/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryAuthInterceptor проверяет токен в метаданных gRPC вызова.
// Логика та же, что и в HTTP: user_id/actor_id уходят в контекст.
func UnaryAuthInterceptor(v auth.TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if v == nil {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		// В gRPC заголовки в нижнем регистре
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing access token")
		}

		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("grpc auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid access token")
		}

		return handler(auth.WithIdentity(ctx, claims.UserID, claims.ActorID), req)
	}
}
