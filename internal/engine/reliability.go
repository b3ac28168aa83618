package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-action-pipeline/internal/connectors"
	"github.com/xela07ax/spaceai-action-pipeline/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityWrapper — лимитер, предохранитель и повторы вокруг коннектора.
type ReliabilityWrapper struct {
	next        connectors.ExecutionProvider
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	attempts    uint
	callTimeout time.Duration
	baseDelay   time.Duration
}

func NewReliabilityWrapper(name string, next connectors.ExecutionProvider, cfg infra.EngineConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	log := logger.Named("reliability").With(zap.String("connector", name))

	maxRequests := cfg.CBMaxRequests
	if maxRequests <= 0 {
		maxRequests = 3
	}
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxRequests),
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — блокируем трафик
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}

	return &ReliabilityWrapper{
		next:        next,
		cb:          cb,
		limiter:     rate.NewLimiter(limit, burst),
		attempts:    attempts,
		callTimeout: cfg.CallTimeout,
		baseDelay:   100 * time.Millisecond,
	}
}

func (w *ReliabilityWrapper) Call(ctx context.Context, capID string, payload []byte) ([]byte, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		var finalData []byte
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.Delay(w.baseDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, connectors.ErrUnsupportedCapability) &&
					!errors.Is(err, context.Canceled)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Коннектор сам сказал, сколько ждать
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Сетевой лаг, 500-ка — экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			callCtx := ctx
			if w.callTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, w.callTimeout)
				defer cancel()
			}
			var callErr error
			finalData, callErr = w.next.Call(callCtx, capID, payload)
			return callErr
		})
		return finalData, retryErr
	})
	if err != nil {
		return nil, err
	}
	return cbResult.([]byte), nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	}
	return 0
}
