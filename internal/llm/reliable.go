package llm

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ReliableProvider оборачивает провайдер в Circuit Breaker и ретраи.
// При открытом предохранителе вызов сразу падает, и стадия уходит в фолбэк без ожидания сети.
type ReliableProvider struct {
	next     Provider
	cb       *gobreaker.CircuitBreaker
	attempts uint
	delay    time.Duration
	logger   *zap.Logger
}

type ReliableOptions struct {
	Attempts    uint
	Delay       time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

func NewReliableProvider(next Provider, opts ReliableOptions, logger *zap.Logger) *ReliableProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Attempts == 0 {
		opts.Attempts = 2
	}
	if opts.Delay == 0 {
		opts.Delay = 200 * time.Millisecond
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	log := logger.Named("llm")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-provider",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &ReliableProvider{
		next:     next,
		cb:       cb,
		attempts: opts.Attempts,
		delay:    opts.Delay,
		logger:   log,
	}
}

func (p *ReliableProvider) SendMessage(ctx context.Context, messages []Message) (string, error) {
	res, err := p.cb.Execute(func() (interface{}, error) {
		var out string
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(p.attempts),
			retry.Delay(p.delay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				var pErr *ProviderError
				if errors.As(err, &pErr) {
					return pErr.Retryable()
				}
				return true
			}),
		)
		err := r.Do(func() error {
			var callErr error
			out, callErr = p.next.SendMessage(ctx, messages)
			return callErr
		})
		return out, err
	})
	if err != nil {
		var pErr *ProviderError
		if errors.As(err, &pErr) {
			return "", err
		}
		// gobreaker.ErrOpenState и ErrTooManyRequests
		return "", &ProviderError{Op: "breaker", Err: err}
	}
	return res.(string), nil
}
