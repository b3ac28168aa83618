// Package audit зеркалирует журнал исполнения в долговременное хранилище.
//
// Запись неблокирующая: события попадают в буферизированный канал, воркер
// копит пачку и пишет ее по таймеру или по достижении размера пачки.
// При остановке канал закрывается, воркер вычитывает остаток и делает финальный flush.
// Источник истины для запросов — журнал в памяти диспетчера; здесь best-effort.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться записи
type StorageInterface interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []Record) error
}

// Options — размеры очереди и пачки. Нулевые значения заменяются дефолтами.
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// OnQueueLen вызывается после каждой записи в очередь (для gauge заполненности)
	OnQueueLen func(n int)
}

type Sink struct {
	ch     chan Record
	repo   StorageInterface
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup

	// mu защищает закрытие канала от конкурентного Log
	mu     sync.RWMutex
	closed bool
}

func NewSink(repo StorageInterface, opts Options, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Sink{
		ch:     make(chan Record, opts.BufferSize),
		repo:   repo,
		opts:   opts,
		logger: logger.With(zap.String("mod", "audit")),
	}
}

func (s *Sink) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет. Повторный вызов безопасен.
func (s *Sink) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.logger.Info("stopping audit sink: closing channel and flushing buffer...")
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("audit sink stopped gracefully")
}

// Log никогда не блокирует вызывающего. При переполнении запись сбрасывается.
func (s *Sink) Log(entry domain.ExecutionLogEntry) {
	rec := FromEntry(entry)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("audit record dropped: sink is stopping", zap.String("id", rec.ID))
		return
	}

	select {
	case s.ch <- rec:
		if s.opts.OnQueueLen != nil {
			s.opts.OnQueueLen(len(s.ch))
		}
	default:
		// Backpressure: оставляем след хотя бы в логе
		s.logger.Error("audit_buffer_overflow",
			zap.String("id", rec.ID),
			zap.String("tool_id", rec.ToolID),
			zap.String("actor_id", rec.ActorID),
		)
	}
}

func (s *Sink) worker() {
	defer s.wg.Done()

	batch := make([]Record, 0, s.opts.BatchSize)
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту может быть уже закрыт
		if err := s.repo.WriteBatch(context.Background(), batch); err != nil {
			s.logger.Error("audit flush failed", zap.Int("records", len(batch)), zap.Error(err))
		}
		batch = make([]Record, 0, s.opts.BatchSize)
		if s.opts.OnQueueLen != nil {
			s.opts.OnQueueLen(len(s.ch))
		}
	}

	for {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				flush()
				s.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
