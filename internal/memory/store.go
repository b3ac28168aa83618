// Package memory — процессная реализация порта долговременной памяти.
// Ранжирование — пересечение токенов запроса и записи, взвешенное важностью.
// Векторное хранилище подключается через тот же интерфейс снаружи.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

var ErrEmptyContent = errors.New("memory content is empty")

type Store struct {
	mu      sync.RWMutex
	records []domain.MemoryHit
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// AddMemory сохраняет запись. Важность по умолчанию 0.5.
func (s *Store) AddMemory(ctx context.Context, rec domain.MemoryRecord) error {
	if strings.TrimSpace(rec.Content) == "" {
		return ErrEmptyContent
	}
	if rec.Type == "" {
		rec.Type = "note"
	}
	if rec.Importance == 0 {
		rec.Importance = 0.5
	}

	hit := domain.MemoryHit{
		ID:         uuid.New().String(),
		Content:    rec.Content,
		Type:       rec.Type,
		Subject:    rec.Subject,
		ActorID:    rec.ActorID,
		Importance: rec.Importance,
		Metadata:   rec.Metadata,
		CreatedAt:  s.now(),
	}

	s.mu.Lock()
	s.records = append(s.records, hit)
	s.mu.Unlock()
	return nil
}

// QueryMemories возвращает до limit записей с ненулевым совпадением, лучшие первыми.
func (s *Store) QueryMemories(ctx context.Context, text string, limit int) ([]domain.MemoryHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := tokenize(text)
	if len(query) == 0 || limit <= 0 {
		return []domain.MemoryHit{}, nil
	}

	s.mu.RLock()
	hits := make([]domain.MemoryHit, 0)
	for _, rec := range s.records {
		score := overlap(query, tokenize(rec.Content))
		if score == 0 {
			continue
		}
		rec.Score = score * (0.5 + rec.Importance)
		hits = append(hits, rec)
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// List возвращает копию записей персоны (пустой actorID — все).
func (s *Store) List(actorID string) []domain.MemoryHit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MemoryHit, 0, len(s.records))
	for _, rec := range s.records {
		if actorID == "" || rec.ActorID == actorID {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func overlap(query, doc map[string]struct{}) float64 {
	if len(doc) == 0 {
		return 0
	}
	n := 0
	for tok := range query {
		if _, ok := doc[tok]; ok {
			n++
		}
	}
	return float64(n) / float64(len(query))
}

var stopWords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"for": true, "you": true, "are": true, "was": true, "what": true,
	"please": true, "my": true,
}
