// Package perception превращает текст реплики в domain.Perception:
// намерение, сущности, тональность и окружающий контекст.
//
// Основной путь — классификация моделью. Любой сбой модели (ProviderError,
// мусор вместо JSON, неизвестная метка) переводит стадию на таблицу ключевых слов.
// Perceive никогда не возвращает ошибку.
package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/llm"
	"go.uber.org/zap"
)

// DefaultMemoryLimit — сколько воспоминаний подмешивается в контекст.
const DefaultMemoryLimit = 5

// MemoryQuerier — узкий порт чтения долговременной памяти.
type MemoryQuerier interface {
	QueryMemories(ctx context.Context, text string, limit int) ([]domain.MemoryHit, error)
}

// PatternRecorder — приемник паттернов использования.
type PatternRecorder interface {
	RecordPattern(ctx context.Context, key string)
}

type Perceiver struct {
	provider    llm.Provider
	memory      MemoryQuerier
	patterns    PatternRecorder
	memoryLimit int
	logger      *zap.Logger
	now         func() time.Time
}

type Option func(*Perceiver)

func WithMemoryLimit(n int) Option {
	return func(p *Perceiver) {
		if n > 0 {
			p.memoryLimit = n
		}
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(p *Perceiver) { p.now = now }
}

func NewPerceiver(provider llm.Provider, memory MemoryQuerier, patterns PatternRecorder, logger *zap.Logger, opts ...Option) *Perceiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Perceiver{
		provider:    provider,
		memory:      memory,
		patterns:    patterns,
		memoryLimit: DefaultMemoryLimit,
		logger:      logger.Named("perception"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// modelClassification — ожидаемый JSON от модели.
type modelClassification struct {
	Intent    string              `json:"intent"`
	Sentiment string              `json:"sentiment"`
	Entities  map[string][]string `json:"entities"`
}

func (p *Perceiver) Perceive(ctx context.Context, utterance string, actor *domain.Actor) domain.Perception {
	text := strings.TrimSpace(utterance)
	entities := ExtractEntities(text)

	perception := domain.Perception{
		Input:     text,
		Entities:  entities,
		Timestamp: p.now(),
	}

	cls, err := p.classifyWithModel(ctx, text)
	if err != nil {
		p.logger.Warn("model classification unavailable, using keyword fallback", zap.Error(err))
		perception.Intent = ClassifyIntent(text)
		perception.Sentiment = ScoreSentiment(text)
		perception.Source = domain.SourceHeuristic
	} else {
		perception.Intent = cls.Intent
		perception.Sentiment = normalizeSentiment(cls.Sentiment, text)
		perception.Entities = mergeEntities(entities, cls.Entities)
		perception.Source = domain.SourceModel
	}

	perception.Context = p.buildContext(ctx, text, actor, perception.Timestamp)
	p.record(ctx, perception)

	p.logger.Debug("perceived",
		zap.String("intent", perception.Intent),
		zap.String("sentiment", string(perception.Sentiment)),
		zap.String("source", perception.Source),
		zap.Int("entities", len(perception.Entities)))

	return perception
}

func (p *Perceiver) classifyWithModel(ctx context.Context, text string) (*modelClassification, error) {
	raw, err := llm.Call(ctx, p.provider, classifierSystemPrompt(), text)
	if err != nil {
		return nil, err
	}

	jsonStr := llm.ExtractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in classifier response")
	}

	var cls modelClassification
	if err := json.Unmarshal([]byte(jsonStr), &cls); err != nil {
		return nil, fmt.Errorf("failed to parse classifier response: %w", err)
	}

	cls.Intent = strings.ToLower(strings.TrimSpace(cls.Intent))
	if !isKnownIntent(cls.Intent) {
		return nil, fmt.Errorf("classifier returned unknown intent %q", cls.Intent)
	}
	return &cls, nil
}

func classifierSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You classify a user's request to a personal assistant.\n\n")
	sb.WriteString("Intents: ")
	sb.WriteString(strings.Join(KnownIntents(), ", "))
	sb.WriteString("\nSentiments: positive, negative, neutral\n")
	sb.WriteString("Entity keys: phones, emails, dates, times, numbers, urls, relative_time, people, places\n\n")
	sb.WriteString("Output JSON only: {\"intent\": \"...\", \"sentiment\": \"...\", \"entities\": {\"key\": [\"value\"]}}\n")
	sb.WriteString("Use intent \"conversation\" when no action is requested.\n")
	return sb.String()
}

func normalizeSentiment(s, text string) domain.Sentiment {
	switch domain.Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case domain.SentimentPositive:
		return domain.SentimentPositive
	case domain.SentimentNegative:
		return domain.SentimentNegative
	case domain.SentimentNeutral:
		return domain.SentimentNeutral
	}
	return ScoreSentiment(text)
}

// buildContext собирает окружение. Сбой памяти деградирует до пустого списка.
func (p *Perceiver) buildContext(ctx context.Context, text string, actor *domain.Actor, ts time.Time) map[string]any {
	memories := []domain.MemoryHit{}
	if p.memory != nil {
		hits, err := p.memory.QueryMemories(ctx, text, p.memoryLimit)
		if err != nil {
			p.logger.Warn("memory retrieval failed", zap.Error(err))
		} else if hits != nil {
			memories = hits
		}
	}

	profile := map[string]any{}
	if actor != nil {
		profile["actorId"] = actor.ID
		profile["name"] = actor.Name
		for k, v := range actor.Profile {
			profile[k] = v
		}
	}

	return map[string]any{
		"memories": memories,
		"profile":  profile,
		"time":     ts.Format(time.RFC3339),
		"hour":     ts.Hour(),
		"weekday":  ts.Weekday().String(),
	}
}

func (p *Perceiver) record(ctx context.Context, perception domain.Perception) {
	if p.patterns == nil {
		return
	}
	p.patterns.RecordPattern(ctx, "intent_"+perception.Intent)
	if shape := EntityShape(perception.Entities); shape != "" {
		p.patterns.RecordPattern(ctx, "entities_"+shape)
	}
}
