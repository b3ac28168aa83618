package domain

import "time"

// Sentiment — итог голосования по словарям тональности.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// IntentConversation — намерение по умолчанию, когда ни одно правило не сработало.
const IntentConversation = "conversation"

// Источник результата стадии: модель или детерминированный фолбэк.
const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
	SourceTemplate  = "template"
)

// Ключи сущностей, которые извлекает стадия восприятия.
const (
	EntityPhones       = "phones"
	EntityEmails       = "emails"
	EntityDates        = "dates"
	EntityTimes        = "times"
	EntityNumbers      = "numbers"
	EntityURLs         = "urls"
	EntityRelativeTime = "relative_time"
)

// Perception — структурированный разбор одной реплики пользователя.
// Создается один раз на реплику и дальше не меняется.
type Perception struct {
	Input     string              `json:"input"`
	Intent    string              `json:"intent"`
	Entities  map[string][]string `json:"entities"`
	Sentiment Sentiment           `json:"sentiment"`
	Context   map[string]any      `json:"context"`
	Timestamp time.Time           `json:"timestamp"`
	Source    string              `json:"source"`
}

// FirstEntity возвращает первое значение сущности или пустую строку.
func (p *Perception) FirstEntity(key string) string {
	if p == nil {
		return ""
	}
	if vals := p.Entities[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}
