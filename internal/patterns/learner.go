// Package patterns — счетчик частот паттернов использования и проактивные подсказки.
//
// Снимок счетчиков сохраняется через порт Store после инкремента (write-through,
// записи идут по одной и не старее уже записанной версии) и загружается один раз
// при создании Learner. Битый снимок не роняет сервис:
// learner стартует с пустой картой.
package patterns

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaxInsights — сколько паттернов возвращает GetPatternInsights.
const MaxInsights = 20

// SaveTimeout ограничивает одну запись снимка.
const SaveTimeout = 2 * time.Second

// Store — порт персистентности снимка счетчиков.
type Store interface {
	Load(ctx context.Context) (map[string]int, error)
	Save(ctx context.Context, snapshot map[string]int) error
}

type Insight struct {
	Key       string `json:"key"`
	Frequency int    `json:"frequency"`
}

type Learner struct {
	mu       sync.Mutex
	counters map[string]int
	version  uint64

	// saveMu упорядочивает записи; savedVersion под ним же
	saveMu       sync.Mutex
	savedVersion uint64
	saveTimeout  time.Duration

	store  Store
	logger *zap.Logger
}

// NewLearner загружает снимок. Ошибка загрузки логируется, счетчики начинаются с нуля.
func NewLearner(ctx context.Context, store Store, logger *zap.Logger) *Learner {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Learner{
		counters:    make(map[string]int),
		saveTimeout: SaveTimeout,
		store:       store,
		logger:      logger.Named("patterns"),
	}

	if store == nil {
		return l
	}
	snapshot, err := store.Load(ctx)
	if err != nil {
		l.logger.Warn("pattern snapshot load failed, starting empty", zap.Error(err))
		return l
	}
	for k, v := range snapshot {
		if v > 0 {
			l.counters[k] = v
		}
	}
	l.logger.Info("pattern counters loaded", zap.Int("keys", len(l.counters)))
	return l
}

// RecordPattern увеличивает счетчик и синхронно пишет снимок.
// Ошибка записи не возвращается вызывающему: персистентность best-effort.
// Запись идет вне l.mu, так что медленное хранилище не блокирует чтение счетчиков.
func (l *Learner) RecordPattern(ctx context.Context, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	l.mu.Lock()
	l.counters[key]++
	l.version++
	l.mu.Unlock()

	if l.store != nil {
		l.persist(ctx, key)
	}
}

// persist пишет самый свежий снимок. Снимок берется уже под saveMu, поэтому
// старый снимок не перезапишет новый; если свежая версия уже записана
// соседним вызовом, запись пропускается.
func (l *Learner) persist(ctx context.Context, key string) {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	if l.version == l.savedVersion {
		l.mu.Unlock()
		return
	}
	version := l.version
	snapshot := make(map[string]int, len(l.counters))
	for k, v := range l.counters {
		snapshot[k] = v
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.saveTimeout)
	defer cancel()

	if err := l.store.Save(ctx, snapshot); err != nil {
		l.logger.Warn("pattern snapshot save failed", zap.String("key", key), zap.Error(err))
		return
	}
	l.savedVersion = version
}

// Frequency — текущее значение счетчика.
func (l *Learner) Frequency(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters[key]
}

// GetPatternInsights — топ-20 по убыванию частоты, при равенстве по ключу.
func (l *Learner) GetPatternInsights() []Insight {
	l.mu.Lock()
	out := make([]Insight, 0, len(l.counters))
	for k, v := range l.counters {
		out = append(out, Insight{Key: k, Frequency: v})
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency == out[j].Frequency {
			return out[i].Key < out[j].Key
		}
		return out[i].Frequency > out[j].Frequency
	})
	if len(out) > MaxInsights {
		out = out[:MaxInsights]
	}
	return out
}

// suggestionRule срабатывает, если частота любого ключа с подстрокой Match больше Threshold.
type suggestionRule struct {
	Match      string
	Threshold  int
	Suggestion string
}

var suggestionRules = []suggestionRule{
	{"call", 5, "You make calls often. Want me to set up speed-dial shortcuts for your frequent contacts?"},
	{"sms", 5, "You send a lot of texts. Should I create quick-reply templates?"},
	{"email", 5, "You send emails regularly. Want a daily digest routine for your inbox?"},
	{"calendar", 3, "You schedule events regularly. Should I add automatic reminders before each one?"},
	{"task", 5, "You create tasks often. Want a morning routine that reviews pending tasks?"},
	{"note", 10, "You save many notes. Should I compile them into a weekly summary?"},
}

// SuggestBasedOnPatterns возвращает подсказки в порядке таблицы правил, без повторов.
func (l *Learner) SuggestBasedOnPatterns() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0)
	for _, rule := range suggestionRules {
		for key, freq := range l.counters {
			if freq > rule.Threshold && strings.Contains(key, rule.Match) {
				out = append(out, rule.Suggestion)
				break
			}
		}
	}
	return out
}
