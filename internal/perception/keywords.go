package perception

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

// Намерения, которые знает эвристический классификатор.
const (
	IntentCall     = "call"
	IntentSMS      = "sms"
	IntentEmail    = "email"
	IntentCalendar = "calendar"
	IntentRoutine  = "routine"
	IntentTask     = "task"
	IntentNote     = "note"
	IntentSearch   = "search"
)

type intentRule struct {
	Intent   string
	Keywords []string
	patterns []*regexp.Regexp
}

// intentRules проверяются по порядку, первое совпадение побеждает.
// "remind me to call mom" — это звонок, поэтому call стоит раньше task.
var intentRules = compileRules([]intentRule{
	{Intent: IntentCall, Keywords: []string{"call", "phone", "dial", "ring"}},
	{Intent: IntentEmail, Keywords: []string{"email", "e-mail", "mail", "inbox"}},
	{Intent: IntentSMS, Keywords: []string{"text", "sms", "message", "msg"}},
	{Intent: IntentCalendar, Keywords: []string{"schedule", "meeting", "calendar", "appointment", "event"}},
	{Intent: IntentRoutine, Keywords: []string{"routine", "automate", "automation", "whenever", "every day", "every morning"}},
	{Intent: IntentTask, Keywords: []string{"task", "todo", "to-do", "remind me"}},
	{Intent: IntentNote, Keywords: []string{"remember", "note", "memorize", "save this", "don't forget"}},
	{Intent: IntentSearch, Keywords: []string{"search", "look up", "google", "find out", "who is"}},
})

func compileRules(rules []intentRule) []intentRule {
	for i := range rules {
		for _, kw := range rules[i].Keywords {
			rules[i].patterns = append(rules[i].patterns,
				regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
		}
	}
	return rules
}

// KnownIntents — все метки, включая conversation.
func KnownIntents() []string {
	out := make([]string, 0, len(intentRules)+1)
	for _, r := range intentRules {
		out = append(out, r.Intent)
	}
	return append(out, domain.IntentConversation)
}

func isKnownIntent(intent string) bool {
	for _, known := range KnownIntents() {
		if known == intent {
			return true
		}
	}
	return false
}

// ClassifyIntent — детерминированный фолбэк по таблице ключевых слов.
func ClassifyIntent(text string) string {
	for _, rule := range intentRules {
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				return rule.Intent
			}
		}
	}
	return domain.IntentConversation
}

var (
	positiveWords = wordSet("good", "great", "love", "thanks", "thank", "awesome", "happy",
		"excellent", "nice", "wonderful", "perfect", "glad", "amazing")
	negativeWords = wordSet("bad", "hate", "angry", "sad", "terrible", "awful", "late",
		"problem", "upset", "annoyed", "wrong", "worried", "broken")
)

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

var wordRe = regexp.MustCompile(`[a-z']+`)

// ScoreSentiment — голосование словарями; ничья и отсутствие совпадений дают neutral.
func ScoreSentiment(text string) domain.Sentiment {
	pos, neg := 0, 0
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		w = strings.Trim(w, "'")
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	switch {
	case pos > neg:
		return domain.SentimentPositive
	case neg > pos:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

// EntityShape — отсортированные ключи найденных сущностей через "_".
func EntityShape(entities map[string][]string) string {
	keys := make([]string, 0, len(entities))
	for k, v := range entities {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, "_")
}
