package planning

import (
	"regexp"
	"strings"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/perception"
)

// template — заготовка плана под одно намерение.
type template struct {
	Goal  string
	Steps []string
	Build func(p domain.Perception) ([]domain.ActionDescriptor, []string)
}

// templates — статическая таблица intent -> действия.
var templates = map[string]template{
	perception.IntentCall: {
		Goal:  "Place a phone call",
		Steps: []string{"Resolve phone number", "Place call via telephony connector"},
		Build: func(p domain.Perception) ([]domain.ActionDescriptor, []string) {
			params := map[string]any{}
			var pre []string
			if phone := p.FirstEntity(domain.EntityPhones); phone != "" {
				params["phoneNumber"] = phone
			} else {
				pre = append(pre, "Phone number required")
			}
			return []domain.ActionDescriptor{
				action(domain.ActionTelephonyCall, params, "telephony"),
			}, pre
		},
	},
	perception.IntentSMS: {
		Goal:  "Send a text message",
		Steps: []string{"Resolve phone number", "Compose message", "Send SMS via telephony connector"},
		Build: func(p domain.Perception) ([]domain.ActionDescriptor, []string) {
			params := map[string]any{"message": extractMessage(p.Input)}
			var pre []string
			if phone := p.FirstEntity(domain.EntityPhones); phone != "" {
				params["phoneNumber"] = phone
			} else {
				pre = append(pre, "Phone number required")
			}
			return []domain.ActionDescriptor{
				action(domain.ActionTelephonySMS, params, "telephony"),
			}, pre
		},
	},
	perception.IntentEmail: {
		Goal:  "Send an email",
		Steps: []string{"Resolve recipient", "Compose email", "Send via email connector"},
		Build: func(p domain.Perception) ([]domain.ActionDescriptor, []string) {
			params := map[string]any{
				"subject": extractSubject(p.Input),
				"body":    extractMessage(p.Input),
			}
			var pre []string
			if to := p.FirstEntity(domain.EntityEmails); to != "" {
				params["to"] = to
			} else {
				pre = append(pre, "Recipient email required")
			}
			return []domain.ActionDescriptor{
				action(domain.ActionEmailSend, params, "email"),
			}, pre
		},
	},
	perception.IntentNote: {
		Goal:  "Remember information",
		Steps: []string{"Store note in memory"},
		Build: func(p domain.Perception) ([]domain.ActionDescriptor, []string) {
			return []domain.ActionDescriptor{
				action(domain.ActionStoreMemory, map[string]any{
					"content": stripCommand(p.Input, notePrefixRe),
					"type":    "note",
				}),
			}, nil
		},
	},
	perception.IntentTask: {
		Goal:  "Create a task",
		Steps: []string{"Create task in memory"},
		Build: func(p domain.Perception) ([]domain.ActionDescriptor, []string) {
			return []domain.ActionDescriptor{
				action(domain.ActionCreateTask, map[string]any{
					"content":  stripCommand(p.Input, taskPrefixRe),
					"priority": "P3",
				}),
			}, nil
		},
	},
	perception.IntentCalendar: {
		Goal:  "Schedule an event",
		Steps: []string{"Resolve event time", "Create calendar event"},
		Build: func(p domain.Perception) ([]domain.ActionDescriptor, []string) {
			params := map[string]any{"summary": stripCommand(p.Input, calendarPrefixRe)}
			var pre []string
			if start := eventStart(p); start != "" {
				params["start"] = start
			} else {
				pre = append(pre, "Event start time required")
			}
			return []domain.ActionDescriptor{
				action(domain.ActionCalendarEvent, params, "calendar"),
			}, pre
		},
	},
	perception.IntentSearch: {
		Goal:  "Search the web",
		Steps: []string{"Run web search"},
		Build: func(p domain.Perception) ([]domain.ActionDescriptor, []string) {
			return []domain.ActionDescriptor{
				action(domain.ActionWebSearch, map[string]any{
					"query": stripCommand(p.Input, searchPrefixRe),
				}),
			}, nil
		},
	},
	perception.IntentRoutine: {
		Goal:  "Create a routine",
		Steps: []string{"Derive trigger", "Save routine"},
		Build: func(p domain.Perception) ([]domain.ActionDescriptor, []string) {
			return []domain.ActionDescriptor{
				action(domain.ActionRoutineCreate, map[string]any{
					"name":    routineName(p.Input),
					"trigger": routineTrigger(p.Input),
					"actions": []any{strings.TrimSpace(p.Input)},
				}),
			}, nil
		},
	},
}

// templatePath строит план без модели. Неизвестное намерение дает пустой список действий.
func templatePath(p domain.Perception) domain.Plan {
	plan := domain.Plan{
		Goal:          goalFor(p.Intent),
		Steps:         []string{},
		Actions:       []domain.ActionDescriptor{},
		Prerequisites: []string{},
		Confidence:    TemplateConfidence,
		Source:        domain.SourceTemplate,
	}
	tpl, ok := templates[p.Intent]
	if !ok {
		return plan
	}
	plan.Steps = append(plan.Steps, tpl.Steps...)
	actions, pre := tpl.Build(p)
	for i := range actions {
		actions[i].Priority = i + 1
	}
	plan.Actions = actions
	for _, note := range pre {
		plan.AddPrerequisite(note)
	}
	return plan
}

func goalFor(intent string) string {
	if tpl, ok := templates[intent]; ok {
		return tpl.Goal
	}
	return "Respond to the user"
}

func action(t domain.ActionType, params map[string]any, connectors ...string) domain.ActionDescriptor {
	return domain.ActionDescriptor{
		Type:               t,
		Parameters:         params,
		RequiredConnectors: connectors,
	}
}

var (
	messageRe        = regexp.MustCompile(`(?i)(?:\bsaying|\bthat says|\bthat|:)\s+(.+)$`)
	subjectRe        = regexp.MustCompile(`(?i)\babout\s+(.+?)(?:\s+saying\b.*)?$`)
	notePrefixRe     = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:remember|note|memorize|save this|don't forget)(?:\s+that)?[\s:,]*`)
	taskPrefixRe     = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:add\s+(?:a\s+)?(?:task|todo|to-do)(?:\s+to)?|create\s+(?:a\s+)?(?:task|todo)(?:\s+to)?|remind me to|remind me)[\s:,]*`)
	calendarPrefixRe = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:schedule|book|add)(?:\s+an?)?[\s:,]*`)
	searchPrefixRe   = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:search(?:\s+for)?|look up|google|find out)[\s:,]*`)
	triggerRe        = regexp.MustCompile(`(?i)\b(whenever\s+.+?|every\s+(?:day|morning|evening|night|week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)(?:\s+at\s+\S+)?)(?:[,.]|$)`)
)

// extractMessage — текст после "saying"/"that"/":", иначе вся реплика.
func extractMessage(text string) string {
	if m := messageRe.FindStringSubmatch(text); len(m) == 2 {
		if msg := strings.TrimSpace(m[1]); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(text)
}

func extractSubject(text string) string {
	if m := subjectRe.FindStringSubmatch(text); len(m) == 2 {
		if s := strings.TrimSpace(m[1]); s != "" {
			return s
		}
	}
	return "Message from your assistant"
}

// stripCommand убирает командный префикс; если ничего не осталось, возвращает исходный текст.
func stripCommand(text string, prefix *regexp.Regexp) string {
	rest := strings.TrimSpace(prefix.ReplaceAllString(text, ""))
	if rest == "" {
		return strings.TrimSpace(text)
	}
	return rest
}

// eventStart склеивает дату, время и относительное время в одну строку.
func eventStart(p domain.Perception) string {
	var parts []string
	for _, key := range []string{domain.EntityDates, domain.EntityRelativeTime, domain.EntityTimes} {
		if v := p.FirstEntity(key); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func routineTrigger(text string) string {
	if m := triggerRe.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return "manual"
}

func routineName(text string) string {
	name := strings.TrimSpace(text)
	if r := []rune(name); len(r) > 40 {
		name = string(r[:40])
	}
	return "Routine: " + name
}
