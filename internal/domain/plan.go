package domain

// ActionType — идентификатор канонического типа действия плана.
type ActionType string

const (
	ActionTelephonyCall ActionType = "telephony_call"
	ActionTelephonySMS  ActionType = "telephony_sms"
	ActionEmailSend     ActionType = "email_send"
	ActionStoreMemory   ActionType = "store_memory"
	ActionCreateTask    ActionType = "create_task"
	ActionCalendarEvent ActionType = "calendar_event"
	ActionWebSearch     ActionType = "web_search"
	ActionRoutineCreate ActionType = "routine_create"
)

// CanonicalActionTypes перечисляет типы в порядке, в котором они описываются модели.
var CanonicalActionTypes = []ActionType{
	ActionTelephonyCall,
	ActionTelephonySMS,
	ActionEmailSend,
	ActionStoreMemory,
	ActionCreateTask,
	ActionCalendarEvent,
	ActionWebSearch,
	ActionRoutineCreate,
}

// IsCanonical проверяет, входит ли тип в фиксированный перечень.
func (t ActionType) IsCanonical() bool {
	for _, c := range CanonicalActionTypes {
		if c == t {
			return true
		}
	}
	return false
}

// ActionDescriptor — конкретное действие плана с параметрами.
// Priority заполняется, но на порядок исполнения не влияет.
type ActionDescriptor struct {
	Type               ActionType     `json:"type"`
	Parameters         map[string]any `json:"parameters"`
	RequiredConnectors []string       `json:"requiredConnectors,omitempty"`
	Priority           int            `json:"priority"`
}

// Plan — результат стадии планирования. Живет только в рамках запроса.
type Plan struct {
	Goal          string             `json:"goal"`
	Steps         []string           `json:"steps"`
	Actions       []ActionDescriptor `json:"actions"`
	Prerequisites []string           `json:"prerequisites"`
	Confidence    float64            `json:"confidence"`
	Source        string             `json:"source"`
}

// AddPrerequisite добавляет условие, сохраняя семантику множества.
func (p *Plan) AddPrerequisite(note string) {
	for _, existing := range p.Prerequisites {
		if existing == note {
			return
		}
	}
	p.Prerequisites = append(p.Prerequisites, note)
}
