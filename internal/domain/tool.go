package domain

import "context"

// ToolCategory группирует инструменты для фильтрации реестра.
type ToolCategory string

const (
	CategoryFinancial     ToolCategory = "financial"
	CategoryCommunication ToolCategory = "communication"
	CategoryAutomation    ToolCategory = "automation"
	CategoryData          ToolCategory = "data"
)

// ParamType — объявленный тип параметра инструмента.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

type ParameterSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
}

// ToolHandler — единственная точка выхода во внешние системы.
// Ошибка или паника обработчика превращаются диспетчером в неуспешный ToolResult.
type ToolHandler func(ctx context.Context, params map[string]any) (*ToolResult, error)

// ToolDescriptor описывает capability в реестре.
type ToolDescriptor struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Category             ToolCategory    `json:"category"`
	Parameters           []ParameterSpec `json:"parameters"`
	RequiresConfirmation bool            `json:"requiresConfirmation"`
	RequiredConnectors   []string        `json:"requiredConnectors,omitempty"`
	Handler              ToolHandler     `json:"-"`
}

// UsesConnector проверяет явную привязку инструмента к коннектору.
func (t *ToolDescriptor) UsesConnector(connectorID string) bool {
	for _, c := range t.RequiredConnectors {
		if c == connectorID {
			return true
		}
	}
	return false
}

type ToolResult struct {
	Success              bool   `json:"success"`
	Data                 any    `json:"data,omitempty"`
	Error                string `json:"error,omitempty"`
	RequiresConfirmation bool   `json:"requiresConfirmation,omitempty"`
	ConfirmationMessage  string `json:"confirmationMessage,omitempty"`
	ConfirmID            string `json:"confirmId,omitempty"`
}

// Failure — короткий конструктор неуспешного результата.
func Failure(msg string) *ToolResult {
	return &ToolResult{Success: false, Error: msg}
}

// Success — короткий конструктор успешного результата.
func Success(data any) *ToolResult {
	return &ToolResult{Success: true, Data: data}
}
