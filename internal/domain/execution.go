package domain

import "time"

// ExecutionLogEntry — запись журнала о фактическом запуске обработчика.
// Append-only: после создания не изменяется.
type ExecutionLogEntry struct {
	ID              string         `json:"id"`
	ToolID          string         `json:"toolId"`
	ToolName        string         `json:"toolName"`
	Parameters      map[string]any `json:"parameters"`
	Result          ToolResult     `json:"result"`
	Timestamp       time.Time      `json:"timestamp"`
	ActorID         string         `json:"actorId"`
	UserID          string         `json:"userId,omitempty"`
	Confirmed       bool           `json:"confirmed"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
}

// Statistics целиком выводится из журнала исполнения.
type Statistics struct {
	TotalExecutions        int            `json:"totalExecutions"`
	Successful             int            `json:"successful"`
	Failed                 int            `json:"failed"`
	SuccessRate            float64        `json:"successRate"`
	AverageExecutionTimeMs float64        `json:"averageExecutionTimeMs"`
	ToolUsage              map[string]int `json:"toolUsage"`
}
