package audit

import (
	"time"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

// Статусы записи в долговременном хранилище
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Record — плоское представление ExecutionLogEntry для хранилища.
type Record struct {
	ID         string         `json:"id"`
	ToolID     string         `json:"tool_id"`
	ToolName   string         `json:"tool_name"`
	ActorID    string         `json:"actor_id"`
	UserID     string         `json:"user_id"`
	Parameters map[string]any `json:"parameters"`

	Confirmed bool `json:"confirmed"`

	// Результат
	Status     string    `json:"status"`
	Response   any       `json:"response"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

func FromEntry(e domain.ExecutionLogEntry) Record {
	status := StatusFailed
	if e.Result.Success {
		status = StatusSuccess
	}
	return Record{
		ID:         e.ID,
		ToolID:     e.ToolID,
		ToolName:   e.ToolName,
		ActorID:    e.ActorID,
		UserID:     e.UserID,
		Parameters: e.Parameters,
		Confirmed:  e.Confirmed,
		Status:     status,
		Response:   e.Result.Data,
		Error:      e.Result.Error,
		Timestamp:  e.Timestamp,
		DurationMs: e.ExecutionTimeMs,
	}
}
