package domain

import "time"

// MemoryHit — результат запроса к долговременной памяти.
type MemoryHit struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	Subject    string         `json:"subject,omitempty"`
	ActorID    string         `json:"actorId"`
	Importance float64        `json:"importance"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// MemoryRecord — то, что пишется в память через AddMemory.
type MemoryRecord struct {
	Content    string
	ActorID    string
	Type       string
	Subject    string
	Importance float64
	Metadata   map[string]any
}
