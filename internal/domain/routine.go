package domain

import "time"

// Routine — автоматизация вида trigger → actions, созданная действием routine_create.
type Routine struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actorId"`
	Name      string    `json:"name"`
	Trigger   string    `json:"trigger"`
	Actions   []any     `json:"actions"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}
