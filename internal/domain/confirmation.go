package domain

import (
	"errors"
	"time"
)

// Статусы State Machine подтверждения
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "PENDING"
	ConfirmationConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationCancelled ConfirmationStatus = "CANCELLED"
	ConfirmationExpired   ConfirmationStatus = "EXPIRED"
)

var (
	ErrInvalidTransition    = errors.New("invalid confirmation status transition")
	ErrAlreadyProcessed     = errors.New("confirmation already processed")
	ErrConfirmationNotFound = errors.New("confirmation not found")
	ErrConfirmationExpired  = errors.New("confirmation expired")
)

// PendingConfirmation — приостановленный вызов чувствительного инструмента.
// Создается шлюзом подтверждения, удаляется при подтвержденном повторном вызове.
type PendingConfirmation struct {
	ConfirmID  string             `json:"confirmId"`
	ToolID     string             `json:"toolId"`
	Parameters map[string]any     `json:"parameters"`
	ActorID    string             `json:"actorId"`
	UserID     string             `json:"userId,omitempty"`
	Status     ConfirmationStatus `json:"status"`
	CreatedAt  time.Time          `json:"createdAt"`
	ExpiresAt  time.Time          `json:"expiresAt"`
}

// CanTransitionTo проверяет правила конечного автомата
func (c *PendingConfirmation) CanTransitionTo(next ConfirmationStatus) error {
	if c.Status != ConfirmationPending {
		return ErrAlreadyProcessed
	}
	if next == ConfirmationPending {
		return ErrInvalidTransition
	}
	return nil
}

// IsExpired — нулевой ExpiresAt означает бессрочное ожидание.
func (c *PendingConfirmation) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
