package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

var ErrInvalidRoutine = errors.New("invalid routine")

// RoutineStore хранит автоматизации по персонам в памяти процесса.
type RoutineStore struct {
	mu       sync.RWMutex
	routines map[string][]domain.Routine
	now      func() time.Time
}

func NewRoutineStore() *RoutineStore {
	return &RoutineStore{routines: make(map[string][]domain.Routine), now: time.Now}
}

func (s *RoutineStore) Create(actorID, name, trigger string, actions []any) (domain.Routine, error) {
	name, trigger = strings.TrimSpace(name), strings.TrimSpace(trigger)
	switch {
	case name == "":
		return domain.Routine{}, fmt.Errorf("%w: name must not be empty", ErrInvalidRoutine)
	case trigger == "":
		return domain.Routine{}, fmt.Errorf("%w: trigger must not be empty", ErrInvalidRoutine)
	case len(actions) == 0:
		return domain.Routine{}, fmt.Errorf("%w: at least one action is required", ErrInvalidRoutine)
	}

	r := domain.Routine{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      name,
		Trigger:   trigger,
		Actions:   append([]any(nil), actions...),
		Enabled:   true,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.routines[actorID] = append(s.routines[actorID], r)
	s.mu.Unlock()
	return r, nil
}

// List — автоматизации персоны в порядке создания. Пустой actorID — все.
func (s *RoutineStore) List(actorID string) []domain.Routine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if actorID != "" {
		return append([]domain.Routine{}, s.routines[actorID]...)
	}
	out := []domain.Routine{}
	for _, rs := range s.routines {
		out = append(out, rs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
