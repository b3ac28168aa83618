package engine

import (
	"sort"
	"sync"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"github.com/xela07ax/spaceai-action-pipeline/internal/infra"
)

// DefaultActorID — персона, если вызывающий не указал свою.
const DefaultActorID = "default"

// Actors — справочник настроенных персон.
type Actors struct {
	mu     sync.RWMutex
	actors map[string]*domain.Actor
}

// NewActors строит справочник из конфигурации. Если персон нет,
// создается "default" со всеми коннекторами.
func NewActors(cfg []infra.ActorConfig) *Actors {
	a := &Actors{actors: make(map[string]*domain.Actor, len(cfg))}
	for _, c := range cfg {
		a.actors[c.ID] = &domain.Actor{
			ID:                c.ID,
			Name:              c.Name,
			EnabledConnectors: c.EnabledConnectors,
			Capabilities:      c.Capabilities,
		}
	}
	if len(a.actors) == 0 {
		a.actors[DefaultActorID] = &domain.Actor{
			ID:                DefaultActorID,
			Name:              "Default",
			EnabledConnectors: []string{"telephony", "email", "calendar"},
		}
	}
	return a
}

// Get возвращает персону; пустой id — "default".
func (a *Actors) Get(id string) (*domain.Actor, bool) {
	if id == "" {
		id = DefaultActorID
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	actor, ok := a.actors[id]
	return actor, ok
}

func (a *Actors) List() []domain.Actor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Actor, 0, len(a.actors))
	for _, actor := range a.actors {
		out = append(out, *actor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsConnectorEnabled — справочник коннекторов для стадии планирования.
func (a *Actors) IsConnectorEnabled(actor *domain.Actor, connectorID string) bool {
	if actor == nil {
		return false
	}
	registered, ok := a.Get(actor.ID)
	if !ok {
		return actor.HasConnector(connectorID)
	}
	return registered.HasConnector(connectorID)
}
