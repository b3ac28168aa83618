package engine

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
	"go.uber.org/zap"
)

// maxExpiredTombstones — сколько последних просроченных токенов помнить.
const maxExpiredTombstones = 1024

// requestConfirmation сохраняет вызов и возвращает токен. Обработчик не запускается, журнал не пишется.
func (o *Orchestrator) requestConfirmation(tool domain.ToolDescriptor, params map[string]any, call ToolCall) domain.ToolResult {
	now := o.now()
	pc := &domain.PendingConfirmation{
		ConfirmID:  uuid.New().String(),
		ToolID:     tool.ID,
		Parameters: maps.Clone(params),
		ActorID:    call.ActorID,
		UserID:     call.UserID,
		Status:     domain.ConfirmationPending,
		CreatedAt:  now,
	}
	if o.ttl > 0 {
		pc.ExpiresAt = now.Add(o.ttl)
	}

	o.pendingMu.Lock()
	o.sweepLocked()
	o.pending[pc.ConfirmID] = pc
	o.metrics.PendingConfirmations.Set(float64(len(o.pending)))
	o.pendingMu.Unlock()

	o.metrics.ConfirmationsRequested.WithLabelValues(tool.ID).Inc()
	o.logger.Info("confirmation requested",
		zap.String("tool_id", tool.ID),
		zap.String("actor_id", call.ActorID),
		zap.String("confirm_id", pc.ConfirmID))

	return domain.ToolResult{
		Success:              false,
		RequiresConfirmation: true,
		ConfirmationMessage:  fmt.Sprintf("%s requires confirmation: %s. Re-run with confirmation to proceed.", tool.Name, describeParams(tool, params)),
		ConfirmID:            pc.ConfirmID,
	}
}

// consumeMatching удаляет первое ожидание с тем же инструментом, персоной и параметрами.
func (o *Orchestrator) consumeMatching(toolID, actorID string, params map[string]any) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	o.sweepLocked()

	var match *domain.PendingConfirmation
	for _, pc := range o.pending {
		if pc.ToolID != toolID || pc.ActorID != actorID || !reflect.DeepEqual(pc.Parameters, params) {
			continue
		}
		if match == nil || pc.CreatedAt.Before(match.CreatedAt) {
			match = pc
		}
	}
	if match == nil {
		return
	}
	match.Status = domain.ConfirmationConfirmed
	delete(o.pending, match.ConfirmID)
	o.metrics.PendingConfirmations.Set(float64(len(o.pending)))
}

// Confirm исполняет сохраненный вызов по токену и удаляет ожидание.
func (o *Orchestrator) Confirm(ctx context.Context, confirmID string) (domain.ToolResult, error) {
	pc, err := o.takePending(confirmID, domain.ConfirmationConfirmed)
	if err != nil {
		return domain.ToolResult{}, err
	}
	o.logger.Info("confirmation accepted", zap.String("confirm_id", confirmID), zap.String("tool_id", pc.ToolID))

	return o.execute(ctx, ToolCall{
		ToolID:     pc.ToolID,
		Parameters: pc.Parameters,
		ActorID:    pc.ActorID,
		UserID:     pc.UserID,
		Confirmed:  true,
	}, false), nil
}

// CancelConfirmation отклоняет ожидание без запуска.
func (o *Orchestrator) CancelConfirmation(confirmID string) error {
	if _, err := o.takePending(confirmID, domain.ConfirmationCancelled); err != nil {
		return err
	}
	o.logger.Info("confirmation cancelled", zap.String("confirm_id", confirmID))
	return nil
}

func (o *Orchestrator) takePending(confirmID string, next domain.ConfirmationStatus) (*domain.PendingConfirmation, error) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	defer func() { o.metrics.PendingConfirmations.Set(float64(len(o.pending))) }()

	o.sweepLocked()
	pc, ok := o.pending[confirmID]
	if !ok {
		if _, gone := o.expired[confirmID]; gone {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfirmationExpired, confirmID)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrConfirmationNotFound, confirmID)
	}
	if err := pc.CanTransitionTo(next); err != nil {
		return nil, err
	}
	pc.Status = next
	delete(o.pending, confirmID)
	return pc, nil
}

// PendingConfirmations — неразрешенные ожидания, старые первыми. Пустой actorID — все.
func (o *Orchestrator) PendingConfirmations(actorID string) []domain.PendingConfirmation {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	o.sweepLocked()

	out := []domain.PendingConfirmation{}
	for _, pc := range o.pending {
		if actorID == "" || pc.ActorID == actorID {
			out = append(out, *pc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ConfirmID < out[j].ConfirmID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SweepExpired удаляет просроченные ожидания и возвращает их количество.
func (o *Orchestrator) SweepExpired() int {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	return o.sweepLocked()
}

func (o *Orchestrator) sweepLocked() int {
	now := o.now()
	removed := 0
	for id, pc := range o.pending {
		if pc.IsExpired(now) {
			pc.Status = domain.ConfirmationExpired
			delete(o.pending, id)
			o.rememberExpired(id)
			removed++
		}
	}
	if removed > 0 {
		o.metrics.PendingConfirmations.Set(float64(len(o.pending)))
		o.logger.Debug("expired confirmations swept", zap.Int("count", removed))
	}
	return removed
}

// rememberExpired держит ограниченную очередь надгробий, старые вытесняются первыми.
func (o *Orchestrator) rememberExpired(id string) {
	o.expired[id] = struct{}{}
	o.expiredOrder = append(o.expiredOrder, id)
	for len(o.expiredOrder) > maxExpiredTombstones {
		delete(o.expired, o.expiredOrder[0])
		o.expiredOrder = o.expiredOrder[1:]
	}
}

// describeParams — параметры в порядке схемы для текста подтверждения.
func describeParams(tool domain.ToolDescriptor, params map[string]any) string {
	var parts []string
	for _, spec := range tool.Parameters {
		if v, ok := params[spec.Name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", spec.Name, v))
		}
	}
	if len(parts) == 0 {
		return "no parameters"
	}
	return strings.Join(parts, ", ")
}
