package execution

import (
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// planSide computes the operations that move side towards order (nil means
// no quote wanted). The desired price is recorded whatever the outcome.
func (s *executionState) planSide(side domain.Side, order *domain.QuoteOrder, now time.Time) []domain.OrderOperation {
	slot := s.slot(side)
	slot.DesiredUpdatedAt = now

	if order != nil && !order.Usable() {
		slot.DesiredTicks = nil
		slog.Debug("execution: unusable quote, nothing planned",
			"side", side, "price", order.Price, "size", order.Size)
		return nil
	}

	var target *int64
	if order != nil {
		t := s.toTicks(order.Price, side)
		target = &t
	}
	slot.DesiredTicks = target

	live, hasLive := s.liveForSide(side)
	if target != nil && hasLive {
		diff := abs64(live.PriceTicks - *target)
		if diff <= s.refreshToleranceTicks && s.refreshThrottled(side, now) {
			slog.Debug("execution: target within tolerance, leaving order live",
				"side", side, "target_ticks", *target, "live_ticks", live.PriceTicks, "diff", diff)
			return nil
		}
	}

	var ops []domain.OrderOperation
	if hasLive {
		if s.hasPendingCancel(live.OrderIndex) {
			slog.Debug("execution: cancel already pending", "side", side, "order_index", live.OrderIndex)
		} else {
			clientID := s.registerPending(side, slot.LatestVersion, domain.CancelAction(live.OrderIndex), 0, now)
			slog.Debug("execution: scheduling cancel",
				"side", side, "order_index", live.OrderIndex, "client_id", clientID)
			ops = append(ops, domain.OrderOperation{
				Side:          side,
				ClientOrderID: clientID,
				Action:        domain.CancelAction(live.OrderIndex),
			})
		}
	}

	if target == nil {
		return ops
	}

	if s.pendingCreateAt(side, *target) {
		slog.Debug("execution: create already pending at target, skipping",
			"side", side, "target_ticks", *target)
		return ops
	}

	s.supersedeCreates(side)
	version := slot.BumpVersion()
	clientID := s.registerPending(side, version, domain.CreateAction(*target), 0, now)
	slog.Debug("execution: scheduling create",
		"side", side, "client_id", clientID, "ticks", *target, "version", version)
	ops = append(ops, domain.OrderOperation{
		Side:          side,
		ClientOrderID: clientID,
		Action:        domain.CreateAction(*target),
	})

	s.logLiveSummary()
	return ops
}

// planCancelAll emits one cancel per live order that has no cancel in flight.
func (s *executionState) planCancelAll(reason string, now time.Time) []domain.OrderOperation {
	indices := make([]int64, 0, len(s.liveByOrder))
	for idx := range s.liveByOrder {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var ops []domain.OrderOperation
	for _, idx := range indices {
		live := s.liveByOrder[idx]
		if s.hasPendingCancel(idx) {
			slog.Debug("execution: skipping duplicate cancel", "order_index", idx)
			continue
		}
		version := s.slot(live.Side).LatestVersion
		clientID := s.registerPending(live.Side, version, domain.CancelAction(idx), 0, now)
		ops = append(ops, domain.OrderOperation{
			Side:          live.Side,
			ClientOrderID: clientID,
			Action:        domain.CancelAction(idx),
		})
	}

	if len(ops) == 0 {
		slog.Debug("execution: cancel-all found nothing to cancel", "reason", reason)
		return nil
	}
	slog.Info("execution: cancel-all", "orders", len(ops), "reason", reason)
	return ops
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
