package execution

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

type accountUpdate struct {
	snapshot bool
	payload  []byte
}

// reconcileResult lists what a snapshot changed, for journaling outside the lock.
type reconcileResult struct {
	upserts  []domain.LiveOrder
	removed  []int64
	outcomes []domain.OutcomeRecord
	skipped  int
}

func (e *Engine) runReconcile() {
	defer e.inbound.Done()
	for u := range e.accounts {
		e.reconcile(u)
	}
}

func (e *Engine) reconcile(u accountUpdate) {
	records, err := parseOrderSnapshots(u.payload, e.cfg.MarketID)
	if err != nil {
		slog.Warn("execution: unreadable account update", "snapshot", u.snapshot, "err", err)
		return
	}
	if len(records) == 0 {
		return
	}

	now := e.now()
	e.mu.Lock()
	res := e.state.applySnapshot(records, now)
	e.updateGaugesLocked()
	e.mu.Unlock()

	slog.Debug("execution: reconciled",
		"snapshot", u.snapshot,
		"records", len(records),
		"live", len(res.upserts),
		"closed", len(res.removed),
		"skipped", res.skipped)

	for _, live := range res.upserts {
		e.journal.upsertLive(live)
	}
	for _, idx := range res.removed {
		e.journal.removeLive(idx)
	}
	for _, rec := range res.outcomes {
		e.journal.outcome(rec)
	}
}

// applySnapshot folds exchange order records into the live and pending state.
// Records without an order index or client order index, or with an unknown
// status, carry no usable information and are skipped.
func (s *executionState) applySnapshot(records []domain.OrderSnapshot, now time.Time) reconcileResult {
	var res reconcileResult
	for _, rec := range records {
		if rec.OrderIndex == nil || rec.ClientOrderIndex == nil || rec.Status == domain.StatusUnknown {
			res.skipped++
			continue
		}
		orderIndex, clientID := *rec.OrderIndex, *rec.ClientOrderIndex
		side := s.inferSide(rec)

		if rec.Status.IsTerminal() {
			s.applyTerminal(orderIndex, clientID, side, now, &res)
			continue
		}
		s.applyResting(orderIndex, clientID, side, rec.Price, now, &res)
	}
	return res
}

func (s *executionState) applyResting(orderIndex, clientID int64, side domain.Side, price *string, now time.Time, res *reconcileResult) {
	ticks, ok := int64(0), false
	if price != nil {
		ticks, ok = s.parsePriceTicks(*price, side)
	}
	if !ok {
		if prev, found := s.liveByOrder[orderIndex]; found {
			ticks = prev.PriceTicks
		} else if p, found := s.pendingByClient[clientID]; found && p.Action.IsCreate() {
			ticks = p.Action.PriceTicks
		}
	}

	live := domain.LiveOrder{OrderIndex: orderIndex, ClientOrderID: clientID, Side: side, PriceTicks: ticks}
	s.markLive(live)
	res.upserts = append(res.upserts, live)

	p, found := s.pendingByClient[clientID]
	if !found {
		return
	}
	op := domain.OrderOperation{Side: p.Side, ClientOrderID: clientID, Action: p.Action}
	switch {
	case p.Action.IsCreate() && !p.Confirmed:
		s.slot(p.Side).ClearPendingCreate(clientID)
		p.ResetRetries()
		p.Confirmed = true
		res.outcomes = append(res.outcomes, outcomeRecord(0, p.Attempts, op, domain.OutcomeConfirmed, "", now))
	case p.Action.IsCancel():
		s.removePending(clientID)
	}
}

func (s *executionState) applyTerminal(orderIndex, clientID int64, side domain.Side, now time.Time, res *reconcileResult) {
	_, byIndex := s.removeLiveByIndex(orderIndex)
	_, byClient := s.removeLiveByClient(clientID)
	s.clearSideLiveIndex(side, orderIndex)
	if byIndex || byClient {
		res.removed = append(res.removed, orderIndex)
	}

	if cancelID, ok := s.cancelByOrder[orderIndex]; ok {
		if p, found := s.removePending(cancelID); found {
			op := domain.OrderOperation{Side: p.Side, ClientOrderID: cancelID, Action: p.Action}
			res.outcomes = append(res.outcomes, outcomeRecord(0, p.Attempts, op, domain.OutcomeClosed, "order closed", now))
		}
		delete(s.cancelByOrder, orderIndex)
	}

	if p, found := s.removePending(clientID); found {
		op := domain.OrderOperation{Side: p.Side, ClientOrderID: clientID, Action: p.Action}
		res.outcomes = append(res.outcomes, outcomeRecord(0, p.Attempts, op, domain.OutcomeClosed, "order closed", now))
	}
}

// inferSide prefers the record's is_ask flag, then what the engine already
// knows about the order. Unknown orders default to the ask side.
func (s *executionState) inferSide(rec domain.OrderSnapshot) domain.Side {
	if rec.IsAsk != nil {
		return domain.SideFromIsAsk(*rec.IsAsk)
	}
	if rec.OrderIndex != nil {
		if live, ok := s.liveByOrder[*rec.OrderIndex]; ok {
			return live.Side
		}
	}
	if rec.ClientOrderIndex != nil {
		if p, ok := s.pendingByClient[*rec.ClientOrderIndex]; ok {
			return p.Side
		}
	}
	return domain.SideAsk
}
