package execution

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

const (
	minRefreshInterval = 10 * time.Millisecond
)

// executionState is the single source of truth of the engine. Every method
// assumes the caller holds Engine.mu and never blocks.
type executionState struct {
	market                int64
	orderSize             int64
	tickSize              decimal.Decimal
	refreshInterval       time.Duration
	refreshToleranceTicks int64
	dryRun                bool
	fastExecution         bool
	optimisticAcks        bool

	pendingByClient map[int64]*domain.PendingOrder
	pendingByNonce  map[domain.NonceSlot]int64 // (api key, nonce) -> client id
	cancelByOrder   map[int64]int64 // order index -> client id of its pending cancel
	liveByOrder     map[int64]domain.LiveOrder
	liveByClient    map[int64]int64
	sides           [2]domain.SideSlot

	directiveSeq      uint64
	clientIDHighWater int64
	breaker           domain.EmergencyBreaker
}

func newExecutionState(cfg Config) *executionState {
	interval := cfg.RefreshInterval
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}
	tolerance := cfg.RefreshToleranceTicks
	if tolerance < 0 {
		tolerance = 0
	}
	return &executionState{
		market:                cfg.MarketID,
		orderSize:             cfg.OrderSize,
		tickSize:              decimal.NewFromFloat(cfg.TickSize),
		refreshInterval:       interval,
		refreshToleranceTicks: tolerance,
		dryRun:                cfg.DryRun,
		fastExecution:         cfg.FastExecution,
		optimisticAcks:        cfg.OptimisticAcks,
		pendingByClient:       make(map[int64]*domain.PendingOrder),
		pendingByNonce:        make(map[domain.NonceSlot]int64),
		cancelByOrder:         make(map[int64]int64),
		liveByOrder:           make(map[int64]domain.LiveOrder),
		liveByClient:          make(map[int64]int64),
		breaker:               domain.NewEmergencyBreaker(),
	}
}

func (s *executionState) slot(side domain.Side) *domain.SideSlot {
	return &s.sides[side]
}

func (s *executionState) nextDirectiveID() uint64 {
	s.directiveSeq++
	return s.directiveSeq
}

// nextClientOrderID derives an id from the wall clock and bumps it past the
// high-water mark, so ids stay strictly increasing across rapid calls.
func (s *executionState) nextClientOrderID(now time.Time) int64 {
	candidate := now.UnixMilli() << 4
	if candidate <= s.clientIDHighWater {
		s.clientIDHighWater++
	} else {
		s.clientIDHighWater = candidate
	}
	return s.clientIDHighWater
}

// toTicks converts a price to ticks: asks round up, bids round down, never below 1.
func (s *executionState) toTicks(price float64, side domain.Side) int64 {
	if price <= 0 {
		return 1
	}
	return s.decimalToTicks(decimal.NewFromFloat(price), side)
}

func (s *executionState) decimalToTicks(price decimal.Decimal, side domain.Side) int64 {
	if !price.IsPositive() || !s.tickSize.IsPositive() {
		return 1
	}
	q := price.Div(s.tickSize)
	if side.IsAsk() {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	ticks := q.IntPart()
	if ticks < 1 {
		return 1
	}
	return ticks
}

// parsePriceTicks parses a snapshot price string. ok is false when the
// string is not a number.
func (s *executionState) parsePriceTicks(raw string, side domain.Side) (int64, bool) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	return s.decimalToTicks(price, side), true
}

// registerPending records a new in-flight operation. clientID 0 allocates a
// fresh id. A previous entry under the same id is marked superseded and replaced.
func (s *executionState) registerPending(side domain.Side, version uint64, action domain.PendingAction, clientID int64, now time.Time) int64 {
	if clientID == 0 {
		clientID = s.nextClientOrderID(now)
	}
	order := domain.NewPendingOrder(clientID, side, version, action, now)

	switch action.Kind {
	case domain.ActionCreate:
		s.slot(side).RegisterPendingCreate(clientID)
	case domain.ActionCancel:
		s.slot(side).RegisterPendingCancel(clientID)
		s.cancelByOrder[action.OrderIndex] = clientID
	}

	if prev, ok := s.pendingByClient[clientID]; ok {
		prev.Superseded = true
		if prev.Slot != nil {
			delete(s.pendingByNonce, *prev.Slot)
		}
	}
	s.pendingByClient[clientID] = &order
	return clientID
}

// trackSigned associates the nonce of the latest signature with clientID.
func (s *executionState) trackSigned(clientID int64, slot domain.NonceSlot, now time.Time) {
	order, ok := s.pendingByClient[clientID]
	if !ok {
		return
	}
	if order.Slot != nil {
		delete(s.pendingByNonce, *order.Slot)
	}
	if prev, ok := s.pendingByNonce[slot]; ok && prev != clientID {
		slog.Warn("execution: nonce slot reused while still pending",
			"api_key", slot.APIKey, "nonce", slot.Nonce, "previous", prev, "client_id", clientID)
	}
	order.MarkSubmitted(slot, now)
	s.pendingByNonce[slot] = clientID
}

// matchAck resolves an ack to the client id it settles. An ack without an
// api key only matches when its nonce is unambiguous.
func (s *executionState) matchAck(ack domain.TxAck) (domain.NonceSlot, int64, bool) {
	if ack.APIKey != nil {
		slot := domain.NonceSlot{APIKey: *ack.APIKey, Nonce: ack.Nonce}
		clientID, ok := s.pendingByNonce[slot]
		return slot, clientID, ok
	}

	var (
		found    domain.NonceSlot
		clientID int64
		matches  int
	)
	for slot, id := range s.pendingByNonce {
		if slot.Nonce == ack.Nonce {
			found, clientID = slot, id
			matches++
		}
	}
	if matches > 1 {
		slog.Warn("execution: ack nonce matches several api keys, ignoring",
			"nonce", ack.Nonce, "matches", matches)
		return domain.NonceSlot{}, 0, false
	}
	return found, clientID, matches == 1
}

// supersedeCreates flags every in-flight create of side: a newer desired
// price replaces them, so they are not retried if they fail.
func (s *executionState) supersedeCreates(side domain.Side) {
	for _, id := range s.slot(side).PendingCreates {
		if order, ok := s.pendingByClient[id]; ok {
			order.Superseded = true
		}
	}
}

// failureResult describes what recordSubmissionFailure did with an operation.
type failureResult struct {
	order    domain.PendingOrder
	prevSlot *domain.NonceSlot
	retry    bool
}

// recordSubmissionFailure books a failed submission for clientID: the nonce
// association is dropped and attempts, backoff and budget are advanced. When
// budget remains (and a create has not been superseded) the order stays
// pending and retry is true; otherwise it is removed for good.
func (s *executionState) recordSubmissionFailure(clientID int64, now time.Time) (failureResult, bool) {
	order, ok := s.pendingByClient[clientID]
	if !ok {
		return failureResult{}, false
	}
	delete(s.pendingByClient, clientID)

	res := failureResult{prevSlot: order.Slot}
	if order.Slot != nil {
		delete(s.pendingByNonce, *order.Slot)
		order.Slot = nil
	}
	order.RecordAttempt(now)
	res.order = *order

	if order.Exhausted() || (order.Action.IsCreate() && order.Superseded) {
		s.clearPendingSets(order)
		return res, true
	}

	switch order.Action.Kind {
	case domain.ActionCreate:
		s.slot(order.Side).RegisterPendingCreate(clientID)
	case domain.ActionCancel:
		s.slot(order.Side).RegisterPendingCancel(clientID)
		s.cancelByOrder[order.Action.OrderIndex] = clientID
	}
	s.pendingByClient[clientID] = order
	res.retry = true
	return res, true
}

// clearPendingSets removes order from the side sets and the cancel index.
func (s *executionState) clearPendingSets(order *domain.PendingOrder) {
	switch order.Action.Kind {
	case domain.ActionCreate:
		s.slot(order.Side).ClearPendingCreate(order.ClientOrderID)
	case domain.ActionCancel:
		s.slot(order.Side).ClearPendingCancel(order.ClientOrderID)
		if s.cancelByOrder[order.Action.OrderIndex] == order.ClientOrderID {
			delete(s.cancelByOrder, order.Action.OrderIndex)
		}
	}
}

// removePending drops clientID entirely, including its nonce association.
func (s *executionState) removePending(clientID int64) (domain.PendingOrder, bool) {
	order, ok := s.pendingByClient[clientID]
	if !ok {
		return domain.PendingOrder{}, false
	}
	delete(s.pendingByClient, clientID)
	if order.Slot != nil {
		if id, ok := s.pendingByNonce[*order.Slot]; ok && id == clientID {
			delete(s.pendingByNonce, *order.Slot)
		}
	}
	s.clearPendingSets(order)
	return *order, true
}

// hasPendingCancel reports whether a cancel for orderIndex is in flight.
func (s *executionState) hasPendingCancel(orderIndex int64) bool {
	id, ok := s.cancelByOrder[orderIndex]
	if !ok {
		return false
	}
	_, ok = s.pendingByClient[id]
	return ok
}

// pendingCreateAt reports whether an in-flight create of side already targets ticks.
func (s *executionState) pendingCreateAt(side domain.Side, ticks int64) bool {
	for _, id := range s.slot(side).PendingCreates {
		order, ok := s.pendingByClient[id]
		if ok && order.Action.IsCreate() && order.Action.PriceTicks == ticks {
			return true
		}
	}
	return false
}

// markLive records a resting order, keeping both live indexes mirrored.
func (s *executionState) markLive(live domain.LiveOrder) {
	if prev, ok := s.liveByClient[live.ClientOrderID]; ok && prev != live.OrderIndex {
		s.removeLiveByIndex(prev)
	}
	if prev, ok := s.liveByOrder[live.OrderIndex]; ok && prev.ClientOrderID != live.ClientOrderID {
		delete(s.liveByClient, prev.ClientOrderID)
	}
	idx := live.OrderIndex
	s.slot(live.Side).LiveOrderIndex = &idx
	s.liveByOrder[live.OrderIndex] = live
	s.liveByClient[live.ClientOrderID] = live.OrderIndex
}

func (s *executionState) removeLiveByIndex(orderIndex int64) (domain.LiveOrder, bool) {
	live, ok := s.liveByOrder[orderIndex]
	if !ok {
		return domain.LiveOrder{}, false
	}
	delete(s.liveByOrder, orderIndex)
	delete(s.liveByClient, live.ClientOrderID)
	s.clearSideLiveIndex(live.Side, orderIndex)
	return live, true
}

func (s *executionState) removeLiveByClient(clientID int64) (domain.LiveOrder, bool) {
	orderIndex, ok := s.liveByClient[clientID]
	if !ok {
		return domain.LiveOrder{}, false
	}
	return s.removeLiveByIndex(orderIndex)
}

func (s *executionState) clearSideLiveIndex(side domain.Side, orderIndex int64) {
	slot := s.slot(side)
	if slot.LiveOrderIndex != nil && *slot.LiveOrderIndex == orderIndex {
		slot.LiveOrderIndex = nil
	}
}

// liveForSide returns the live order the side slot points at.
func (s *executionState) liveForSide(side domain.Side) (domain.LiveOrder, bool) {
	idx := s.slot(side).LiveOrderIndex
	if idx == nil {
		return domain.LiveOrder{}, false
	}
	live, ok := s.liveByOrder[*idx]
	return live, ok
}

func (s *executionState) recordSubmission(side domain.Side, now time.Time) {
	s.slot(side).LastSubmission = now
}

// refreshThrottled reports whether side was submitted to less than one
// refresh interval ago.
func (s *executionState) refreshThrottled(side domain.Side, now time.Time) bool {
	last := s.slot(side).LastSubmission
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < s.refreshInterval
}

func (s *executionState) ackMode() domain.AckMode {
	if s.fastExecution && s.optimisticAcks {
		return domain.OptimisticAcks(fastModeTimeout)
	}
	return domain.StrictAcks()
}

func (s *executionState) liveCounts() (bids, asks int) {
	for _, live := range s.liveByOrder {
		if live.Side.IsAsk() {
			asks++
		} else {
			bids++
		}
	}
	return bids, asks
}

func (s *executionState) logLiveSummary() {
	if len(s.liveByOrder) == 0 {
		return
	}
	bids, asks := s.liveCounts()
	slog.Debug("execution: live orders", "total", len(s.liveByOrder), "bid", bids, "ask", asks)
}

// snapshot copies the state for use outside the lock.
func (s *executionState) snapshot() Snapshot {
	snap := Snapshot{
		Live:    make([]domain.LiveOrder, 0, len(s.liveByOrder)),
		Pending: make([]domain.PendingOrder, 0, len(s.pendingByClient)),
		Bid:     s.sides[domain.SideBid].Clone(),
		Ask:     s.sides[domain.SideAsk].Clone(),
		Breaker: s.breaker,
	}
	for _, live := range s.liveByOrder {
		snap.Live = append(snap.Live, live)
	}
	for _, p := range s.pendingByClient {
		snap.Pending = append(snap.Pending, *p)
	}
	sort.Slice(snap.Live, func(i, j int) bool { return snap.Live[i].OrderIndex < snap.Live[j].OrderIndex })
	sort.Slice(snap.Pending, func(i, j int) bool { return snap.Pending[i].ClientOrderID < snap.Pending[j].ClientOrderID })
	return snap
}
