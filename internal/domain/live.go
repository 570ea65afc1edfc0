package domain

import "time"

// Retry bookkeeping for operations that have not been confirmed by the exchange.
const (
	InitialBackoff   = 50 * time.Millisecond
	MaxBackoff       = time.Second
	MaxRetryAttempts = 5
)

// Side is the book side an order rests on.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

// String returns "bid" or "ask".
func (s Side) String() string {
	if s == SideAsk {
		return "ask"
	}
	return "bid"
}

// IsAsk reports whether the side sells.
func (s Side) IsAsk() bool { return s == SideAsk }

// SideFromIsAsk maps the exchange is_ask flag to a Side.
func SideFromIsAsk(isAsk bool) Side {
	if isAsk {
		return SideAsk
	}
	return SideBid
}

// ActionKind distinguishes creates from cancels.
type ActionKind int

const (
	ActionCreate ActionKind = iota + 1
	ActionCancel
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// PendingAction describes what was asked for, never its outcome.
// PriceTicks is set for creates, OrderIndex for cancels.
type PendingAction struct {
	Kind       ActionKind
	PriceTicks int64
	OrderIndex int64
}

// CreateAction builds a create-at-price action.
func CreateAction(priceTicks int64) PendingAction {
	return PendingAction{Kind: ActionCreate, PriceTicks: priceTicks}
}

// CancelAction builds a cancel-by-index action.
func CancelAction(orderIndex int64) PendingAction {
	return PendingAction{Kind: ActionCancel, OrderIndex: orderIndex}
}

func (a PendingAction) IsCreate() bool { return a.Kind == ActionCreate }
func (a PendingAction) IsCancel() bool { return a.Kind == ActionCancel }

// NonceSlot is the (api key, nonce) pair a signed payload was issued with.
type NonceSlot struct {
	APIKey int
	Nonce  int64
}

// PendingOrder is an operation the exchange has not confirmed yet.
type PendingOrder struct {
	ClientOrderID int64
	Side          Side
	Version       uint64
	Action        PendingAction
	CreatedAt     time.Time
	SubmittedAt   *time.Time
	LastAttempt   *time.Time
	Attempts      int
	RetryBudget   int
	Backoff       time.Duration
	Slot          *NonceSlot // set once signed
	Superseded    bool
	Confirmed     bool // create seen resting in a snapshot
}

// NewPendingOrder returns a pending order with a full retry budget.
func NewPendingOrder(clientID int64, side Side, version uint64, action PendingAction, now time.Time) PendingOrder {
	return PendingOrder{
		ClientOrderID: clientID,
		Side:          side,
		Version:       version,
		Action:        action,
		CreatedAt:     now,
		RetryBudget:   MaxRetryAttempts,
		Backoff:       InitialBackoff,
	}
}

// RecordAttempt books one failed submission: attempts up, backoff doubled
// (capped at MaxBackoff) and one unit of budget consumed.
func (p *PendingOrder) RecordAttempt(now time.Time) {
	p.Attempts++
	p.LastAttempt = &now
	p.Backoff *= 2
	if p.Backoff > MaxBackoff {
		p.Backoff = MaxBackoff
	}
	if p.RetryBudget > 0 {
		p.RetryBudget--
	}
}

// MarkSubmitted records the nonce slot used for the latest signature.
func (p *PendingOrder) MarkSubmitted(slot NonceSlot, now time.Time) {
	p.SubmittedAt = &now
	p.Slot = &slot
}

// Exhausted reports whether the retry budget is spent.
func (p *PendingOrder) Exhausted() bool { return p.RetryBudget <= 0 }

// ResetRetries restores a fresh retry budget, used when a create is confirmed
// so that a later cancel of it starts from scratch. The nonce slot is kept so
// the pending ack can still be matched.
func (p *PendingOrder) ResetRetries() {
	p.Attempts = 0
	p.Superseded = false
	p.Backoff = InitialBackoff
	p.RetryBudget = MaxRetryAttempts
}

// LiveOrder is an order the exchange reports as resting. Only the reconciler
// creates these, since only the exchange knows the order index.
type LiveOrder struct {
	OrderIndex    int64
	ClientOrderID int64
	Side          Side
	PriceTicks    int64
}

// SideSlot is the per-side cursor of desired price, live order and in-flight work.
type SideSlot struct {
	LatestVersion    uint64
	DesiredTicks     *int64
	DesiredUpdatedAt time.Time
	LiveOrderIndex   *int64
	PendingCreates   []int64
	PendingCancels   []int64
	LastSubmission   time.Time // zero until the first accepted submission
}

// BumpVersion advances the slot version and returns it.
func (s *SideSlot) BumpVersion() uint64 {
	s.LatestVersion++
	return s.LatestVersion
}

func (s *SideSlot) RegisterPendingCreate(clientID int64) {
	s.PendingCreates = addID(s.PendingCreates, clientID)
}

func (s *SideSlot) RegisterPendingCancel(clientID int64) {
	s.PendingCancels = addID(s.PendingCancels, clientID)
}

func (s *SideSlot) ClearPendingCreate(clientID int64) {
	s.PendingCreates = removeID(s.PendingCreates, clientID)
}

func (s *SideSlot) ClearPendingCancel(clientID int64) {
	s.PendingCancels = removeID(s.PendingCancels, clientID)
}

// Clone returns a deep copy safe to hand out of the state lock.
func (s SideSlot) Clone() SideSlot {
	out := s
	if s.DesiredTicks != nil {
		v := *s.DesiredTicks
		out.DesiredTicks = &v
	}
	if s.LiveOrderIndex != nil {
		v := *s.LiveOrderIndex
		out.LiveOrderIndex = &v
	}
	out.PendingCreates = append([]int64(nil), s.PendingCreates...)
	out.PendingCancels = append([]int64(nil), s.PendingCancels...)
	return out
}

func addID(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
