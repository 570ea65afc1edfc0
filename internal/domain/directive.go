package domain

import "time"

// TxType is the exchange transaction type code.
type TxType uint8

const (
	TxTypeCreateOrder TxType = 14
	TxTypeCancelOrder TxType = 15
)

// TxTypeFor maps an action to its wire code.
func TxTypeFor(kind ActionKind) TxType {
	if kind == ActionCancel {
		return TxTypeCancelOrder
	}
	return TxTypeCreateOrder
}

// OrderOperation is one planned create or cancel.
type OrderOperation struct {
	Side          Side
	ClientOrderID int64
	Action        PendingAction
}

// Directive is one batch of operations produced by a single planning pass
// (or by the retry scheduler).
type Directive struct {
	ID         uint64
	Attempt    int
	Source     string // decision | breaker | retry
	Operations []OrderOperation
}

// Counts returns how many creates and cancels the directive carries.
func (d Directive) Counts() (creates, cancels int) {
	for _, op := range d.Operations {
		if op.Action.IsCancel() {
			cancels++
		} else {
			creates++
		}
	}
	return creates, cancels
}

// CreateRequest carries everything the signer needs for a limit post-only order.
type CreateRequest struct {
	Market        int64
	ClientOrderID int64
	BaseAmount    int64
	PriceTicks    int64
	Side          Side
	Slot          NonceSlot
}

// CancelRequest carries everything the signer needs to cancel by order index.
type CancelRequest struct {
	Market     int64
	OrderIndex int64
	Slot       NonceSlot
}

// SignedTx is an opaque signed payload ready for the transport.
type SignedTx struct {
	Type TxType
	Info string
	Slot NonceSlot
}

// SignedOperation pairs a planned operation with its signed payload.
type SignedOperation struct {
	Operation OrderOperation
	Tx        SignedTx
}

// SignedDirective is a directive whose operations were all signed, in order.
type SignedDirective struct {
	ID         uint64
	Attempt    int
	Operations []SignedOperation
}

// BatchTx is one entry of a transport batch.
type BatchTx struct {
	Type TxType
	Info string
}

// AckMode selects how long the transport waits for an authoritative ack.
type AckMode struct {
	Optimistic bool
	Wait       time.Duration // only used when Optimistic
}

// StrictAcks waits for the exchange verdict on every chunk.
func StrictAcks() AckMode { return AckMode{} }

// OptimisticAcks waits at most wait and assumes success afterwards.
func OptimisticAcks(wait time.Duration) AckMode {
	return AckMode{Optimistic: true, Wait: wait}
}

func (m AckMode) String() string {
	if m.Optimistic {
		return "optimistic"
	}
	return "strict"
}
