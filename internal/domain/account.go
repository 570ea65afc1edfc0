package domain

import "strings"

// OrderStatus is the closed set of account order statuses the engine acts on.
type OrderStatus int

const (
	StatusUnknown OrderStatus = iota
	StatusResting             // open, partial, partially_filled
	StatusFilled
	StatusCancelled
)

// ParseOrderStatus maps the exchange status string. Anything unrecognised is
// StatusUnknown, which carries no information.
func ParseOrderStatus(s string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "partial", "partially_filled":
		return StatusResting
	case "filled":
		return StatusFilled
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// IsTerminal reports whether the order no longer rests on the book.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// OrderSnapshot is one account order record. Nil fields were absent or
// unparseable in the payload.
type OrderSnapshot struct {
	OrderIndex       *int64
	ClientOrderIndex *int64
	MarketIndex      *int64
	Price            *string
	IsAsk            *bool
	Status           OrderStatus
}

// TxStatusSuccess is the ack status for an accepted transaction.
const TxStatusSuccess = 1

// TxAck is the exchange verdict for a signed transaction, keyed by
// (api key, nonce). APIKey is nil when the exchange did not report it.
type TxAck struct {
	APIKey *int
	Nonce  int64
	Status int
	Hash   string
}
