package domain

import (
	"fmt"
	"strings"
)

// DecisionKind is the tag of a strategy decision.
type DecisionKind int

const (
	DecisionSkip DecisionKind = iota
	DecisionCancel
	DecisionQuote
	DecisionQuoteBidOnly
	DecisionQuoteAskOnly
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionSkip:
		return "skip"
	case DecisionCancel:
		return "cancel"
	case DecisionQuote:
		return "quote"
	case DecisionQuoteBidOnly:
		return "quote_bid"
	case DecisionQuoteAskOnly:
		return "quote_ask"
	default:
		return fmt.Sprintf("decision(%d)", int(k))
	}
}

// ParseDecisionKind accepts the names produced by String.
func ParseDecisionKind(s string) (DecisionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip":
		return DecisionSkip, nil
	case "cancel":
		return DecisionCancel, nil
	case "quote":
		return DecisionQuote, nil
	case "quote_bid", "quote_bid_only":
		return DecisionQuoteBidOnly, nil
	case "quote_ask", "quote_ask_only":
		return DecisionQuoteAskOnly, nil
	}
	return 0, fmt.Errorf("domain.ParseDecisionKind: unknown kind %q", s)
}

// QuoteOrder is a price/size pair requested by the strategy.
type QuoteOrder struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Usable reports whether the quote carries a positive price and size.
func (q QuoteOrder) Usable() bool { return q.Price > 0 && q.Size > 0 }

// Decision is what the strategy wants the book to look like.
type Decision struct {
	Kind   DecisionKind
	Reason string
	Bid    *QuoteOrder
	Ask    *QuoteOrder
}

func Skip(reason string) Decision   { return Decision{Kind: DecisionSkip, Reason: reason} }
func Cancel(reason string) Decision { return Decision{Kind: DecisionCancel, Reason: reason} }

func Quote(bid, ask QuoteOrder) Decision {
	return Decision{Kind: DecisionQuote, Bid: &bid, Ask: &ask}
}

func QuoteBidOnly(bid QuoteOrder) Decision {
	return Decision{Kind: DecisionQuoteBidOnly, Bid: &bid}
}

func QuoteAskOnly(ask QuoteOrder) Decision {
	return Decision{Kind: DecisionQuoteAskOnly, Ask: &ask}
}
