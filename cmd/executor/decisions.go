package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// decisionLine is one JSON line of the decision feed:
//
//	{"kind":"quote","reason":"mid moved","bid":{"price":99.9,"size":1},"ask":{"price":100.1,"size":1}}
type decisionLine struct {
	Kind   string             `json:"kind"`
	Reason string             `json:"reason"`
	Bid    *domain.QuoteOrder `json:"bid"`
	Ask    *domain.QuoteOrder `json:"ask"`
}

func (l decisionLine) decision() (domain.Decision, error) {
	kind, err := domain.ParseDecisionKind(l.Kind)
	if err != nil {
		return domain.Decision{}, err
	}
	d := domain.Decision{Kind: kind, Reason: l.Reason, Bid: l.Bid, Ask: l.Ask}
	switch kind {
	case domain.DecisionQuote:
		if l.Bid == nil || l.Ask == nil {
			return d, fmt.Errorf("quote needs bid and ask")
		}
	case domain.DecisionQuoteBidOnly:
		if l.Bid == nil {
			return d, fmt.Errorf("quote_bid needs bid")
		}
		d.Ask = nil
	case domain.DecisionQuoteAskOnly:
		if l.Ask == nil {
			return d, fmt.Errorf("quote_ask needs ask")
		}
		d.Bid = nil
	}
	return d, nil
}

// feedDecisions reads JSON lines from r and hands each decision to handle.
// Blank lines and lines starting with '#' are ignored; malformed lines are
// logged and skipped. It stops at EOF, on ctx cancellation, or on the first
// handler error.
func feedDecisions(ctx context.Context, r io.Reader, handle func(domain.Decision) error) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	fed, lineNo := 0, 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return fed, nil
		}
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var dl decisionLine
		if err := json.Unmarshal([]byte(line), &dl); err != nil {
			slog.Warn("decisions: malformed line", "line", lineNo, "err", err)
			continue
		}
		d, err := dl.decision()
		if err != nil {
			slog.Warn("decisions: invalid decision", "line", lineNo, "err", err)
			continue
		}
		if err := handle(d); err != nil {
			if errors.Is(err, context.Canceled) {
				return fed, nil
			}
			return fed, fmt.Errorf("feedDecisions: line %d: %w", lineNo, err)
		}
		fed++
	}
	if err := sc.Err(); err != nil {
		return fed, fmt.Errorf("feedDecisions: read: %w", err)
	}
	return fed, nil
}
