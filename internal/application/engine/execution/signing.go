package execution

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/metrics"
)

func (e *Engine) runSigning() {
	defer e.pipeline.Done()
	defer close(e.signed)
	for d := range e.directives {
		signed, err := e.signDirective(d)
		if err != nil {
			e.dropDirective(d, signed, err)
			continue
		}
		e.signed <- signed
	}
}

// signDirective signs every operation in list order. Nonces are requested one
// at a time so they reach the exchange in the order they were issued. The
// first failure aborts the whole directive; the operations signed so far are
// returned for cleanup.
func (e *Engine) signDirective(d domain.Directive) (domain.SignedDirective, error) {
	out := domain.SignedDirective{
		ID:         d.ID,
		Attempt:    d.Attempt,
		Operations: make([]domain.SignedOperation, 0, len(d.Operations)),
	}
	for _, op := range d.Operations {
		tx, err := e.signOperation(op)
		if err != nil {
			return out, fmt.Errorf("execution.signDirective: directive %d op %d: %w", d.ID, op.ClientOrderID, err)
		}

		e.mu.Lock()
		e.state.trackSigned(op.ClientOrderID, tx.Slot, e.now())
		e.mu.Unlock()

		out.Operations = append(out.Operations, domain.SignedOperation{Operation: op, Tx: tx})
	}
	return out, nil
}

func (e *Engine) signOperation(op domain.OrderOperation) (domain.SignedTx, error) {
	slot, err := e.signer.NextNonce(e.ctx)
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("next nonce: %w", err)
	}

	var tx domain.SignedTx
	switch op.Action.Kind {
	case domain.ActionCancel:
		tx, err = e.signer.SignCancel(e.ctx, domain.CancelRequest{
			Market:     e.cfg.MarketID,
			OrderIndex: op.Action.OrderIndex,
			Slot:       slot,
		})
	default:
		tx, err = e.signer.SignCreate(e.ctx, domain.CreateRequest{
			Market:        e.cfg.MarketID,
			ClientOrderID: op.ClientOrderID,
			BaseAmount:    e.cfg.OrderSize,
			PriceTicks:    op.Action.PriceTicks,
			Side:          op.Side,
			Slot:          slot,
		})
	}
	if err != nil {
		e.signer.AcknowledgeFailure(slot.APIKey)
		return domain.SignedTx{}, fmt.Errorf("sign %s: %w", op.Action.Kind, err)
	}
	tx.Slot = slot
	return tx, nil
}

// dropDirective abandons d after a signing failure. Every operation leaves
// the pending state and the nonces already issued are handed back, newest
// first, since none of them will ever reach the exchange.
func (e *Engine) dropDirective(d domain.Directive, signed domain.SignedDirective, cause error) {
	slog.Error("execution: dropping directive, signing failed",
		"directive", d.ID, "ops", len(d.Operations), "signed", len(signed.Operations), "err", cause)
	metrics.SigningFailures.Inc()

	for i := len(signed.Operations) - 1; i >= 0; i-- {
		e.signer.AcknowledgeFailure(signed.Operations[i].Tx.Slot.APIKey)
	}

	now := e.now()
	e.mu.Lock()
	for _, op := range d.Operations {
		e.state.removePending(op.ClientOrderID)
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	for _, op := range d.Operations {
		metrics.Operations.WithLabelValues(op.Action.Kind.String(), string(domain.OutcomeDropped)).Inc()
		e.journal.outcome(outcomeRecord(d.ID, d.Attempt, op, domain.OutcomeDropped, cause.Error(), now))
	}
}

func outcomeRecord(directiveID uint64, attempt int, op domain.OrderOperation, outcome domain.Outcome, detail string, at time.Time) domain.OutcomeRecord {
	return domain.OutcomeRecord{
		DirectiveID:   directiveID,
		ClientOrderID: op.ClientOrderID,
		Side:          op.Side,
		Action:        op.Action.Kind,
		PriceTicks:    op.Action.PriceTicks,
		OrderIndex:    op.Action.OrderIndex,
		Outcome:       outcome,
		Attempt:       attempt,
		Detail:        detail,
		At:            at,
	}
}
