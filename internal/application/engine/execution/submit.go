package execution

import (
	"errors"
	"log/slog"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/metrics"
)

var errNoTransport = errors.New("execution: no transport")

func (e *Engine) runSubmission() {
	defer e.pipeline.Done()
	for sd := range e.signed {
		e.submitSigned(sd)
	}
}

// submitSigned sends one signed directive as a single batch and routes every
// operation to success or to the retry scheduler.
func (e *Engine) submitSigned(sd domain.SignedDirective) {
	if len(sd.Operations) == 0 {
		return
	}
	if e.cfg.DryRun {
		e.submitDryRun(sd)
		return
	}

	txs := make([]domain.BatchTx, len(sd.Operations))
	for i, op := range sd.Operations {
		txs[i] = domain.BatchTx{Type: op.Tx.Type, Info: op.Tx.Info}
	}

	e.mu.Lock()
	mode := e.state.ackMode()
	e.mu.Unlock()

	// Optimistic mode only covers a missing or late ack, which the transport
	// already reports as success. A send error means nothing left the socket.
	results, err := e.sendBatch(txs, mode)
	if err != nil {
		slog.Error("execution: batch submission failed",
			"directive", sd.ID, "ops", len(txs), "attempt", sd.Attempt,
			"optimistic", mode.Optimistic, "err", err)
		ops := make([]domain.OrderOperation, len(sd.Operations))
		for i, op := range sd.Operations {
			ops[i] = op.Operation
		}
		e.retryFailed(sd.ID, ops, err.Error(), true)
		return
	}
	e.handleBatchResult(sd, results)
}

func (e *Engine) sendBatch(txs []domain.BatchTx, mode domain.AckMode) ([]bool, error) {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()
	if e.transport == nil {
		return nil, errNoTransport
	}
	return e.transport.SendBatch(e.ctx, txs, mode)
}

// handleBatchResult reads results positionally. A missing entry counts as a
// failure.
func (e *Engine) handleBatchResult(sd domain.SignedDirective, results []bool) {
	now := e.now()
	var failed []domain.OrderOperation

	e.mu.Lock()
	for i, op := range sd.Operations {
		if i < len(results) && results[i] {
			e.state.recordSubmission(op.Operation.Side, now)
			continue
		}
		failed = append(failed, op.Operation)
	}
	e.mu.Unlock()

	for i, op := range sd.Operations {
		if i < len(results) && results[i] {
			metrics.Operations.WithLabelValues(op.Operation.Action.Kind.String(), string(domain.OutcomeSubmitted)).Inc()
			e.journal.outcome(outcomeRecord(sd.ID, sd.Attempt, op.Operation, domain.OutcomeSubmitted, "", now))
		}
	}

	slog.Info("execution: batch submitted",
		"directive", sd.ID,
		"ops", len(sd.Operations),
		"ok", len(sd.Operations)-len(failed),
		"failed", len(failed),
		"attempt", sd.Attempt)

	if len(failed) > 0 {
		e.retryFailed(sd.ID, failed, "rejected in batch ack", false)
	}
}

// submitDryRun logs what would have been sent. Nothing stays pending since
// no ack or snapshot will ever confirm it.
func (e *Engine) submitDryRun(sd domain.SignedDirective) {
	now := e.now()
	e.mu.Lock()
	for _, op := range sd.Operations {
		e.state.recordSubmission(op.Operation.Side, now)
		e.state.removePending(op.Operation.ClientOrderID)
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	for _, op := range sd.Operations {
		slog.Info("execution: DRY-RUN",
			"directive", sd.ID,
			"action", op.Operation.Action.Kind,
			"side", op.Operation.Side,
			"client_id", op.Operation.ClientOrderID,
			"ticks", op.Operation.Action.PriceTicks,
			"order_index", op.Operation.Action.OrderIndex,
			"nonce", op.Tx.Slot.Nonce)
		metrics.Operations.WithLabelValues(op.Operation.Action.Kind.String(), string(domain.OutcomeDryRun)).Inc()
		e.journal.outcome(outcomeRecord(sd.ID, sd.Attempt, op.Operation, domain.OutcomeDryRun, "", now))
	}
}
