package execution

import (
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/metrics"
)

func (e *Engine) runAcks() {
	defer e.inbound.Done()
	for batch := range e.acks {
		e.processAcks(batch)
	}
}

// processAcks matches transaction acks to pending operations by (api key, nonce).
// Accepted operations leave the pending state. Rejected creates go through
// the retry scheduler; rejected cancels are dropped and left to the breaker.
func (e *Engine) processAcks(acks []domain.TxAck) {
	now := e.now()

	type rejectedCreate struct {
		op     domain.OrderOperation
		status int
	}
	var (
		records []domain.OutcomeRecord
		retry   []rejectedCreate
	)

	e.mu.Lock()
	for _, ack := range acks {
		slot, clientID, ok := e.state.matchAck(ack)
		if !ok {
			slog.Debug("execution: ack for unknown nonce", "nonce", ack.Nonce, "status", ack.Status)
			continue
		}
		p, ok := e.state.pendingByClient[clientID]
		if !ok {
			delete(e.state.pendingByNonce, slot)
			continue
		}
		op := domain.OrderOperation{Side: p.Side, ClientOrderID: p.ClientOrderID, Action: p.Action}

		switch {
		case ack.Status == domain.TxStatusSuccess:
			e.state.removePending(p.ClientOrderID)
			records = append(records, outcomeRecord(0, p.Attempts, op, domain.OutcomeAccepted, ack.Hash, now))

		case p.Action.IsCancel():
			slog.Warn("execution: cancel rejected by exchange, not retrying",
				"client_id", p.ClientOrderID,
				"order_index", p.Action.OrderIndex,
				"nonce", ack.Nonce,
				"status", ack.Status)
			e.state.removePending(p.ClientOrderID)
			records = append(records, outcomeRecord(0, p.Attempts, op, domain.OutcomeRejected,
				fmt.Sprintf("tx status %d", ack.Status), now))

		default:
			retry = append(retry, rejectedCreate{op: op, status: ack.Status})
		}
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	for _, rec := range records {
		metrics.Operations.WithLabelValues(rec.Action.String(), string(rec.Outcome)).Inc()
		e.journal.outcome(rec)
	}

	for _, r := range retry {
		slog.Warn("execution: create rejected by exchange",
			"client_id", r.op.ClientOrderID, "side", r.op.Side, "status", r.status)
		e.retryFailed(0, []domain.OrderOperation{r.op}, fmt.Sprintf("tx status %d", r.status), false)
	}
}
