package execution

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/metrics"
)

// retryFailed books a failure for every op and schedules the survivors as one
// retry directive after the largest of their backoffs. releaseNonces hands
// the used nonces back to the signer, which is only correct when the
// exchange never saw the batch.
func (e *Engine) retryFailed(directiveID uint64, ops []domain.OrderOperation, detail string, releaseNonces bool) {
	now := e.now()

	var (
		retry    []domain.OrderOperation
		released []int
		records  []domain.OutcomeRecord
		attempt  int
		delay    time.Duration
	)

	e.mu.Lock()
	for _, op := range ops {
		res, ok := e.state.recordSubmissionFailure(op.ClientOrderID, now)
		if !ok {
			continue
		}
		if releaseNonces && res.prevSlot != nil {
			released = append(released, res.prevSlot.APIKey)
		}

		if res.retry {
			retry = append(retry, op)
			attempt = max(attempt, res.order.Attempts)
			delay = max(delay, res.order.Backoff)
			records = append(records, outcomeRecord(directiveID, res.order.Attempts, op, domain.OutcomeFailed, detail, now))
			continue
		}

		reason := "retry budget exhausted"
		if res.order.Action.IsCreate() && res.order.Superseded && !res.order.Exhausted() {
			reason = "superseded by a newer quote"
		} else {
			metrics.RetryExhausted.WithLabelValues(op.Action.Kind.String()).Inc()
		}
		slog.Warn("execution: abandoning operation",
			"client_id", op.ClientOrderID,
			"action", op.Action.Kind,
			"side", op.Side,
			"attempts", res.order.Attempts,
			"reason", reason)
		records = append(records, outcomeRecord(directiveID, res.order.Attempts, op, domain.OutcomeExhausted, reason, now))
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	for i := len(released) - 1; i >= 0; i-- {
		e.signer.AcknowledgeFailure(released[i])
	}
	for _, rec := range records {
		metrics.Operations.WithLabelValues(rec.Action.String(), string(rec.Outcome)).Inc()
		e.journal.outcome(rec)
	}

	if len(retry) == 0 {
		return
	}
	slog.Info("execution: scheduling retry",
		"directive", directiveID, "ops", len(retry), "attempt", attempt, "delay", delay)
	e.scheduleRetry(retry, attempt, delay)
}

// scheduleRetry re-injects ops as a new directive once delay elapses. The
// wait runs on its own goroutine so the pipeline never blocks on it.
func (e *Engine) scheduleRetry(ops []domain.OrderOperation, attempt int, delay time.Duration) {
	e.retryMu.Lock()
	if e.retriesStopped {
		e.retryMu.Unlock()
		slog.Debug("execution: retry discarded, engine closing", "ops", len(ops))
		return
	}
	e.retryWG.Add(1)
	e.retryMu.Unlock()

	go func() {
		defer e.retryWG.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-e.stopRetries:
			return
		}

		d, ok := e.retryDirective(ops, attempt)
		if !ok {
			return
		}
		e.journal.directive(d, e.now())
		select {
		case e.directives <- d:
			directivesMetric(d)
		case <-e.stopRetries:
		}
	}()
}

// retryDirective rebuilds the directive from the ops that are still worth
// sending: confirmed or cancelled work has left the pending map meanwhile, and
// creates replaced by a newer quote are dropped here.
func (e *Engine) retryDirective(ops []domain.OrderOperation, attempt int) (domain.Directive, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	live := ops[:0:0]
	for _, op := range ops {
		p, ok := e.state.pendingByClient[op.ClientOrderID]
		if !ok {
			continue
		}
		if p.Action.IsCreate() && (p.Superseded || p.Confirmed) {
			if p.Superseded {
				e.state.removePending(op.ClientOrderID)
			}
			continue
		}
		live = append(live, op)
	}
	e.updateGaugesLocked()
	return e.state.newDirective(sourceRetry, attempt, live)
}

func (e *Engine) stopRetryScheduler() {
	e.retryMu.Lock()
	if !e.retriesStopped {
		e.retriesStopped = true
		close(e.stopRetries)
	}
	e.retryMu.Unlock()
	e.retryWG.Wait()
}
