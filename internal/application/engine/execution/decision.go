package execution

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/metrics"
)

type decisionCommand struct {
	decision domain.Decision
	at       time.Time
}

func (e *Engine) runDecisions() {
	defer e.inbound.Done()
	for cmd := range e.decisions {
		if d, ok := e.handleDecision(cmd); ok {
			e.publish(d)
		}
	}
}

// handleDecision evaluates the breaker and plans the decision. The breaker
// takes priority: while the live count is over the ceiling the decision's own
// content is ignored.
func (e *Engine) handleDecision(cmd decisionCommand) (domain.Directive, bool) {
	now := e.now()
	at := cmd.at
	if at.IsZero() {
		at = now
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state

	liveCount := len(s.liveByOrder)
	switch s.breaker.Evaluate(liveCount, now) {
	case domain.BreakerCoolingDown:
		slog.Debug("execution: breaker cooling down, decision dropped",
			"live", liveCount,
			"remaining", s.breaker.Remaining(now),
			"decision", cmd.decision.Kind)
		return domain.Directive{}, false

	case domain.BreakerTripped:
		slog.Warn("execution: emergency breaker tripped",
			"live", liveCount,
			"ceiling", domain.MaxSafeLiveOrders,
			"cooldown", s.breaker.Cooldown,
			"trips", s.breaker.Trips)
		metrics.BreakerTrips.Inc()
		metrics.BreakerCooldown.Set(s.breaker.Cooldown.Seconds())
		e.journal.breakerTrip(domain.BreakerTrip{
			LiveCount: liveCount,
			Cooldown:  s.breaker.Cooldown,
			At:        now,
		})
		ops := s.planCancelAll("emergency breaker", at)
		e.updateGaugesLocked()
		return s.newDirective(sourceBreaker, 0, ops)

	case domain.BreakerReset:
		slog.Info("execution: breaker reset", "live", liveCount)
		metrics.BreakerCooldown.Set(s.breaker.Cooldown.Seconds())
	}

	var ops []domain.OrderOperation
	d := cmd.decision
	switch d.Kind {
	case domain.DecisionSkip:
		slog.Debug("execution: skip", "reason", d.Reason)
	case domain.DecisionCancel:
		ops = s.planCancelAll(d.Reason, at)
	case domain.DecisionQuote:
		ops = append(ops, s.planSide(domain.SideBid, d.Bid, at)...)
		ops = append(ops, s.planSide(domain.SideAsk, d.Ask, at)...)
	case domain.DecisionQuoteBidOnly:
		ops = s.planSide(domain.SideBid, d.Bid, at)
	case domain.DecisionQuoteAskOnly:
		ops = s.planSide(domain.SideAsk, d.Ask, at)
	default:
		slog.Warn("execution: unknown decision kind", "kind", d.Kind)
	}

	e.updateGaugesLocked()
	return s.newDirective(sourceDecision, 0, ops)
}

// updateGaugesLocked refreshes the state gauges. Callers hold e.mu.
func (e *Engine) updateGaugesLocked() {
	bids, asks := e.state.liveCounts()
	metrics.LiveOrders.WithLabelValues(domain.SideBid.String()).Set(float64(bids))
	metrics.LiveOrders.WithLabelValues(domain.SideAsk.String()).Set(float64(asks))
	metrics.PendingOrders.Set(float64(len(e.state.pendingByClient)))
}

func directivesMetric(d domain.Directive) {
	metrics.Directives.WithLabelValues(d.Source).Inc()
}
