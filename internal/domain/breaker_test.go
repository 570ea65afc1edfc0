package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var breakerT0 = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func TestEmergencyBreaker_HealthyStaysNormal(t *testing.T) {
	b := NewEmergencyBreaker()

	assert.Equal(t, BreakerHealthy, b.Evaluate(MaxSafeLiveOrders, breakerT0))
	assert.False(t, b.Tripped())
	assert.Equal(t, EmergencyCooldownMin, b.Cooldown)
}

func TestEmergencyBreaker_CooldownEscalation(t *testing.T) {
	b := NewEmergencyBreaker()
	now := breakerT0
	over := MaxSafeLiveOrders + 1

	assert.Equal(t, BreakerTripped, b.Evaluate(over, now))
	assert.Equal(t, EmergencyCooldownMin, b.Cooldown)

	// Still inside the cooldown: no second trip.
	assert.Equal(t, BreakerCoolingDown, b.Evaluate(over, now.Add(time.Second)))
	assert.Equal(t, 1, b.Trips)

	now = now.Add(EmergencyCooldownMin)
	assert.Equal(t, BreakerTripped, b.Evaluate(over, now))
	assert.Equal(t, 2*EmergencyCooldownMin, b.Cooldown)

	want := []time.Duration{20 * time.Second, 40 * time.Second, EmergencyCooldownMax, EmergencyCooldownMax}
	for _, w := range want {
		now = now.Add(b.Cooldown)
		assert.Equal(t, BreakerTripped, b.Evaluate(over, now))
		assert.Equal(t, w, b.Cooldown)
	}

	assert.Equal(t, BreakerReset, b.Evaluate(0, now.Add(time.Millisecond)))
	assert.Equal(t, EmergencyCooldownMin, b.Cooldown)
	assert.False(t, b.Tripped())
	assert.Equal(t, BreakerHealthy, b.Evaluate(0, now.Add(2*time.Millisecond)))
}

func TestEmergencyBreaker_Remaining(t *testing.T) {
	b := NewEmergencyBreaker()
	assert.Zero(t, b.Remaining(breakerT0))

	b.Evaluate(MaxSafeLiveOrders+1, breakerT0)
	assert.Equal(t, 3*time.Second, b.Remaining(breakerT0.Add(2*time.Second)))
	assert.Zero(t, b.Remaining(breakerT0.Add(time.Minute)))
}

func TestPendingOrder_RecordAttempt(t *testing.T) {
	p := NewPendingOrder(1, SideBid, 1, CreateAction(10050), breakerT0)

	p.RecordAttempt(breakerT0)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, 100*time.Millisecond, p.Backoff)
	assert.Equal(t, MaxRetryAttempts-1, p.RetryBudget)
	assert.False(t, p.Exhausted())

	p.MarkSubmitted(NonceSlot{APIKey: 2, Nonce: 9}, breakerT0)
	p.Superseded = true
	p.ResetRetries()
	assert.Zero(t, p.Attempts)
	assert.Equal(t, InitialBackoff, p.Backoff)
	assert.Equal(t, MaxRetryAttempts, p.RetryBudget)
	assert.False(t, p.Superseded)
	assert.NotNil(t, p.Slot)
}

func TestSideSlot_CloneIsDeep(t *testing.T) {
	ticks, idx := int64(10050), int64(4)
	s := SideSlot{DesiredTicks: &ticks, LiveOrderIndex: &idx, PendingCreates: []int64{1, 2}}

	c := s.Clone()
	*c.DesiredTicks = 1
	c.PendingCreates[0] = 99

	assert.Equal(t, int64(10050), *s.DesiredTicks)
	assert.Equal(t, int64(1), s.PendingCreates[0])
}

func TestParseOrderStatus(t *testing.T) {
	tests := map[string]OrderStatus{
		"open":             StatusResting,
		"partial":          StatusResting,
		"partially_filled": StatusResting,
		"filled":           StatusFilled,
		"cancelled":        StatusCancelled,
		"canceled":         StatusCancelled,
		"pending":          StatusUnknown,
		"":                 StatusUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseOrderStatus(in), in)
	}
}

func TestParseDecisionKind(t *testing.T) {
	for _, k := range []DecisionKind{DecisionSkip, DecisionCancel, DecisionQuote, DecisionQuoteBidOnly, DecisionQuoteAskOnly} {
		got, err := ParseDecisionKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseDecisionKind("hedge")
	assert.Error(t, err)
}
