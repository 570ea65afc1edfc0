package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// stateWithLiveBid returns a state with a bid resting at 10050 that was
// submitted at t0.
func stateWithLiveBid() *executionState {
	s := newTestState()
	s.markLive(domain.LiveOrder{OrderIndex: 501, ClientOrderID: 9001, Side: domain.SideBid, PriceTicks: 10050})
	s.recordSubmission(domain.SideBid, t0)
	return s
}

func TestPlanSide_CreateOnEmptySide(t *testing.T) {
	s := newTestState()

	ops := s.planSide(domain.SideBid, &domain.QuoteOrder{Price: 100.50, Size: 1}, t0)

	require.Len(t, ops, 1)
	op := ops[0]
	assert.Equal(t, domain.SideBid, op.Side)
	assert.True(t, op.Action.IsCreate())
	assert.Equal(t, int64(10050), op.Action.PriceTicks)

	slot := s.slot(domain.SideBid)
	assert.Equal(t, uint64(1), slot.LatestVersion)
	assert.Equal(t, []int64{op.ClientOrderID}, slot.PendingCreates)
	require.NotNil(t, slot.DesiredTicks)
	assert.Equal(t, int64(10050), *slot.DesiredTicks)
}

func TestPlanSide_ThrottledWithinTolerance(t *testing.T) {
	s := stateWithLiveBid()

	ops := s.planSide(domain.SideBid, &domain.QuoteOrder{Price: 100.51, Size: 1}, t0.Add(50*time.Millisecond))

	assert.Empty(t, ops)
	assert.Empty(t, s.pendingByClient)
	require.NotNil(t, s.slot(domain.SideBid).DesiredTicks)
	assert.Equal(t, int64(10051), *s.slot(domain.SideBid).DesiredTicks)
}

func TestPlanSide_ThrottlingIdempotence(t *testing.T) {
	s := stateWithLiveBid()

	for offset := int64(-2); offset <= 2; offset++ {
		price := float64(10050+offset) / 100
		ops := s.planSide(domain.SideBid, &domain.QuoteOrder{Price: price, Size: 1}, t0.Add(10*time.Millisecond))
		assert.Empty(t, ops, "offset %d", offset)
	}
	assert.Empty(t, s.pendingByClient)
}

func TestPlanSide_RequoteOutsideTolerance(t *testing.T) {
	s := stateWithLiveBid()

	ops := s.planSide(domain.SideBid, &domain.QuoteOrder{Price: 100.56, Size: 1}, t0.Add(50*time.Millisecond))

	require.Len(t, ops, 2)
	assert.Equal(t, domain.SideBid, ops[0].Side)
	assert.True(t, ops[0].Action.IsCancel())
	assert.Equal(t, int64(501), ops[0].Action.OrderIndex)
	assert.NotEqual(t, int64(9001), ops[0].ClientOrderID, "cancels carry a fresh client id")

	assert.Equal(t, domain.SideBid, ops[1].Side)
	assert.True(t, ops[1].Action.IsCreate())
	assert.Equal(t, int64(10056), ops[1].Action.PriceTicks)

	assert.True(t, s.hasPendingCancel(501))
}

func TestPlanSide_RefreshAfterIntervalWithinTolerance(t *testing.T) {
	s := stateWithLiveBid()

	ops := s.planSide(domain.SideBid, &domain.QuoteOrder{Price: 100.51, Size: 1}, t0.Add(time.Second))

	require.Len(t, ops, 2)
	assert.True(t, ops[0].Action.IsCancel())
	assert.Equal(t, int64(10051), ops[1].Action.PriceTicks)
}

func TestPlanSide_DuplicateCreateSuppressed(t *testing.T) {
	s := newTestState()
	quote := &domain.QuoteOrder{Price: 100.60, Size: 1}

	first := s.planSide(domain.SideAsk, quote, t0)
	require.Len(t, first, 1)

	second := s.planSide(domain.SideAsk, quote, t0.Add(time.Millisecond))
	assert.Empty(t, second)
	assert.Len(t, s.slot(domain.SideAsk).PendingCreates, 1)
}

func TestPlanSide_NewPriceSupersedesPendingCreate(t *testing.T) {
	s := newTestState()

	first := s.planSide(domain.SideAsk, &domain.QuoteOrder{Price: 100.60, Size: 1}, t0)
	require.Len(t, first, 1)
	second := s.planSide(domain.SideAsk, &domain.QuoteOrder{Price: 100.70, Size: 1}, t0.Add(time.Millisecond))
	require.Len(t, second, 1)

	assert.True(t, s.pendingByClient[first[0].ClientOrderID].Superseded)
	assert.False(t, s.pendingByClient[second[0].ClientOrderID].Superseded)
	assert.Equal(t, uint64(2), s.slot(domain.SideAsk).LatestVersion)
}

func TestPlanSide_NoQuoteCancelsLiveOnly(t *testing.T) {
	s := stateWithLiveBid()

	ops := s.planSide(domain.SideBid, nil, t0.Add(time.Millisecond))

	require.Len(t, ops, 1)
	assert.True(t, ops[0].Action.IsCancel())
	assert.Nil(t, s.slot(domain.SideBid).DesiredTicks)

	again := s.planSide(domain.SideBid, nil, t0.Add(2*time.Millisecond))
	assert.Empty(t, again, "cancel already pending")
}

func TestPlanSide_UnusableQuote(t *testing.T) {
	s := stateWithLiveBid()

	ops := s.planSide(domain.SideBid, &domain.QuoteOrder{Price: 100.56, Size: 0}, t0.Add(time.Second))

	assert.Empty(t, ops)
	assert.Nil(t, s.slot(domain.SideBid).DesiredTicks)
}

func TestPlanCancelAll_SkipsPendingCancels(t *testing.T) {
	s := newTestState()
	for i := int64(1); i <= 3; i++ {
		s.markLive(domain.LiveOrder{OrderIndex: i, ClientOrderID: 100 + i, Side: domain.SideAsk, PriceTicks: 10060 + i})
	}
	s.registerPending(domain.SideAsk, 0, domain.CancelAction(2), 0, t0)

	ops := s.planCancelAll("test", t0)

	require.Len(t, ops, 2)
	assert.Equal(t, int64(1), ops[0].Action.OrderIndex)
	assert.Equal(t, int64(3), ops[1].Action.OrderIndex)
	for _, op := range ops {
		assert.True(t, op.Action.IsCancel())
	}

	assert.Empty(t, s.planCancelAll("again", t0))
}
