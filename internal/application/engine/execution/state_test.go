package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MarketID:              7,
		OrderSize:             1000,
		TickSize:              0.01,
		RefreshInterval:       500 * time.Millisecond,
		RefreshToleranceTicks: 2,
	}
}

func newTestState() *executionState {
	return newExecutionState(testConfig())
}

func TestNewExecutionState_ClampsConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshInterval = 0
	cfg.RefreshToleranceTicks = -3

	s := newExecutionState(cfg)
	assert.Equal(t, minRefreshInterval, s.refreshInterval)
	assert.Equal(t, int64(0), s.refreshToleranceTicks)
}

func TestToTicks(t *testing.T) {
	s := newTestState()

	tests := []struct {
		name  string
		price float64
		side  domain.Side
		want  int64
	}{
		{"exact bid", 100.51, domain.SideBid, 10051},
		{"exact ask", 100.51, domain.SideAsk, 10051},
		{"bid rounds down", 100.519, domain.SideBid, 10051},
		{"ask rounds up", 100.511, domain.SideAsk, 10052},
		{"tiny price floors to one tick", 0.001, domain.SideBid, 1},
		{"zero price", 0, domain.SideAsk, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.toTicks(tt.price, tt.side))
		})
	}
}

func TestParsePriceTicks(t *testing.T) {
	s := newTestState()

	ticks, ok := s.parsePriceTicks("100.56", domain.SideBid)
	require.True(t, ok)
	assert.Equal(t, int64(10056), ticks)

	_, ok = s.parsePriceTicks("n/a", domain.SideBid)
	assert.False(t, ok)
}

func TestNextClientOrderID_StrictlyIncreasing(t *testing.T) {
	s := newTestState()

	first := s.nextClientOrderID(t0)
	assert.Equal(t, t0.UnixMilli()<<4, first)

	prev := first
	for i := 0; i < 50; i++ {
		id := s.nextClientOrderID(t0)
		assert.Greater(t, id, prev)
		prev = id
	}

	// A clock step backwards never reuses an id.
	id := s.nextClientOrderID(t0.Add(-time.Second))
	assert.Greater(t, id, prev)
}

func TestRegisterPending_IndexesCancelByOrder(t *testing.T) {
	s := newTestState()

	id := s.registerPending(domain.SideAsk, 0, domain.CancelAction(99), 0, t0)

	assert.True(t, s.hasPendingCancel(99))
	assert.Equal(t, []int64{id}, s.slot(domain.SideAsk).PendingCancels)

	_, ok := s.removePending(id)
	require.True(t, ok)
	assert.False(t, s.hasPendingCancel(99))
	assert.Empty(t, s.slot(domain.SideAsk).PendingCancels)
}

func TestTrackSigned_ReplacesNonce(t *testing.T) {
	s := newTestState()
	id := s.registerPending(domain.SideBid, 1, domain.CreateAction(10050), 0, t0)

	s.trackSigned(id, domain.NonceSlot{APIKey: 2, Nonce: 40}, t0)
	s.trackSigned(id, domain.NonceSlot{APIKey: 3, Nonce: 41}, t0)

	assert.NotContains(t, s.pendingByNonce, domain.NonceSlot{APIKey: 2, Nonce: 40})
	require.Contains(t, s.pendingByNonce, domain.NonceSlot{APIKey: 3, Nonce: 41})
	assert.Equal(t, id, s.pendingByNonce[domain.NonceSlot{APIKey: 3, Nonce: 41}])
}

func TestTrackSigned_SameNonceOnTwoKeys(t *testing.T) {
	s := newTestState()
	bid := s.registerPending(domain.SideBid, 1, domain.CreateAction(10050), 0, t0)
	ask := s.registerPending(domain.SideAsk, 1, domain.CreateAction(10060), 0, t0)

	s.trackSigned(bid, domain.NonceSlot{APIKey: 0, Nonce: 7}, t0)
	s.trackSigned(ask, domain.NonceSlot{APIKey: 1, Nonce: 7}, t0)
	require.Len(t, s.pendingByNonce, 2)

	key0, key1 := 0, 1
	_, got, ok := s.matchAck(domain.TxAck{APIKey: &key0, Nonce: 7})
	require.True(t, ok)
	assert.Equal(t, bid, got)

	_, got, ok = s.matchAck(domain.TxAck{APIKey: &key1, Nonce: 7})
	require.True(t, ok)
	assert.Equal(t, ask, got)

	// Without an api key the nonce is ambiguous.
	_, _, ok = s.matchAck(domain.TxAck{Nonce: 7})
	assert.False(t, ok)

	_, ok = s.removePending(bid)
	require.True(t, ok)
	slot, got, ok := s.matchAck(domain.TxAck{Nonce: 7})
	require.True(t, ok)
	assert.Equal(t, ask, got)
	assert.Equal(t, domain.NonceSlot{APIKey: 1, Nonce: 7}, slot)
}

func TestRecordSubmissionFailure_BackoffDoubling(t *testing.T) {
	s := newTestState()
	id := s.registerPending(domain.SideBid, 1, domain.CreateAction(10050), 0, t0)
	s.trackSigned(id, domain.NonceSlot{APIKey: 1, Nonce: 7}, t0)

	res, ok := s.recordSubmissionFailure(id, t0.Add(time.Millisecond))
	require.True(t, ok)

	assert.True(t, res.retry)
	assert.Equal(t, 1, res.order.Attempts)
	assert.Equal(t, 100*time.Millisecond, res.order.Backoff)
	assert.Equal(t, domain.MaxRetryAttempts-1, res.order.RetryBudget)
	require.NotNil(t, res.prevSlot)
	assert.Equal(t, int64(7), res.prevSlot.Nonce)

	// Still pending, same id, nonce released.
	assert.Contains(t, s.pendingByClient, id)
	assert.NotContains(t, s.pendingByNonce, domain.NonceSlot{APIKey: 1, Nonce: 7})
	assert.Equal(t, []int64{id}, s.slot(domain.SideBid).PendingCreates)
}

func TestRecordSubmissionFailure_ExhaustsAfterMaxAttempts(t *testing.T) {
	s := newTestState()
	id := s.registerPending(domain.SideBid, 1, domain.CreateAction(10050), 0, t0)

	backoffs := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, want := range backoffs {
		res, ok := s.recordSubmissionFailure(id, t0)
		require.True(t, ok)
		assert.True(t, res.retry, "attempt %d", i+1)
		assert.Equal(t, want, res.order.Backoff)
	}

	res, ok := s.recordSubmissionFailure(id, t0)
	require.True(t, ok)
	assert.False(t, res.retry)
	assert.Equal(t, domain.MaxRetryAttempts, res.order.Attempts)
	assert.Equal(t, domain.MaxBackoff, res.order.Backoff)
	assert.True(t, res.order.Exhausted())

	assert.NotContains(t, s.pendingByClient, id)
	assert.Empty(t, s.slot(domain.SideBid).PendingCreates)

	_, ok = s.recordSubmissionFailure(id, t0)
	assert.False(t, ok, "an exhausted id is gone for good")
}

func TestRecordSubmissionFailure_SupersededCreateNotRetried(t *testing.T) {
	s := newTestState()
	id := s.registerPending(domain.SideAsk, 1, domain.CreateAction(10060), 0, t0)
	s.supersedeCreates(domain.SideAsk)

	res, ok := s.recordSubmissionFailure(id, t0)
	require.True(t, ok)
	assert.False(t, res.retry)
	assert.NotContains(t, s.pendingByClient, id)
}

func TestRecordSubmissionFailure_CancelStaysIndexed(t *testing.T) {
	s := newTestState()
	id := s.registerPending(domain.SideBid, 0, domain.CancelAction(55), 0, t0)

	res, ok := s.recordSubmissionFailure(id, t0)
	require.True(t, ok)
	assert.True(t, res.retry)
	assert.True(t, s.hasPendingCancel(55))
}

func TestMarkLive_KeepsIndexesMirrored(t *testing.T) {
	s := newTestState()

	s.markLive(domain.LiveOrder{OrderIndex: 1, ClientOrderID: 100, Side: domain.SideBid, PriceTicks: 10050})
	s.markLive(domain.LiveOrder{OrderIndex: 2, ClientOrderID: 200, Side: domain.SideAsk, PriceTicks: 10060})
	// Same client id re-reported under a new order index.
	s.markLive(domain.LiveOrder{OrderIndex: 3, ClientOrderID: 100, Side: domain.SideBid, PriceTicks: 10049})

	assertMirrored(t, s)
	assert.Len(t, s.liveByOrder, 2)
	assert.NotContains(t, s.liveByOrder, int64(1))
	require.NotNil(t, s.slot(domain.SideBid).LiveOrderIndex)
	assert.Equal(t, int64(3), *s.slot(domain.SideBid).LiveOrderIndex)

	_, ok := s.removeLiveByClient(200)
	require.True(t, ok)
	assertMirrored(t, s)
	assert.Nil(t, s.slot(domain.SideAsk).LiveOrderIndex)
}

func TestRefreshThrottled(t *testing.T) {
	s := newTestState()
	assert.False(t, s.refreshThrottled(domain.SideBid, t0), "never submitted")

	s.recordSubmission(domain.SideBid, t0)
	assert.True(t, s.refreshThrottled(domain.SideBid, t0.Add(100*time.Millisecond)))
	assert.False(t, s.refreshThrottled(domain.SideBid, t0.Add(500*time.Millisecond)))
	assert.False(t, s.refreshThrottled(domain.SideAsk, t0))
}

func TestAckMode(t *testing.T) {
	cfg := testConfig()
	assert.False(t, newExecutionState(cfg).ackMode().Optimistic)

	cfg.FastExecution = true
	assert.False(t, newExecutionState(cfg).ackMode().Optimistic, "fast mode alone stays strict")

	cfg.OptimisticAcks = true
	mode := newExecutionState(cfg).ackMode()
	assert.True(t, mode.Optimistic)
	assert.Equal(t, fastModeTimeout, mode.Wait)
}

func assertMirrored(t *testing.T, s *executionState) {
	t.Helper()
	require.Len(t, s.liveByClient, len(s.liveByOrder))
	for idx, live := range s.liveByOrder {
		got, ok := s.liveByClient[live.ClientOrderID]
		require.True(t, ok, "client %d missing", live.ClientOrderID)
		assert.Equal(t, idx, got)
	}
}
