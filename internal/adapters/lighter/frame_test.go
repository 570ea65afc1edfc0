package lighter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFrame(t *testing.T) {
	tests := []struct {
		frame string
		want  frameKind
	}{
		{`{"type":"connected"}`, frameSkip},
		{`{"type":"subscribed/account_all_orders/42"}`, frameSkip},
		{`{"type":"unsubscribed"}`, frameSkip},
		{`{"type":"pong"}`, frameSkip},
		{`{"type":"update/order_book/7"}`, frameSkip},
		{`{"type":"update/bbo"}`, frameSkip},
		{`{"type":"update/trade"}`, frameSkip},
		{`{"type":"update/account_tx"}`, frameSkip},
		{`{"type":"update/fills"}`, frameSkip},
		{`not json`, frameSkip},
		{`{"type":"error","message":"nope"}`, frameError},
		{`{"error":{"code":1}}`, frameError},
		{`{"code":21120}`, frameError},
		{`{"code":"200"}`, frameError},
		{`{"code":200,"tx_hash":["0x1"]}`, frameResponse},
		{`{"type":"jsonapi/sendtxbatch","code":200}`, frameResponse},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyFrame([]byte(tt.frame)), tt.frame)
	}
}

func TestReconnectDelay(t *testing.T) {
	base := 500 * time.Millisecond
	for attempt, want := range map[int]time.Duration{
		1: 500 * time.Millisecond,
		2: time.Second,
		3: 2 * time.Second,
		20: maxReconnectBackoff,
	} {
		got := reconnectDelay(base, attempt)
		assert.GreaterOrEqual(t, got, time.Duration(float64(want)*0.9), "attempt %d", attempt)
		assert.LessOrEqual(t, got, time.Duration(float64(want)*1.1), "attempt %d", attempt)
	}
}
