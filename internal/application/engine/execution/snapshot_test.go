package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

func TestParseOrderSnapshots_Array(t *testing.T) {
	payload := `{"type":"update/account_all_orders","orders":[
		{"order_index":11,"client_order_index":"22","market_index":7,"price":"100.50","is_ask":false,"status":"open"},
		{"order_index":"12","client_order_index":23,"market_index":8,"price":"1.0","is_ask":true,"status":"open"}
	]}`

	recs, err := parseOrderSnapshots([]byte(payload), 7)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	require.NotNil(t, rec.OrderIndex)
	assert.Equal(t, int64(11), *rec.OrderIndex)
	assert.Equal(t, int64(22), *rec.ClientOrderIndex)
	assert.Equal(t, "100.50", *rec.Price)
	assert.False(t, *rec.IsAsk)
	assert.Equal(t, domain.StatusResting, rec.Status)
}

func TestParseOrderSnapshots_KeyedByMarket(t *testing.T) {
	payload := `{"orders":{
		"7":[{"order_index":1,"client_order_index":2,"price":100.5,"is_ask":1,"status":"partially_filled"}],
		"9":[{"order_index":3,"client_order_index":4,"status":"open"}]
	}}`

	recs, err := parseOrderSnapshots([]byte(payload), 7)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, int64(1), *rec.OrderIndex)
	assert.Equal(t, int64(7), *rec.MarketIndex)
	assert.Equal(t, "100.5", *rec.Price)
	assert.True(t, *rec.IsAsk)
	assert.Equal(t, domain.StatusResting, rec.Status)
}

func TestParseOrderSnapshots_KeyedFallbackFiltersByMarket(t *testing.T) {
	payload := `{"orders":{
		"all":[
			{"order_index":1,"client_order_index":2,"market_index":7,"status":"filled"},
			{"order_index":3,"client_order_index":4,"market_index":5,"status":"open"}
		]
	}}`

	recs, err := parseOrderSnapshots([]byte(payload), 7)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StatusFilled, recs[0].Status)
}

func TestParseOrderSnapshots_BareArrayAndMissingFields(t *testing.T) {
	payload := `[{"order_index":1,"status":"weird"},{"client_order_index":"x"}]`

	recs, err := parseOrderSnapshots([]byte(payload), 7)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, domain.StatusUnknown, recs[0].Status)
	assert.Nil(t, recs[0].ClientOrderIndex)
	assert.Nil(t, recs[1].OrderIndex)
	assert.Nil(t, recs[1].ClientOrderIndex)
}

func TestParseOrderSnapshots_NoOrders(t *testing.T) {
	recs, err := parseOrderSnapshots([]byte(`{"type":"connected"}`), 7)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = parseOrderSnapshots(nil, 7)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestParseOrderSnapshots_Malformed(t *testing.T) {
	_, err := parseOrderSnapshots([]byte(`{"orders":[`), 7)
	assert.Error(t, err)

	_, err = parseOrderSnapshots([]byte(`"hello"`), 7)
	assert.Error(t, err)
}
