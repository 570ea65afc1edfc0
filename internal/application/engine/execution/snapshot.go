package execution

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// parseOrderSnapshots extracts the order records of market from an account
// orders payload. It accepts a bare array, {"orders": [...]} and
// {"orders": {"<market>": [...]}}. When the keyed form has no entry for
// market, every array is scanned and records are filtered by market_index.
// Records of other markets are dropped; records without market_index are
// assumed to belong to market.
func parseOrderSnapshots(payload []byte, market int64) ([]domain.OrderSnapshot, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}

	var raw []map[string]json.RawMessage
	switch payload[0] {
	case '[':
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("execution.parseOrderSnapshots: array: %w", err)
		}
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil, fmt.Errorf("execution.parseOrderSnapshots: object: %w", err)
		}
		orders, ok := envelope["orders"]
		if !ok {
			return nil, nil
		}
		var err error
		raw, err = decodeOrders(orders, market)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("execution.parseOrderSnapshots: unexpected payload %q", truncate(payload, 32))
	}

	out := make([]domain.OrderSnapshot, 0, len(raw))
	for _, r := range raw {
		rec := decodeOrderRecord(r)
		if rec.MarketIndex != nil && *rec.MarketIndex != market {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeOrders(orders json.RawMessage, market int64) ([]map[string]json.RawMessage, error) {
	orders = bytes.TrimSpace(orders)
	if len(orders) == 0 || bytes.Equal(orders, []byte("null")) {
		return nil, nil
	}
	if orders[0] == '[' {
		var raw []map[string]json.RawMessage
		if err := json.Unmarshal(orders, &raw); err != nil {
			return nil, fmt.Errorf("execution.parseOrderSnapshots: orders array: %w", err)
		}
		return raw, nil
	}

	var byMarket map[string][]map[string]json.RawMessage
	if err := json.Unmarshal(orders, &byMarket); err != nil {
		return nil, fmt.Errorf("execution.parseOrderSnapshots: orders by market: %w", err)
	}
	if list, ok := byMarket[strconv.FormatInt(market, 10)]; ok {
		return withMarket(list, market), nil
	}

	keys := make([]string, 0, len(byMarket))
	for k := range byMarket {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var all []map[string]json.RawMessage
	for _, k := range keys {
		list := byMarket[k]
		if m, err := strconv.ParseInt(k, 10, 64); err == nil {
			list = withMarket(list, m)
		}
		all = append(all, list...)
	}
	return all, nil
}

// withMarket fills market_index from the enclosing key when a record lacks it.
func withMarket(list []map[string]json.RawMessage, market int64) []map[string]json.RawMessage {
	for _, r := range list {
		if r == nil {
			continue
		}
		if _, ok := r["market_index"]; !ok {
			r["market_index"] = json.RawMessage(strconv.FormatInt(market, 10))
		}
	}
	return list
}

func decodeOrderRecord(r map[string]json.RawMessage) domain.OrderSnapshot {
	rec := domain.OrderSnapshot{
		OrderIndex:       rawInt(r["order_index"]),
		ClientOrderIndex: rawInt(r["client_order_index"]),
		MarketIndex:      rawInt(r["market_index"]),
		Price:            rawText(r["price"]),
		IsAsk:            rawBool(r["is_ask"]),
	}
	if status := rawText(r["status"]); status != nil {
		rec.Status = domain.ParseOrderStatus(*status)
	}
	return rec
}

// rawText returns a JSON string or number as text.
func rawText(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	s := n.String()
	return &s
}

func rawInt(raw json.RawMessage) *int64 {
	s := rawText(raw)
	if s == nil {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(*s), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// rawBool accepts true/false, 0/1 and their quoted forms.
func rawBool(raw json.RawMessage) *bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	s := rawText(raw)
	if s == nil {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &v
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
