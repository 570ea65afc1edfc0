package lighter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// maxAPIKeyIndex is the highest API key slot the exchange supports.
const maxAPIKeyIndex = 254

// NonceFetcher reads the next valid nonce of an API key from the exchange.
type NonceFetcher interface {
	NextNonce(ctx context.Context, accountIndex int64, apiKey int) (int64, error)
}

// NonceManager hands out (api key, nonce) pairs round-robin over a range of
// API keys. Nonces are incremented optimistically; a failed transaction the
// exchange never saw gives its nonce back through AcknowledgeFailure.
type NonceManager struct {
	mu      sync.Mutex
	fetcher NonceFetcher
	account int64
	start   int
	end     int
	current int
	nonces  map[int]int64 // last nonce issued per key
}

// NewNonceManager fetches the current nonce of every key in [start, end].
func NewNonceManager(ctx context.Context, fetcher NonceFetcher, account int64, start, end int) (*NonceManager, error) {
	if start < 0 || end < start || end > maxAPIKeyIndex {
		return nil, fmt.Errorf("lighter.NewNonceManager: invalid api key range [%d, %d]", start, end)
	}
	m := &NonceManager{
		fetcher: fetcher,
		account: account,
		start:   start,
		end:     end,
		current: end,
		nonces:  make(map[int]int64, end-start+1),
	}
	for key := start; key <= end; key++ {
		if err := m.HardRefresh(ctx, key); err != nil {
			return nil, err
		}
	}
	slog.Info("lighter: nonce manager ready", "account", account, "keys", end-start+1)
	return m, nil
}

// Next advances to the next API key and issues its next nonce.
func (m *NonceManager) Next() (domain.NonceSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.current + 1
	if key > m.end {
		key = m.start
	}
	last, ok := m.nonces[key]
	if !ok {
		return domain.NonceSlot{}, fmt.Errorf("lighter.NonceManager.Next: key %d: %w", key, ErrNonceUnavailable)
	}
	m.current = key
	m.nonces[key] = last + 1
	return domain.NonceSlot{APIKey: key, Nonce: last + 1}, nil
}

// AcknowledgeFailure gives back the last nonce issued for apiKey.
func (m *NonceManager) AcknowledgeFailure(apiKey int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nonces[apiKey]; ok {
		m.nonces[apiKey]--
	}
}

// HardRefresh re-reads the nonce of apiKey from the exchange.
func (m *NonceManager) HardRefresh(ctx context.Context, apiKey int) error {
	next, err := m.fetcher.NextNonce(ctx, m.account, apiKey)
	if err != nil {
		return fmt.Errorf("lighter.NonceManager.HardRefresh: %w", err)
	}
	m.mu.Lock()
	m.nonces[apiKey] = next - 1
	m.mu.Unlock()
	return nil
}

// AuthKey is the API key used to mint auth tokens.
func (m *NonceManager) AuthKey() int { return m.start }
