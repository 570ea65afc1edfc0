package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// Signer turns planned operations into signed exchange transactions.
type Signer interface {
	// NextNonce hands out the next (api key, nonce) pair. Pairs are issued in
	// call order, which is the only ordering the exchange enforces.
	NextNonce(ctx context.Context) (domain.NonceSlot, error)

	// SignCreate signs a post-only limit order.
	SignCreate(ctx context.Context, req domain.CreateRequest) (domain.SignedTx, error)

	// SignCancel signs a cancel by exchange order index.
	SignCancel(ctx context.Context, req domain.CancelRequest) (domain.SignedTx, error)

	// CreateAuthToken mints a fresh credential for the transaction channel.
	CreateAuthToken(ttl time.Duration) (string, error)

	// AcknowledgeFailure returns the last nonce of apiKey to the pool after a
	// transaction the exchange never saw.
	AcknowledgeFailure(apiKey int)
}

// Transport submits signed batches to the exchange.
type Transport interface {
	// SendBatch sends txs in order and returns one result per entry.
	// A non-nil error means nothing was acknowledged.
	SendBatch(ctx context.Context, txs []domain.BatchTx, mode domain.AckMode) ([]bool, error)

	// Reconnect re-establishes the existing connection in place.
	Reconnect(ctx context.Context) error

	Close() error
}

// Dialer opens a fresh transport authenticated with authToken.
type Dialer interface {
	Dial(ctx context.Context, authToken string) (Transport, error)
}
