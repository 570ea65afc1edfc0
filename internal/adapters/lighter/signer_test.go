package lighter_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lighterexec/internal/adapters/lighter"
	"github.com/alejandrodnm/lighterexec/internal/domain"
)

func newTestSigner(t *testing.T) *lighter.KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	nonces, err := lighter.NewNonceManager(context.Background(), &fakeFetcher{next: map[int]int64{4: 20}}, 42, 4, 4)
	require.NoError(t, err)

	s, err := lighter.NewKeySigner("0x"+hex.EncodeToString(crypto.FromECDSA(key)), 42, nonces)
	require.NoError(t, err)
	return s
}

func TestKeySigner_SignCreate(t *testing.T) {
	s := newTestSigner(t)
	ctx := context.Background()

	slot, err := s.NextNonce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.NonceSlot{APIKey: 4, Nonce: 20}, slot)

	tx, err := s.SignCreate(ctx, domain.CreateRequest{
		Market:        7,
		ClientOrderID: 123,
		BaseAmount:    1000,
		PriceTicks:    10050,
		Side:          domain.SideAsk,
		Slot:          slot,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeCreateOrder, tx.Type)
	assert.Equal(t, slot, tx.Slot)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(tx.Info), &info))
	assert.EqualValues(t, 42, info["AccountIndex"])
	assert.EqualValues(t, 4, info["ApiKeyIndex"])
	assert.EqualValues(t, 7, info["MarketIndex"])
	assert.EqualValues(t, 123, info["ClientOrderIndex"])
	assert.EqualValues(t, 10050, info["Price"])
	assert.EqualValues(t, 1, info["IsAsk"])
	assert.EqualValues(t, 2, info["TimeInForce"])
	assert.EqualValues(t, 20, info["Nonce"])
	assert.NotEmpty(t, info["Sig"])

	addr, err := lighter.RecoverTxSigner(tx.Info)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
}

func TestKeySigner_SignCancel(t *testing.T) {
	s := newTestSigner(t)

	tx, err := s.SignCancel(context.Background(), domain.CancelRequest{
		Market:     7,
		OrderIndex: 555,
		Slot:       domain.NonceSlot{APIKey: 4, Nonce: 21},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeCancelOrder, tx.Type)
	assert.Contains(t, tx.Info, `"Index":555`)

	addr, err := lighter.RecoverTxSigner(tx.Info)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
}

func TestKeySigner_TamperedInfoRecoversOtherAddress(t *testing.T) {
	s := newTestSigner(t)
	tx, err := s.SignCancel(context.Background(), domain.CancelRequest{Market: 7, OrderIndex: 555})
	require.NoError(t, err)

	tampered := strings.Replace(tx.Info, `"Index":555`, `"Index":556`, 1)
	addr, err := lighter.RecoverTxSigner(tampered)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), addr)
}

func TestKeySigner_RejectsInvalidCreate(t *testing.T) {
	s := newTestSigner(t)
	_, err := s.SignCreate(context.Background(), domain.CreateRequest{Market: 7, PriceTicks: 0, BaseAmount: 10})
	assert.Error(t, err)
}

func TestKeySigner_CreateAuthToken(t *testing.T) {
	s := newTestSigner(t)

	token, err := s.CreateAuthToken(10 * time.Minute)
	require.NoError(t, err)

	parts := strings.Split(token, ":")
	require.Len(t, parts, 4)
	assert.Equal(t, "42", parts[1])
	assert.Equal(t, "4", parts[2])
	assert.True(t, strings.HasPrefix(parts[3], "0x"))
}

func TestNewKeySigner_BadKey(t *testing.T) {
	_, err := lighter.NewKeySigner("not-hex", 1, nil)
	assert.Error(t, err)
}

func TestKeySigner_NoNonceManager(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := lighter.NewKeySigner(hex.EncodeToString(crypto.FromECDSA(key)), 1, nil)
	require.NoError(t, err)

	_, err = s.NextNonce(context.Background())
	assert.ErrorIs(t, err, lighter.ErrNonceUnavailable)
}
