package lighter

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

const (
	orderTypeLimit      = 0
	timeInForcePostOnly = 2

	defaultOrderExpiry = 28 * 24 * time.Hour
	txExpiry           = 10 * time.Minute
)

// createOrderInfo es el tx_info de una orden límite post-only.
type createOrderInfo struct {
	AccountIndex     int64  `json:"AccountIndex"`
	ApiKeyIndex      int    `json:"ApiKeyIndex"`
	MarketIndex      int64  `json:"MarketIndex"`
	ClientOrderIndex int64  `json:"ClientOrderIndex"`
	BaseAmount       int64  `json:"BaseAmount"`
	Price            int64  `json:"Price"`
	IsAsk            uint8  `json:"IsAsk"`
	Type             uint8  `json:"Type"`
	TimeInForce      uint8  `json:"TimeInForce"`
	ReduceOnly       uint8  `json:"ReduceOnly"`
	TriggerPrice     int64  `json:"TriggerPrice"`
	OrderExpiry      int64  `json:"OrderExpiry"`
	ExpiredAt        int64  `json:"ExpiredAt"`
	Nonce            int64  `json:"Nonce"`
	Sig              string `json:"Sig,omitempty"`
}

// cancelOrderInfo es el tx_info de una cancelación por order index.
type cancelOrderInfo struct {
	AccountIndex int64  `json:"AccountIndex"`
	ApiKeyIndex  int    `json:"ApiKeyIndex"`
	MarketIndex  int64  `json:"MarketIndex"`
	Index        int64  `json:"Index"`
	ExpiredAt    int64  `json:"ExpiredAt"`
	Nonce        int64  `json:"Nonce"`
	Sig          string `json:"Sig,omitempty"`
}

// KeySigner firma transacciones con la clave secp256k1 de la API key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	account int64
	nonces  *NonceManager
	now     func() time.Time
}

// NewKeySigner crea un signer a partir de la clave privada en hex (con o sin 0x).
func NewKeySigner(privateKeyHex string, account int64, nonces *NonceManager) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("lighter.NewKeySigner: parse private key: %w", err)
	}
	return &KeySigner{key: key, account: account, nonces: nonces, now: time.Now}, nil
}

// Address devuelve la dirección derivada de la clave pública.
func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *KeySigner) NextNonce(_ context.Context) (domain.NonceSlot, error) {
	if s.nonces == nil {
		return domain.NonceSlot{}, ErrNonceUnavailable
	}
	return s.nonces.Next()
}

func (s *KeySigner) AcknowledgeFailure(apiKey int) {
	if s.nonces != nil {
		s.nonces.AcknowledgeFailure(apiKey)
	}
}

func (s *KeySigner) SignCreate(_ context.Context, req domain.CreateRequest) (domain.SignedTx, error) {
	now := s.now()
	info := createOrderInfo{
		AccountIndex:     s.account,
		ApiKeyIndex:      req.Slot.APIKey,
		MarketIndex:      req.Market,
		ClientOrderIndex: req.ClientOrderID,
		BaseAmount:       req.BaseAmount,
		Price:            req.PriceTicks,
		Type:             orderTypeLimit,
		TimeInForce:      timeInForcePostOnly,
		OrderExpiry:      now.Add(defaultOrderExpiry).UnixMilli(),
		ExpiredAt:        now.Add(txExpiry).UnixMilli(),
		Nonce:            req.Slot.Nonce,
	}
	if req.Side.IsAsk() {
		info.IsAsk = 1
	}
	if req.PriceTicks <= 0 || req.BaseAmount <= 0 {
		return domain.SignedTx{}, fmt.Errorf("lighter.SignCreate: invalid order price=%d size=%d", req.PriceTicks, req.BaseAmount)
	}

	signed, err := s.sign(&info, func(sig string) any { info.Sig = sig; return info })
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("lighter.SignCreate: %w", err)
	}
	return domain.SignedTx{Type: domain.TxTypeCreateOrder, Info: signed, Slot: req.Slot}, nil
}

func (s *KeySigner) SignCancel(_ context.Context, req domain.CancelRequest) (domain.SignedTx, error) {
	info := cancelOrderInfo{
		AccountIndex: s.account,
		ApiKeyIndex:  req.Slot.APIKey,
		MarketIndex:  req.Market,
		Index:        req.OrderIndex,
		ExpiredAt:    s.now().Add(txExpiry).UnixMilli(),
		Nonce:        req.Slot.Nonce,
	}
	signed, err := s.sign(&info, func(sig string) any { info.Sig = sig; return info })
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("lighter.SignCancel: %w", err)
	}
	return domain.SignedTx{Type: domain.TxTypeCancelOrder, Info: signed, Slot: req.Slot}, nil
}

// sign firma la forma canónica de unsigned y serializa withSig(firma).
func (s *KeySigner) sign(unsigned any, withSig func(sig string) any) (string, error) {
	raw, err := json.Marshal(unsigned)
	if err != nil {
		return "", fmt.Errorf("marshal tx info: %w", err)
	}
	canonical, _, err := canonicalTxInfo(raw)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(crypto.Keccak256(canonical), s.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	out, err := json.Marshal(withSig(hexutil.Encode(sig)))
	if err != nil {
		return "", fmt.Errorf("marshal signed tx info: %w", err)
	}
	return string(out), nil
}

// CreateAuthToken genera un token "deadline:account:apikey:firma" válido durante ttl.
func (s *KeySigner) CreateAuthToken(ttl time.Duration) (string, error) {
	apiKey := 0
	if s.nonces != nil {
		apiKey = s.nonces.AuthKey()
	}
	deadline := s.now().Add(ttl).Unix()
	msg := fmt.Sprintf("%d:%d:%d", deadline, s.account, apiKey)
	sig, err := crypto.Sign(crypto.Keccak256([]byte(msg)), s.key)
	if err != nil {
		return "", fmt.Errorf("lighter.CreateAuthToken: %w", err)
	}
	return msg + ":" + hexutil.Encode(sig), nil
}

// canonicalTxInfo devuelve el JSON con claves ordenadas y sin Sig, junto con
// la firma que traía.
func canonicalTxInfo(raw []byte) ([]byte, string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, "", fmt.Errorf("decode tx info: %w", err)
	}
	sig, _ := fields["Sig"].(string)
	delete(fields, "Sig")
	canonical, err := json.Marshal(fields)
	if err != nil {
		return nil, "", fmt.Errorf("encode canonical tx info: %w", err)
	}
	return canonical, sig, nil
}
