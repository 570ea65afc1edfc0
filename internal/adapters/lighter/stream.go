package lighter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// AccountHandler recibe los eventos de cuenta. execution.Engine lo implementa.
type AccountHandler interface {
	IngestAccountEvent(ctx context.Context, snapshot bool, payload []byte) error
	IngestTransactions(ctx context.Context, acks []domain.TxAck) error
}

// Stream lee los canales account_all_orders y account_tx de una cuenta y
// los reenvía al handler. Se reconecta solo hasta que ctx se cancela.
type Stream struct {
	URL       string
	Account   int64
	AuthToken string
	Backoff   time.Duration
}

type subscribeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type txRecord struct {
	Hash   string `json:"hash"`
	Status int    `json:"status"`
	Nonce  int64  `json:"nonce"`
	Info   string `json:"info"`
}

// apiKey extrae ApiKeyIndex del tx_info. Los nonces son por api key, así que
// sin él el ack solo se puede casar por nonce.
func (r txRecord) apiKey() *int {
	if r.Info == "" {
		return nil
	}
	var info struct {
		ApiKeyIndex *int `json:"ApiKeyIndex"`
	}
	if err := json.Unmarshal([]byte(r.Info), &info); err != nil {
		return nil
	}
	return info.ApiKeyIndex
}

type txFrame struct {
	Txs []txRecord `json:"txs"`
}

// Run bloquea hasta que ctx se cancela o el handler rechaza un evento.
func (s *Stream) Run(ctx context.Context, h AccountHandler) error {
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = defaultReconnectBackoff
	}
	for attempt := 0; ; attempt++ {
		err := s.runOnce(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		var hErr handlerError
		if errors.As(err, &hErr) {
			return hErr.err
		}
		wait := reconnectDelay(backoff, min(attempt+1, 16))
		slog.Warn("lighter: account stream lost, reconnecting", "err", err, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

type handlerError struct{ err error }

func (e handlerError) Error() string { return e.err.Error() }
func (e handlerError) Unwrap() error { return e.err }

func (s *Stream) runOnce(ctx context.Context, h AccountHandler) error {
	url := s.URL
	if url == "" {
		url = defaultWSURL
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("lighter.Stream: dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, channel := range []string{
		fmt.Sprintf("account_all_orders/%d", s.Account),
		fmt.Sprintf("account_tx/%d", s.Account),
	} {
		if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Channel: channel, Auth: s.AuthToken}); err != nil {
			return fmt.Errorf("lighter.Stream: subscribe %s: %w", channel, err)
		}
	}
	slog.Info("lighter: account stream subscribed", "account", s.Account)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("lighter.Stream: read: %w", err)
		}
		if err := s.dispatch(ctx, conn, h, msg); err != nil {
			return handlerError{err: err}
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, conn *websocket.Conn, h AccountHandler, msg []byte) error {
	typ := frameType(msg)
	switch {
	case typ == "ping":
		if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
			slog.Debug("lighter: pong failed", "err", err)
		}
		return nil

	case strings.HasSuffix(typ, "/account_all_orders"):
		return h.IngestAccountEvent(ctx, strings.HasPrefix(typ, "subscribed"), msg)

	case strings.HasSuffix(typ, "/account_tx"):
		var f txFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			slog.Warn("lighter: unreadable tx frame", "err", err)
			return nil
		}
		acks := make([]domain.TxAck, 0, len(f.Txs))
		for _, tx := range f.Txs {
			acks = append(acks, domain.TxAck{APIKey: tx.apiKey(), Nonce: tx.Nonce, Status: tx.Status, Hash: tx.Hash})
		}
		return h.IngestTransactions(ctx, acks)

	case typ == "error" || classifyFrame(msg) == frameError:
		slog.Warn("lighter: account stream error frame", "frame", string(msg))
	}
	return nil
}
