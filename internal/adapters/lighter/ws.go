package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/ports"
)

const (
	defaultWSURL = "wss://mainnet.zklighter.elliot.ai/stream"

	maxBatchChunk  = 50
	strictAckPerTx = time.Second
	frameBuffer    = 256
	writeTimeout   = 5 * time.Second

	defaultReconnectAttempts = 3
	defaultReconnectBackoff  = 500 * time.Millisecond
	maxReconnectBackoff      = 30 * time.Second
)

type batchMessage struct {
	Type string    `json:"type"`
	Data batchData `json:"data"`
}

type batchData struct {
	ID      string `json:"id"`
	TxTypes string `json:"tx_types"`
	TxInfos string `json:"tx_infos"`
	Token   string `json:"token"`
}

// WSTransport envía lotes de transacciones firmadas por websocket.
//
// Una goroutine lectora por conexión vuelca los frames en un canal; la
// espera del ack lee de ese canal con su propio timer, así que nunca se
// ponen read deadlines sobre la conexión.
type WSTransport struct {
	url    string
	token  string
	dialer *websocket.Dialer

	// Reconexión: intentos y backoff inicial (exportados para tests).
	ReconnectAttempts int
	ReconnectBackoff  time.Duration

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	frames  chan []byte

	batchSeq atomic.Uint64
}

// DialTransport abre una conexión autenticada con token.
func DialTransport(ctx context.Context, url, token string) (*WSTransport, error) {
	if url == "" {
		url = defaultWSURL
	}
	t := &WSTransport{
		url:               url,
		token:             token,
		dialer:            websocket.DefaultDialer,
		ReconnectAttempts: defaultReconnectAttempts,
		ReconnectBackoff:  defaultReconnectBackoff,
	}
	if err := t.connect(ctx); err != nil {
		return nil, fmt.Errorf("lighter.DialTransport: %w", err)
	}
	return t, nil
}

func (t *WSTransport) connect(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	frames := make(chan []byte, frameBuffer)

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.frames = frames
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go t.readLoop(conn, frames)
	slog.Info("lighter: transaction socket connected", "url", t.url)
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn, frames chan<- []byte) {
	defer close(frames)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("lighter: transaction socket reader stopped", "err", err)
			return
		}
		if frameType(msg) == "ping" {
			t.writeJSON(conn, map[string]string{"type": "pong"})
			continue
		}
		select {
		case frames <- msg:
		default:
			slog.Debug("lighter: frame buffer full, dropping frame", "bytes", len(msg))
		}
	}
}

func (t *WSTransport) writeJSON(conn *websocket.Conn, v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (t *WSTransport) current() (*websocket.Conn, chan []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, t.frames
}

// SendBatch envía txs en trozos de 50 y devuelve un resultado por tx.
// Un error de envío invalida la llamada entera.
func (t *WSTransport) SendBatch(ctx context.Context, txs []domain.BatchTx, mode domain.AckMode) ([]bool, error) {
	if t.token == "" {
		return nil, ErrMissingAuthToken
	}
	results := make([]bool, 0, len(txs))
	for start := 0; start < len(txs); start += maxBatchChunk {
		end := min(start+maxBatchChunk, len(txs))
		chunk := txs[start:end]

		ok, err := t.sendChunk(ctx, chunk, mode)
		if err != nil {
			return nil, fmt.Errorf("lighter.SendBatch: chunk %d-%d: %w", start, end, err)
		}
		for range chunk {
			results = append(results, ok)
		}
	}
	return results, nil
}

func (t *WSTransport) sendChunk(ctx context.Context, chunk []domain.BatchTx, mode domain.AckMode) (bool, error) {
	if len(chunk) > maxBatchChunk {
		return false, ErrBatchTooLarge
	}
	conn, frames := t.current()
	if conn == nil {
		return false, ErrNotConnected
	}
	drain(frames)

	msg, err := t.batchMessage(chunk)
	if err != nil {
		return false, err
	}
	if err := t.writeJSON(conn, msg); err != nil {
		return false, fmt.Errorf("write: %w", err)
	}

	wait := strictAckPerTx * time.Duration(len(chunk))
	if mode.Optimistic {
		wait = mode.Wait
	}
	return waitForTxResponse(ctx, frames, wait, mode.Optimistic), nil
}

func (t *WSTransport) batchMessage(chunk []domain.BatchTx) (batchMessage, error) {
	types := make([]int, len(chunk))
	infos := make([]string, len(chunk))
	for i, tx := range chunk {
		types[i] = int(tx.Type)
		infos[i] = tx.Info
	}
	typesJSON, err := json.Marshal(types)
	if err != nil {
		return batchMessage{}, fmt.Errorf("marshal tx types: %w", err)
	}
	infosJSON, err := json.Marshal(infos)
	if err != nil {
		return batchMessage{}, fmt.Errorf("marshal tx infos: %w", err)
	}
	return batchMessage{
		Type: "jsonapi/sendtxbatch",
		Data: batchData{
			ID:      fmt.Sprintf("batch_%d", t.batchSeq.Add(1)),
			TxTypes: string(typesJSON),
			TxInfos: string(infosJSON),
			Token:   t.token,
		},
	}, nil
}

// waitForTxResponse espera el primer frame que responda al lote. En modo
// optimista un timeout o un fallo de lectura cuentan como éxito.
func waitForTxResponse(ctx context.Context, frames <-chan []byte, wait time.Duration, optimistic bool) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return optimistic
		case <-timer.C:
			if !optimistic {
				slog.Warn("lighter: no tx response before timeout", "wait", wait)
			}
			return optimistic
		case raw, ok := <-frames:
			if !ok {
				return optimistic
			}
			switch classifyFrame(raw) {
			case frameSkip:
				continue
			case frameError:
				slog.Error("lighter: transaction error response", "frame", string(raw))
				return false
			default:
				slog.Debug("lighter: transaction response", "frame", string(raw))
				return true
			}
		}
	}
}

func drain(frames chan []byte) {
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

type frameKind int

const (
	frameSkip frameKind = iota
	frameError
	frameResponse
)

var skippedPrefixes = []string{
	"subscribed",
	"update/order_book",
	"update/bbo",
	"update/trade",
	"update/account",
	"update/fills",
	"update/orders",
}

// classifyFrame decide si un frame es ajeno al lote, un error o la respuesta.
func classifyFrame(raw []byte) frameKind {
	var f map[string]json.RawMessage
	if err := json.Unmarshal(raw, &f); err != nil {
		return frameSkip
	}
	typ := frameTypeOf(f)

	if typ == "error" {
		return frameError
	}
	if _, ok := f["error"]; ok {
		return frameError
	}
	if code, ok := f["code"]; ok {
		var c int
		if err := json.Unmarshal(code, &c); err != nil || c != 200 {
			return frameError
		}
	}

	switch typ {
	case "connected", "unsubscribed", "pong", "ping":
		return frameSkip
	}
	for _, p := range skippedPrefixes {
		if strings.HasPrefix(typ, p) {
			return frameSkip
		}
	}
	return frameResponse
}

func frameType(raw []byte) string {
	var f map[string]json.RawMessage
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	return frameTypeOf(f)
}

func frameTypeOf(f map[string]json.RawMessage) string {
	var typ string
	if raw, ok := f["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}
	return typ
}

// Reconnect reabre la conexión con backoff exponencial y jitter de ±10%.
func (t *WSTransport) Reconnect(ctx context.Context) error {
	attempts := t.ReconnectAttempts
	if attempts <= 0 {
		attempts = defaultReconnectAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := reconnectDelay(t.ReconnectBackoff, attempt)
			slog.Warn("lighter: reconnecting", "attempt", attempt+1, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("lighter.Reconnect: %w", ctx.Err())
			}
		}
		if lastErr = t.connect(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("lighter.Reconnect: %d attempts: %w", attempts, lastErr)
}

func reconnectDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > maxReconnectBackoff {
		d = maxReconnectBackoff
	}
	jitter := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(d) * jitter)
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

// WSDialer abre transportes nuevos contra URL.
type WSDialer struct {
	URL string
}

func (d WSDialer) Dial(ctx context.Context, authToken string) (ports.Transport, error) {
	return DialTransport(ctx, d.URL, authToken)
}
