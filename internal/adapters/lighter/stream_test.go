package lighter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lighterexec/internal/adapters/lighter"
	"github.com/alejandrodnm/lighterexec/internal/domain"
)

type accountEvent struct {
	snapshot bool
	payload  string
}

type recordingHandler struct {
	mu         sync.Mutex
	events     []accountEvent
	acks       []domain.TxAck
	rejectWith error
}

func (h *recordingHandler) IngestAccountEvent(_ context.Context, snapshot bool, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rejectWith != nil {
		return h.rejectWith
	}
	h.events = append(h.events, accountEvent{snapshot: snapshot, payload: string(payload)})
	return nil
}

func (h *recordingHandler) IngestTransactions(_ context.Context, acks []domain.TxAck) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks = append(h.acks, acks...)
	return nil
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events), len(h.acks)
}

func newAccountServer(t *testing.T, channels chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var sub struct {
				Type    string `json:"type"`
				Channel string `json:"channel"`
				Auth    string `json:"auth"`
			}
			if json.Unmarshal(msg, &sub) == nil && sub.Type == "subscribe" {
				channels <- sub.Channel + "|" + sub.Auth
			}
		}

		frames := []string{
			`{"type":"subscribed/account_all_orders","orders":{"7":[{"order_index":1,"client_order_index":2,"status":"open"}]}}`,
			`{"type":"ping"}`,
			`{"type":"update/account_all_orders","orders":{"7":[]}}`,
			`{"type":"update/account_tx","txs":[{"hash":"0xab","status":1,"nonce":5,"info":"{\"ApiKeyIndex\":2,\"Nonce\":5}"},{"hash":"0xcd","status":3,"nonce":6}]}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStream_ForwardsAccountEvents(t *testing.T) {
	channels := make(chan string, 4)
	srv := newAccountServer(t, channels)
	h := &recordingHandler{}

	s := &lighter.Stream{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Account:   42,
		AuthToken: "tok",
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()

	require.Eventually(t, func() bool {
		events, acks := h.counts()
		return events == 2 && acks == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}

	assert.Equal(t, "account_all_orders/42|tok", <-channels)
	assert.Equal(t, "account_tx/42|tok", <-channels)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.True(t, h.events[0].snapshot)
	assert.False(t, h.events[1].snapshot)
	assert.Contains(t, h.events[0].payload, `"client_order_index":2`)
	key := 2
	assert.Equal(t, []domain.TxAck{
		{APIKey: &key, Nonce: 5, Status: 1, Hash: "0xab"},
		{Nonce: 6, Status: 3, Hash: "0xcd"},
	}, h.acks)
}

func TestStream_StopsWhenHandlerRejects(t *testing.T) {
	channels := make(chan string, 4)
	srv := newAccountServer(t, channels)
	closed := errors.New("pipeline closed")
	h := &recordingHandler{rejectWith: closed}

	s := &lighter.Stream{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Account: 42}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Run(ctx, h)
	assert.ErrorIs(t, err, closed)
}
