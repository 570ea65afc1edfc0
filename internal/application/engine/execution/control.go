package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/metrics"
	"github.com/alejandrodnm/lighterexec/internal/ports"
)

const reconnectTimeout = 15 * time.Second

var errNoDialer = errors.New("execution: no dialer configured")

type reconnectResult struct {
	ok  bool
	err error
}

type controlCommand struct {
	reply chan reconnectResult
}

func (e *Engine) runControl() {
	defer e.inbound.Done()
	for cmd := range e.control {
		ok, err := e.recoverTransport()
		cmd.reply <- reconnectResult{ok: ok, err: err}
	}
}

// recoverTransport tries an in-place reconnect first and falls back to a
// fresh connection authenticated with a newly minted token. The transport
// lock is only held for the reconnect call and the swap.
func (e *Engine) recoverTransport() (bool, error) {
	ctx, cancel := context.WithTimeout(e.ctx, reconnectTimeout)
	defer cancel()

	e.transportMu.Lock()
	current := e.transport
	var inPlaceErr error
	if current != nil {
		inPlaceErr = current.Reconnect(ctx)
	} else {
		inPlaceErr = errNoTransport
	}
	e.transportMu.Unlock()

	if inPlaceErr == nil {
		metrics.Reconnects.WithLabelValues("in_place").Inc()
		slog.Info("execution: transport reconnected in place")
		return true, nil
	}
	slog.Warn("execution: in-place reconnect failed, dialing fresh connection", "err", inPlaceErr)

	fresh, err := e.dialFresh(ctx)
	if err != nil {
		metrics.Reconnects.WithLabelValues("failed").Inc()
		slog.Error("execution: reconnect failed", "err", err)
		return false, err
	}

	e.transportMu.Lock()
	old := e.transport
	e.transport = fresh
	e.transportMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Debug("execution: closing replaced transport", "err", err)
		}
	}
	metrics.Reconnects.WithLabelValues("fresh").Inc()
	slog.Info("execution: transport replaced with fresh connection")
	return true, nil
}

func (e *Engine) dialFresh(ctx context.Context) (ports.Transport, error) {
	if e.dialer == nil {
		return nil, errNoDialer
	}
	token, err := e.signer.CreateAuthToken(e.cfg.AuthTTL)
	if err != nil {
		return nil, fmt.Errorf("execution.dialFresh: auth token: %w", err)
	}
	t, err := e.dialer.Dial(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("execution.dialFresh: dial: %w", err)
	}
	return t, nil
}
