// Package execution turns strategy decisions into live exchange orders.
//
// The pipeline is a chain of goroutines connected by bounded channels:
//
//	decision -> planner -> directive -> signer -> submitter -> {ok | retry scheduler}
//
// Account snapshots and transaction acks are reconciled by their own loops,
// and a control loop recovers the transaction transport on demand. All
// bookkeeping lives in one executionState guarded by Engine.mu; the
// transport has its own lock. Neither lock is held across a blocking call.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/ports"
)

const (
	decisionChannelDepth  = 64
	directiveChannelDepth = 64
	signedChannelDepth    = 64
	accountChannelDepth   = 128
	txAckChannelDepth     = 64
	controlChannelDepth   = 8

	fastModeTimeout = 100 * time.Millisecond
	defaultAuthTTL  = 10 * time.Minute

	sourceDecision = "decision"
	sourceBreaker  = "breaker"
	sourceRetry    = "retry"
)

// ErrPipelineClosed is returned by every entry point once Close was called.
var ErrPipelineClosed = errors.New("execution: pipeline closed")

// Config holds the fixed parameters of one engine instance.
type Config struct {
	MarketID              int64
	OrderSize             int64 // base amount signed into every create
	TickSize              float64
	RefreshInterval       time.Duration
	RefreshToleranceTicks int64
	DryRun                bool
	FastExecution         bool
	OptimisticAcks        bool
	AuthTTL               time.Duration // lifetime of tokens minted on reconnect
	RunID                 string
	Clock                 func() time.Time
}

// Snapshot is a copy of the engine's view of the book.
type Snapshot struct {
	Live    []domain.LiveOrder
	Pending []domain.PendingOrder
	Bid     domain.SideSlot
	Ask     domain.SideSlot
	Breaker domain.EmergencyBreaker
}

// Engine is the order-lifecycle execution pipeline.
type Engine struct {
	cfg    Config
	now    func() time.Time
	signer ports.Signer
	dialer ports.Dialer

	mu    sync.Mutex
	state *executionState

	transportMu sync.Mutex
	transport   ports.Transport

	decisions  chan decisionCommand
	directives chan domain.Directive
	signed     chan domain.SignedDirective
	accounts   chan accountUpdate
	acks       chan []domain.TxAck
	control    chan controlCommand

	closeMu sync.RWMutex
	closed  bool

	inbound  sync.WaitGroup // decision, reconcile, ack and control loops
	pipeline sync.WaitGroup // signing and submission loops

	retryMu        sync.Mutex
	retriesStopped bool
	retryWG        sync.WaitGroup
	stopRetries    chan struct{}

	journal *journalSink
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds the engine and starts every stage. journal and dialer may be nil.
func New(cfg Config, signer ports.Signer, transport ports.Transport, dialer ports.Dialer, journal ports.ExecutionJournal) *Engine {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.AuthTTL <= 0 {
		cfg.AuthTTL = defaultAuthTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:         cfg,
		now:         cfg.Clock,
		signer:      signer,
		dialer:      dialer,
		state:       newExecutionState(cfg),
		transport:   transport,
		decisions:   make(chan decisionCommand, decisionChannelDepth),
		directives:  make(chan domain.Directive, directiveChannelDepth),
		signed:      make(chan domain.SignedDirective, signedChannelDepth),
		accounts:    make(chan accountUpdate, accountChannelDepth),
		acks:        make(chan []domain.TxAck, txAckChannelDepth),
		control:     make(chan controlCommand, controlChannelDepth),
		stopRetries: make(chan struct{}),
		journal:     newJournalSink(journal, cfg.RunID),
		ctx:         ctx,
		cancel:      cancel,
	}

	e.journal.startRun(domain.RunInfo{
		RunID:     cfg.RunID,
		MarketID:  cfg.MarketID,
		DryRun:    cfg.DryRun,
		StartedAt: e.now(),
	})

	e.inbound.Add(4)
	go e.runDecisions()
	go e.runReconcile()
	go e.runAcks()
	go e.runControl()

	e.pipeline.Add(2)
	go e.runSigning()
	go e.runSubmission()

	slog.Info("execution: engine started",
		"run_id", cfg.RunID,
		"market", cfg.MarketID,
		"order_size", cfg.OrderSize,
		"tick_size", cfg.TickSize,
		"refresh_interval", e.state.refreshInterval,
		"refresh_tolerance_ticks", e.state.refreshToleranceTicks,
		"dry_run", cfg.DryRun,
		"ack_mode", e.state.ackMode(),
	)
	return e
}

// RunID identifies this engine in the journal.
func (e *Engine) RunID() string { return e.cfg.RunID }

// HandleDecision queues a strategy decision taken at ts. It blocks while the
// decision channel is full.
func (e *Engine) HandleDecision(ctx context.Context, d domain.Decision, ts time.Time) error {
	return send(ctx, e, e.decisions, decisionCommand{decision: d, at: ts})
}

// IngestAccountEvent queues an account orders payload pushed by the exchange.
func (e *Engine) IngestAccountEvent(ctx context.Context, snapshot bool, payload []byte) error {
	return send(ctx, e, e.accounts, accountUpdate{snapshot: snapshot, payload: payload})
}

// IngestTransactions queues transaction acks keyed by nonce.
func (e *Engine) IngestTransactions(ctx context.Context, acks []domain.TxAck) error {
	if len(acks) == 0 {
		return nil
	}
	return send(ctx, e, e.acks, acks)
}

// Reconnect asks the control loop to recover the transaction transport and
// reports whether it succeeded. It does not retry.
func (e *Engine) Reconnect(ctx context.Context) (bool, error) {
	reply := make(chan reconnectResult, 1)
	if err := send(ctx, e, e.control, controlCommand{reply: reply}); err != nil {
		return false, err
	}
	select {
	case r := <-reply:
		return r.ok, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Snapshot returns a copy of live and pending state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot()
}

// Close stops the pipeline. Inbound channels are closed first; every stage
// drains its buffered work and exits, then the transport is closed.
func (e *Engine) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	close(e.decisions)
	close(e.accounts)
	close(e.acks)
	close(e.control)
	e.closeMu.Unlock()

	e.inbound.Wait()
	e.stopRetryScheduler()
	close(e.directives)
	e.pipeline.Wait()
	e.journal.close()

	e.transportMu.Lock()
	if e.transport != nil {
		if err := e.transport.Close(); err != nil {
			slog.Debug("execution: closing transport", "err", err)
		}
	}
	e.transportMu.Unlock()
	e.cancel()
	slog.Info("execution: engine stopped", "run_id", e.cfg.RunID)
}

func send[T any](ctx context.Context, e *Engine, ch chan<- T, v T) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return ErrPipelineClosed
	}
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newDirective wraps ops into a directive. Empty plans yield ok == false and
// do not consume a directive id.
func (s *executionState) newDirective(source string, attempt int, ops []domain.OrderOperation) (domain.Directive, bool) {
	if len(ops) == 0 {
		return domain.Directive{}, false
	}
	return domain.Directive{
		ID:         s.nextDirectiveID(),
		Attempt:    attempt,
		Source:     source,
		Operations: ops,
	}, true
}

// publish journals d and hands it to the signing stage, blocking while the
// directive channel is full.
func (e *Engine) publish(d domain.Directive) {
	e.journal.directive(d, e.now())
	directivesMetric(d)
	e.directives <- d
}
