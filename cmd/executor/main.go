package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/lighterexec/config"
	"github.com/alejandrodnm/lighterexec/internal/adapters/lighter"
	"github.com/alejandrodnm/lighterexec/internal/adapters/notify"
	"github.com/alejandrodnm/lighterexec/internal/adapters/storage"
	"github.com/alejandrodnm/lighterexec/internal/application/engine/execution"
	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/metrics"
	"github.com/alejandrodnm/lighterexec/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	dryRun := flag.Bool("dry-run", false, "sign and journal directives without submitting them")
	decisionsPath := flag.String("decisions", "-", "JSON-lines decision feed (- = stdin)")
	report := flag.Bool("report", false, "print the execution report of the last run and exit")
	runID := flag.String("run", "", "run id for -report (default: latest)")
	table := flag.Bool("table", true, "full report tables (false: compact 1-line)")
	limit := flag.Int("limit", 20, "recent operations shown by -report")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *dryRun {
		cfg.Execution.DryRun = true
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		notifier := notify.NewConsole(cfg.Execution.TickSize, *table)
		if err := runReport(ctx, store, notifier, *runID, *limit); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, store, *decisionsPath); err != nil {
		slog.Error("executor exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("executor stopped cleanly")
}

// run wires the exchange adapters into the engine and blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config, journal ports.ExecutionJournal, decisionsPath string) error {
	slog.Info("executor starting",
		"market", cfg.Execution.MarketID,
		"account", cfg.Lighter.AccountIndex,
		"api_keys", [2]int{cfg.Lighter.APIKeyStart, cfg.Lighter.APIKeyEnd},
		"dry_run", cfg.Execution.DryRun,
		"fast", cfg.Execution.FastExecution,
		"optimistic", cfg.Execution.OptimisticAcks,
	)

	stopMetrics := serveMetrics(cfg.Metrics.Addr)
	defer stopMetrics()

	client := lighter.NewClient(cfg.Lighter.RestBase)
	nonces, err := lighter.NewNonceManager(ctx, client, cfg.Lighter.AccountIndex, cfg.Lighter.APIKeyStart, cfg.Lighter.APIKeyEnd)
	if err != nil {
		return err
	}
	signer, err := lighter.NewKeySigner(cfg.Lighter.PrivateKey, cfg.Lighter.AccountIndex, nonces)
	if err != nil {
		return err
	}
	slog.Info("signer ready", "address", signer.Address().Hex(), "auth_key", nonces.AuthKey())

	token := cfg.Lighter.AuthToken
	if token == "" {
		if token, err = signer.CreateAuthToken(cfg.AuthTTL()); err != nil {
			return err
		}
	}

	// En dry-run no se abre el socket de transacciones: nada se envía.
	var transport ports.Transport
	if !cfg.Execution.DryRun {
		ws, err := lighter.DialTransport(ctx, cfg.Lighter.WSURL, token)
		if err != nil {
			return err
		}
		transport = ws
	}

	engine := execution.New(execution.Config{
		MarketID:              cfg.Execution.MarketID,
		OrderSize:             cfg.Execution.OrderSize,
		TickSize:              cfg.Execution.TickSize,
		RefreshInterval:       cfg.RefreshInterval(),
		RefreshToleranceTicks: cfg.Execution.RefreshToleranceTicks,
		DryRun:                cfg.Execution.DryRun,
		FastExecution:         cfg.Execution.FastExecution,
		OptimisticAcks:        cfg.Execution.OptimisticAcks,
		AuthTTL:               cfg.AuthTTL(),
	}, signer, transport, lighter.WSDialer{URL: cfg.Lighter.WSURL}, journal)
	defer engine.Close()

	stream := &lighter.Stream{URL: cfg.Lighter.WSURL, Account: cfg.Lighter.AccountIndex, AuthToken: token}
	go func() {
		if err := stream.Run(ctx, engine); err != nil && !errors.Is(err, execution.ErrPipelineClosed) {
			slog.Error("account stream stopped", "err", err)
		}
	}()

	go reconnectOnHangup(ctx, engine)

	input, closeInput, err := openDecisions(decisionsPath)
	if err != nil {
		return err
	}
	defer closeInput()

	go func() {
		fed, err := feedDecisions(ctx, input, func(d domain.Decision) error {
			return engine.HandleDecision(ctx, d, time.Now())
		})
		if err != nil {
			slog.Error("decision feed stopped", "err", err, "fed", fed)
			return
		}
		slog.Info("decision feed finished", "fed", fed)
	}()

	<-ctx.Done()
	slog.Info("shutting down", "run_id", engine.RunID())
	return nil
}

// reconnectOnHangup recupera el transporte con SIGHUP (p.ej. tras rotar el auth token).
func reconnectOnHangup(ctx context.Context, engine *execution.Engine) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			ok, err := engine.Reconnect(rctx)
			cancel()
			slog.Info("manual reconnect", "ok", ok, "err", err)
		}
	}
}

func openDecisions(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// serveMetrics expone /metrics si addr no está vacío. Devuelve la función de parada.
func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err, "addr", addr)
		}
	}()
	slog.Info("metrics listening", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
