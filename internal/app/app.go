// Package app wires configuration, connections and services together for
// each resumesync command.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"resumesync/internal/cli"
	"resumesync/internal/config"
	"resumesync/internal/ctxlog"
	"resumesync/internal/mail"
	"resumesync/internal/metrics"
	"resumesync/internal/otel"
	"resumesync/internal/service"
)

// App holds the process-wide dependencies shared by all commands.
type App struct {
	cfg      *config.AppConfig
	outW     io.Writer
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// New builds an App. Command line overrides in opts take precedence over cfg.
func New(outW, logW io.Writer, cfg *config.AppConfig, opts *cli.Options) (*App, error) {
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	if opts.Port != "" {
		cfg.Port = opts.Port
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &App{
		cfg:      cfg,
		outW:     outW,
		logger:   ctxlog.New(cfg.Log.Level, cfg.Log.Format, logW),
		registry: reg,
		metrics:  m,
	}, nil
}

// Run executes command until it completes or ctx is cancelled.
func (a *App) Run(ctx context.Context, command string) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	shutdown, err := otel.Init(ctx, a.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			a.logger.Warn("tracing_shutdown_failed", "error", err.Error())
		}
	}()

	switch command {
	case cli.CommandSync:
		return a.runSync(ctx)
	case cli.CommandDispatch:
		return a.runDispatch(ctx)
	case cli.CommandServe:
		return a.serve(ctx)
	case cli.CommandLedger:
		return a.printLedger(ctx)
	default:
		return &cli.ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", command)}
	}
}

func (a *App) runSync(ctx context.Context) error {
	if err := a.cfg.ValidateSync(); err != nil {
		return &cli.ExitError{Code: 2, Message: fmt.Sprintf("invalid configuration: %v", err)}
	}

	deps, err := a.openSyncDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	svc := service.NewSyncService(deps.ledger, deps.source, deps.fetcher, a.cfg.Ledger.LoadFailurePolicy, a.metrics)
	res, runErr := svc.Run(ctx)
	if res != nil {
		a.writeJSON(res)
	}
	a.pushMetrics()
	if runErr != nil {
		return &cli.ExitError{Code: 1, Message: fmt.Sprintf("sync aborted: %v", runErr)}
	}
	return nil
}

func (a *App) runDispatch(ctx context.Context) error {
	if err := a.cfg.ValidateDispatch(); err != nil {
		return &cli.ExitError{Code: 2, Message: fmt.Sprintf("invalid configuration: %v", err)}
	}

	d, closeFn, err := a.openDispatcher(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := d.Dispatch(ctx)
	a.pushMetrics()
	if err != nil {
		return &cli.ExitError{Code: 1, Message: fmt.Sprintf("dispatch failed: %v", err)}
	}
	a.writeJSON(res)
	return nil
}

func (a *App) printLedger(ctx context.Context) error {
	ledger, db, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}
	enc := json.NewEncoder(a.outW)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) writeJSON(v any) {
	if err := json.NewEncoder(a.outW).Encode(v); err != nil {
		a.logger.Warn("write_result_failed", "error", err.Error())
	}
}

// pushMetrics sends the run metrics to the Pushgateway when one is configured.
func (a *App) pushMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, a.registry); err != nil {
		a.logger.Warn("metrics_push_failed", "error", err.Error())
	}
}

func (a *App) registerRuntimeCollectors() {
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// mailTemplate returns the fixed message fields from configuration.
func (a *App) mailTemplate() mail.Message {
	return mail.MessageFromConfig(a.cfg.Mail)
}
