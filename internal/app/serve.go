package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"

	"resumesync/api"
	"resumesync/internal/errs"
	handlers "resumesync/internal/http/handler"
	"resumesync/internal/http/middleware"
	"resumesync/internal/service"
)

const shutdownTimeout = 10 * time.Second

// unavailableSync answers every trigger with the reason the sync runner could not be built.
type unavailableSync struct{ err error }

func (u unavailableSync) Run(context.Context) (*service.SyncResult, error) { return nil, u.err }

// unavailableDispatch answers every trigger with the reason the dispatcher could not be built.
type unavailableDispatch struct{ err error }

func (u unavailableDispatch) Dispatch(context.Context) (*service.DispatchResult, error) {
	return nil, u.err
}

// serve runs the HTTP control surface until ctx is cancelled.
func (a *App) serve(ctx context.Context) error {
	logger := a.logger
	a.registerRuntimeCollectors()

	ledger, ledgerDB, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer ledgerDB.Close()

	var syncRunner service.SyncRunner
	if err := a.cfg.ValidateSync(); err != nil {
		logger.Warn("sync_disabled", "error", err.Error())
		syncRunner = unavailableSync{err: errs.New(errs.ErrSourceUnavailable, "sync.config", err)}
	} else {
		deps, err := a.openSyncDeps(ctx)
		if err != nil {
			logger.Warn("sync_disabled", "error", err.Error())
			syncRunner = unavailableSync{err: errs.New(errs.ErrSourceUnavailable, "sync.open", err)}
		} else {
			defer deps.Close()
			syncRunner = service.NewSyncService(deps.ledger, deps.source, deps.fetcher, a.cfg.Ledger.LoadFailurePolicy, a.metrics)
		}
	}

	var dispatchRunner service.DispatchRunner
	if err := a.cfg.ValidateDispatch(); err != nil {
		logger.Warn("dispatch_disabled", "error", err.Error())
		dispatchRunner = unavailableDispatch{err: errs.New(errs.ErrDispatch, "dispatch.config", fmt.Errorf("mail not configured: %w", err))}
	} else {
		d, closeFn, err := a.openDispatcher(ctx)
		if err != nil {
			logger.Warn("dispatch_disabled", "error", err.Error())
			dispatchRunner = unavailableDispatch{err: errs.New(errs.ErrDispatch, "dispatch.open", err)}
		} else {
			defer closeFn()
			dispatchRunner = d
		}
	}

	promMW, err := middleware.NewPrometheusMiddleware(a.registry)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
	})
	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(logger))
	app.Use(middleware.Recover(logger))
	app.Use(promMW.Handler())

	handlers.RegisterRoutes(app, handlers.Deps{
		Ledger:   ledger,
		Health:   ledger,
		Sync:     syncRunner,
		Dispatch: dispatchRunner,
		Gatherer: a.registry,
		OpenAPI:  api.OpenAPI,
	})

	addr := ":" + a.cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_started", "addr", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server_stopping")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
