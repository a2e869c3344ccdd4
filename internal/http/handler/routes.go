package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resumesync/internal/ctxlog"
	"resumesync/internal/errs"
	"resumesync/internal/repository"
	"resumesync/internal/service"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators served by the HTTP control surface.
type Deps struct {
	Ledger   repository.LedgerRepository
	Health   Pinger
	Sync     service.SyncRunner
	Dispatch service.DispatchRunner
	Gatherer prometheus.Gatherer
	OpenAPI  []byte
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/openapi.yaml", OpenAPISpec(d.OpenAPI))
	app.Get("/health", HealthCheck(d.Health))
	app.Get("/healthz", LivenessProbe())
	app.Get("/metrics", Metrics(d.Gatherer))
	app.Get("/applicants", ListApplicants(d.Ledger))
	app.Post("/sync", TriggerSync(d.Sync))
	app.Post("/dispatch", TriggerDispatch(d.Dispatch))
}

// OpenAPISpec serves the embedded API description.
func OpenAPISpec(doc []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(doc) == 0 {
			return fiber.ErrNotFound
		}
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(doc)
	}
}

// HealthCheck pings the ledger.
func HealthCheck(p Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, codeServiceUnavailable, "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// Metrics exposes the Prometheus registry.
func Metrics(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// ListApplicants returns every ledger entry.
func ListApplicants(ledger repository.LedgerRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		items, err := ledger.List(c.UserContext())
		if err != nil {
			ctxlog.FromContext(c.UserContext()).Error("list_applicants_failed", "error", err.Error())
			if errors.Is(err, errs.ErrStorageUnavailable) {
				return writeError(c, fiber.StatusServiceUnavailable, codeLedgerUnavailable, "ledger unavailable")
			}
			return writeError(c, fiber.StatusInternalServerError, codeInternal, "internal server error")
		}
		return c.JSON(fiber.Map{"data": items, "total": len(items)})
	}
}

// TriggerSync runs one sync and returns its result.
func TriggerSync(runner service.SyncRunner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := runner.Run(c.UserContext())
		switch {
		case errors.Is(err, service.ErrRunInProgress):
			return writeError(c, fiber.StatusConflict, codeRunInProgress, "a sync is already running")
		case errors.Is(err, errs.ErrStorageUnavailable), errors.Is(err, errs.ErrSourceUnavailable):
			return writeError(c, fiber.StatusServiceUnavailable, codeSyncAborted, "sync aborted: dependency unavailable")
		case err != nil:
			return writeError(c, fiber.StatusInternalServerError, codeSyncAborted, "sync aborted")
		}
		return c.JSON(res)
	}
}

// TriggerDispatch sends the pending artifacts and returns the dispatch result.
func TriggerDispatch(runner service.DispatchRunner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := runner.Dispatch(c.UserContext())
		switch {
		case errors.Is(err, service.ErrRunInProgress):
			return writeError(c, fiber.StatusConflict, codeRunInProgress, "a dispatch is already running")
		case errors.Is(err, errs.ErrDispatch):
			return writeError(c, fiber.StatusBadGateway, codeDispatchFailed, "dispatch failed")
		case err != nil:
			return writeError(c, fiber.StatusInternalServerError, codeInternal, "internal server error")
		}
		return c.JSON(res)
	}
}
