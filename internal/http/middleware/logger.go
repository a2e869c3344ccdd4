package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"resumesync/internal/ctxlog"
)

// Logger is a middleware that logs each HTTP request as one structured line.
// Fields: request_id (from RequestID), method, path, status, latency in milliseconds.
// The request-scoped logger is also stored in the user context so service logs carry request_id.
func Logger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		rid, _ := c.Locals(RequestIDLocalKey).(string)

		reqLogger := logger.With("request_id", rid)
		c.SetUserContext(ctxlog.WithLogger(c.UserContext(), reqLogger))

		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		reqLogger.Info("http_request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", float64(time.Since(start).Microseconds())/1000,
		)
		return err
	}
}
