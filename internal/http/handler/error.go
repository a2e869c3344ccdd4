package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"resumesync/internal/ctxlog"
	"resumesync/internal/http/middleware"
)

// Machine-readable codes of the error envelope.
const (
	codeBadRequest         = "BAD_REQUEST"
	codeNotFound           = "NOT_FOUND"
	codeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	codeTimeout            = "TIMEOUT"
	codeInternal           = "INTERNAL_ERROR"
	codeServiceUnavailable = "SERVICE_UNAVAILABLE"
	codeLedgerUnavailable  = "LEDGER_UNAVAILABLE"
	codeRunInProgress      = "RUN_IN_PROGRESS"
	codeSyncAborted        = "SYNC_ABORTED"
	codeDispatchFailed     = "DISPATCH_FAILED"
)

// errorPayload is the body of every non-2xx response.
type errorPayload struct {
	RequestID string    `json:"request_id"`
	Error     errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// routingErrors covers the statuses fiber raises before any route handler runs.
var routingErrors = map[int]errorBody{
	fiber.StatusBadRequest:       {Code: codeBadRequest, Message: "bad request"},
	fiber.StatusNotFound:         {Code: codeNotFound, Message: "resource not found"},
	fiber.StatusMethodNotAllowed: {Code: codeMethodNotAllowed, Message: "method not allowed"},
	fiber.StatusRequestTimeout:   {Code: codeTimeout, Message: "request timed out"},
}

// writeError answers with status and the envelope. message goes to clients as is.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	rid, _ := c.Locals(middleware.RequestIDLocalKey).(string)
	return c.Status(status).JSON(errorPayload{
		RequestID: rid,
		Error:     errorBody{Code: code, Message: message},
	})
}

// ErrorHandler turns errors returned by routes and middleware into the envelope.
// Anything that is not a known routing error is logged and answered as INTERNAL_ERROR.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			if body, ok := routingErrors[fe.Code]; ok {
				return writeError(c, fe.Code, body.Code, body.Message)
			}
			status = fe.Code
		}

		ctxlog.FromContext(c.UserContext()).Error("unhandled_error",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"error", err.Error(),
		)
		return writeError(c, status, codeInternal, "internal server error")
	}
}
