package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/approval"
)

// statusFor maps service and domain errors to HTTP status codes.
// Anything unrecognised is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrUnknownUser),
		errors.Is(err, service.ErrNoWorkflow),
		errors.Is(err, approval.ErrInvalidDecision),
		errors.Is(err, approval.ErrMissingComment),
		errors.Is(err, approval.ErrEmptyWorkflow),
		errors.Is(err, approval.ErrInvalidStep),
		errors.Is(err, approval.ErrInvalidRuleConfig):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, approval.ErrNoPendingApproval):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrNoReceipt):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, approval.ErrAlreadyFinalized),
		errors.Is(err, port.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrReceiptTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends the error envelope. Client errors carry the error text;
// server errors are logged and answered with a generic message.
func (h *Handlers) writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "path", c.Request.URL.Path, "error", err)
		c.JSON(status, Response{Success: false, Error: "internal server error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: message})
}
