// Package api contains the HTTP handlers for the workflow service
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"workflowup/backend/internal/engine"
	"workflowup/backend/internal/logging"
	"workflowup/backend/internal/repository"
	"workflowup/backend/internal/services"
	"workflowup/backend/pkg/models"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers for the workflow REST API
type Handler struct {
	svc    *services.WorkflowService
	db     Pinger
	logger *logging.Logger
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(svc *services.WorkflowService, db Pinger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{svc: svc, db: db, logger: logger}
}

// HandleHealth reports service health. The database check turns the status
// to degraded with 503 when it fails.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:  "ok",
		Service: "workflowup",
		Version: Version,
		Checks:  map[string]string{},
	}
	code := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(c.Request().Context()); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Checks["database"] = "ok"
		}
	}
	return c.JSON(code, status)
}

// ErrorHandler renders every error as an RFC 7807 Problem Details response.
// It is installed as echo's HTTPErrorHandler.
func (h *Handler) ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, title := classify(err)
	detail := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
	}
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "request_id", requestID, "path", c.Path(), "error", err)
		if status == http.StatusInternalServerError {
			detail = "internal error"
		}
	}

	problem := models.ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: requestID,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(status)
	if c.Request().Method == http.MethodHead {
		return
	}
	if err := c.Echo().JSONSerializer.Serialize(c, problem, ""); err != nil {
		h.logger.Error("failed to write problem response", "error", err)
	}
}

// classify maps an error onto an HTTP status and problem title.
func classify(err error) (int, string) {
	var (
		verr *engine.ValidationError
		gerr *engine.GuardError
		aerr *engine.AuthorizationError
		nerr *engine.NotFoundError
		he   *echo.HTTPError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, "Validation failed"
	case errors.As(err, &gerr):
		return http.StatusConflict, "Action not permitted"
	case errors.As(err, &aerr):
		return http.StatusForbidden, "Forbidden"
	case errors.As(err, &nerr):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusServiceUnavailable, "Concurrent update, retry"
	case errors.As(err, &he):
		return he.Code, http.StatusText(he.Code)
	}
	return http.StatusInternalServerError, "Internal server error"
}
