package services

import (
	"errors"

	"workflowup/backend/internal/engine"
	"workflowup/backend/internal/repository"
)

// Command outcomes used in logs and metrics.
const (
	OutcomeOK        = "ok"
	OutcomeInvalid   = "invalid"
	OutcomeRefused   = "refused"
	OutcomeForbidden = "forbidden"
	OutcomeNotFound  = "not_found"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

// Outcome classifies a command error.
func Outcome(err error) string {
	var (
		verr *engine.ValidationError
		gerr *engine.GuardError
		aerr *engine.AuthorizationError
		nerr *engine.NotFoundError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &verr):
		return OutcomeInvalid
	case errors.As(err, &gerr):
		return OutcomeRefused
	case errors.As(err, &aerr):
		return OutcomeForbidden
	case errors.As(err, &nerr):
		return OutcomeNotFound
	case errors.Is(err, repository.ErrConflict):
		return OutcomeConflict
	}
	return OutcomeError
}
