package engine

import (
	"fmt"

	"workflowup/backend/pkg/models"
)

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GuardError reports a command attempted while its precondition is false.
type GuardError struct {
	Command Command
	Reason  string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s not permitted: %s", e.Command, e.Reason)
}

// AuthorizationError reports an actor whose role does not match the command.
type AuthorizationError struct {
	Actor    string
	Role     models.Role
	Required models.Role
	Reason   string
}

func (e *AuthorizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("actor %q not authorized: %s", e.Actor, e.Reason)
	}
	return fmt.Sprintf("actor %q with role %q not authorized, requires %q", e.Actor, e.Role, e.Required)
}

// NotFoundError reports a missing workflow, test case or user.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func refuse(cmd Command, format string, args ...any) error {
	return &GuardError{Command: cmd, Reason: fmt.Sprintf(format, args...)}
}
