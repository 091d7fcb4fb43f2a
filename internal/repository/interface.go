package repository

import (
	"context"
	"errors"

	"workflowup/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a transaction lost a race with another
	// writer. The command had no effect and may be resubmitted.
	ErrConflict = errors.New("transaction conflict")
)

// Store opens transactions against workflow storage.
type Store interface {
	// InTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Tx is the set of reads and writes available inside a transaction.
type Tx interface {
	// GetUser returns the identity-store entry for username.
	GetUser(ctx context.Context, username string) (models.User, error)
	// UpsertUser creates or replaces an identity-store entry.
	UpsertUser(ctx context.Context, user models.User) error

	// InsertWorkflow stores a new workflow and returns it with its id set.
	InsertWorkflow(ctx context.Context, w models.Workflow) (models.Workflow, error)
	// GetWorkflow reads a workflow. With lock set the row is held until the
	// transaction ends.
	GetWorkflow(ctx context.Context, id int64, lock bool) (models.Workflow, error)
	// UpdateWorkflow writes the mutable workflow fields.
	UpdateWorkflow(ctx context.Context, w models.Workflow) error
	// ListWorkflows returns workflows matching filter, newest first.
	ListWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]models.Workflow, error)

	// ListActivities returns the log of one workflow in append order.
	ListActivities(ctx context.Context, workflowID int64) ([]models.Activity, error)
	// ActivitiesFor returns the logs of several workflows keyed by id.
	ActivitiesFor(ctx context.Context, workflowIDs []int64) (map[int64][]models.Activity, error)
	// AppendActivity inserts an activity with its id already assigned.
	AppendActivity(ctx context.Context, a models.Activity) error

	// ListTestCases returns the test plan of one workflow ordered by id.
	ListTestCases(ctx context.Context, workflowID int64) ([]models.TestCase, error)
	// InsertTestCase inserts a test case with its id already assigned.
	InsertTestCase(ctx context.Context, tc models.TestCase) error
	// UpdateTestCase writes progress and result of an existing test case.
	UpdateTestCase(ctx context.Context, tc models.TestCase) error
}
