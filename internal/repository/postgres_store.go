package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"workflowup/backend/pkg/models"
)

const (
	workflowColumns = "workflow_id, project_code, project_name, description, component, manager, " +
		"baseline_label, rm_code, release_tag, created_on, qa_target, pap_target"
	activityColumns = "workflow_id, activity_id, created_at, actor, workflow_state, process, process_state, label, comment"
	testCaseColumns = "workflow_id, test_id, description, progress, result"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Ping checks the connection pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InTx runs fn inside a SERIALIZABLE transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, &pgTx{tx: tx, sb: s.sb}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// classify maps serialization failures, deadlocks and duplicate keys onto
// ErrConflict and leaves every other error untouched.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
	sb sq.StatementBuilderType
}

func (t *pgTx) exec(ctx context.Context, q sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build query: %w", err)
	}
	return t.tx.Exec(ctx, query, args...)
}

func (t *pgTx) query(ctx context.Context, q sq.Sqlizer) (pgx.Rows, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return t.tx.Query(ctx, query, args...)
}

func (t *pgTx) queryRow(ctx context.Context, q sq.Sqlizer) (pgx.Row, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return t.tx.QueryRow(ctx, query, args...), nil
}

// GetUser retrieves a user by username.
func (t *pgTx) GetUser(ctx context.Context, username string) (models.User, error) {
	row, err := t.queryRow(ctx, t.sb.
		Select("username, email, first_name, last_name, role, active").
		From("users").
		Where(sq.Eq{"username": username}))
	if err != nil {
		return models.User{}, err
	}
	var u models.User
	if err := row.Scan(&u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("get user %s: %w", username, err)
	}
	return u, nil
}

// UpsertUser inserts a user or overwrites the existing row.
func (t *pgTx) UpsertUser(ctx context.Context, u models.User) error {
	_, err := t.exec(ctx, t.sb.
		Insert("users").
		Columns("username", "email", "first_name", "last_name", "role", "active").
		Values(u.Username, u.Email, u.FirstName, u.LastName, string(u.Role), u.Active).
		Suffix("ON CONFLICT (username) DO UPDATE SET email = EXCLUDED.email, first_name = EXCLUDED.first_name, " +
			"last_name = EXCLUDED.last_name, role = EXCLUDED.role, active = EXCLUDED.active"))
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.Username, err)
	}
	return nil
}

// InsertWorkflow stores a workflow and scans back its generated id.
func (t *pgTx) InsertWorkflow(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	row, err := t.queryRow(ctx, t.sb.
		Insert("workflows").
		SetMap(sq.Eq{
			"project_code":   w.ProjectCode,
			"project_name":   w.ProjectName,
			"description":    w.Description,
			"component":      w.Component,
			"manager":        w.Manager,
			"baseline_label": nullable(w.BaselineLabel),
			"rm_code":        nullable(w.RMCode),
			"release_tag":    nullable(w.ReleaseTag),
			"created_on":     w.CreatedOn,
			"qa_target":      w.QATarget,
			"pap_target":     w.PAPTarget,
		}).
		Suffix("RETURNING workflow_id"))
	if err != nil {
		return models.Workflow{}, err
	}
	if err := row.Scan(&w.ID); err != nil {
		return models.Workflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	return w, nil
}

// GetWorkflow reads one workflow, optionally with SELECT ... FOR UPDATE.
func (t *pgTx) GetWorkflow(ctx context.Context, id int64, lock bool) (models.Workflow, error) {
	q := t.sb.Select(workflowColumns).From("workflows").Where(sq.Eq{"workflow_id": id})
	if lock {
		q = q.Suffix("FOR UPDATE")
	}
	row, err := t.queryRow(ctx, q)
	if err != nil {
		return models.Workflow{}, err
	}
	w, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Workflow{}, ErrNotFound
		}
		return models.Workflow{}, fmt.Errorf("get workflow %d: %w", id, err)
	}
	return w, nil
}

// UpdateWorkflow writes the fields that may change after creation.
func (t *pgTx) UpdateWorkflow(ctx context.Context, w models.Workflow) error {
	tag, err := t.exec(ctx, t.sb.
		Update("workflows").
		SetMap(sq.Eq{
			"baseline_label": nullable(w.BaselineLabel),
			"rm_code":        nullable(w.RMCode),
			"release_tag":    nullable(w.ReleaseTag),
			"qa_target":      w.QATarget,
			"pap_target":     w.PAPTarget,
		}).
		Where(sq.Eq{"workflow_id": w.ID}))
	if err != nil {
		return fmt.Errorf("update workflow %d: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkflows returns workflows matching the filter, newest first.
func (t *pgTx) ListWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]models.Workflow, error) {
	q := t.sb.Select(workflowColumns).From("workflows").OrderBy("workflow_id DESC")
	if filter.Manager != "" {
		q = q.Where(sq.Eq{"manager": filter.Manager})
	}
	if filter.ProjectCode != "" {
		q = q.Where(sq.Eq{"project_code": filter.ProjectCode})
	}
	if filter.Component != "" {
		q = q.Where(sq.Eq{"component": filter.Component})
	}
	if filter.Search != "" {
		q = q.Where(sq.ILike{"project_name": "%" + filter.Search + "%"})
	}
	if filter.IDs != nil {
		q = q.Where(sq.Eq{"workflow_id": filter.IDs})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	rows, err := t.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// ListActivities returns one workflow's activity log in append order.
func (t *pgTx) ListActivities(ctx context.Context, workflowID int64) ([]models.Activity, error) {
	byID, err := t.ActivitiesFor(ctx, []int64{workflowID})
	if err != nil {
		return nil, err
	}
	return byID[workflowID], nil
}

// ActivitiesFor loads the logs of several workflows in one query.
func (t *pgTx) ActivitiesFor(ctx context.Context, workflowIDs []int64) (map[int64][]models.Activity, error) {
	out := make(map[int64][]models.Activity, len(workflowIDs))
	if len(workflowIDs) == 0 {
		return out, nil
	}
	rows, err := t.query(ctx, t.sb.
		Select(activityColumns).
		From("activities").
		Where(sq.Eq{"workflow_id": workflowIDs}).
		OrderBy("workflow_id", "activity_id"))
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a                               models.Activity
			state, process, pstate, comment pgtype.Text
		)
		if err := rows.Scan(&a.WorkflowID, &a.ActivityID, &a.CreatedAt, &a.Actor,
			&state, &process, &pstate, &a.Label, &comment); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		a.WorkflowState = models.WorkflowState(state.String)
		a.Process = models.Process(process.String)
		a.ProcessState = models.ProcessState(pstate.String)
		a.Comment = comment.String
		out[a.WorkflowID] = append(out[a.WorkflowID], a)
	}
	return out, rows.Err()
}

// AppendActivity inserts one activity. A duplicate id surfaces as ErrConflict.
func (t *pgTx) AppendActivity(ctx context.Context, a models.Activity) error {
	_, err := t.exec(ctx, t.sb.
		Insert("activities").
		SetMap(sq.Eq{
			"workflow_id":    a.WorkflowID,
			"activity_id":    a.ActivityID,
			"created_at":     a.CreatedAt,
			"actor":          a.Actor,
			"workflow_state": nullable(string(a.WorkflowState)),
			"process":        nullable(string(a.Process)),
			"process_state":  nullable(string(a.ProcessState)),
			"label":          a.Label,
			"comment":        nullable(a.Comment),
		}))
	if err != nil {
		return fmt.Errorf("append activity %d/%d: %w", a.WorkflowID, a.ActivityID, err)
	}
	return nil
}

// ListTestCases returns the test plan ordered by test id.
func (t *pgTx) ListTestCases(ctx context.Context, workflowID int64) ([]models.TestCase, error) {
	rows, err := t.query(ctx, t.sb.
		Select(testCaseColumns).
		From("test_cases").
		Where(sq.Eq{"workflow_id": workflowID}).
		OrderBy("test_id"))
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	var tests []models.TestCase
	for rows.Next() {
		var tc models.TestCase
		if err := rows.Scan(&tc.WorkflowID, &tc.TestID, &tc.Description, &tc.Progress, &tc.Result); err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		tests = append(tests, tc)
	}
	return tests, rows.Err()
}

// InsertTestCase inserts one test case with its id already assigned.
func (t *pgTx) InsertTestCase(ctx context.Context, tc models.TestCase) error {
	_, err := t.exec(ctx, t.sb.
		Insert("test_cases").
		Columns("workflow_id", "test_id", "description", "progress", "result").
		Values(tc.WorkflowID, tc.TestID, tc.Description, tc.Progress, string(tc.Result)))
	if err != nil {
		return fmt.Errorf("insert test case %d/%d: %w", tc.WorkflowID, tc.TestID, err)
	}
	return nil
}

// UpdateTestCase writes progress and result.
func (t *pgTx) UpdateTestCase(ctx context.Context, tc models.TestCase) error {
	tag, err := t.exec(ctx, t.sb.
		Update("test_cases").
		Set("progress", tc.Progress).
		Set("result", string(tc.Result)).
		Where(sq.Eq{"workflow_id": tc.WorkflowID, "test_id": tc.TestID}))
	if err != nil {
		return fmt.Errorf("update test case %d/%d: %w", tc.WorkflowID, tc.TestID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWorkflow(row pgx.Row) (models.Workflow, error) {
	var (
		w                    models.Workflow
		label, code, release pgtype.Text
	)
	err := row.Scan(&w.ID, &w.ProjectCode, &w.ProjectName, &w.Description, &w.Component, &w.Manager,
		&label, &code, &release, &w.CreatedOn, &w.QATarget, &w.PAPTarget)
	if err != nil {
		return models.Workflow{}, err
	}
	w.BaselineLabel = label.String
	w.RMCode = code.String
	w.ReleaseTag = release.String
	return w, nil
}

// nullable maps the empty string onto SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

