package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"workflowup/backend/internal/engine"
	"workflowup/backend/internal/logging"
	"workflowup/backend/internal/observability"
	"workflowup/backend/internal/repository"
	"workflowup/backend/pkg/models"
)

// WorkflowService runs workflow commands and queries. Every command is one
// storage transaction: load, guard, authorize, then append or mutate.
type WorkflowService struct {
	store   repository.Store
	logger  *logging.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a WorkflowService.
type Option func(*WorkflowService)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *WorkflowService) { s.logger = l }
}

// WithMetrics sets the command metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *WorkflowService) { s.metrics = m }
}

// WithClock replaces the server clock.
func WithClock(now func() time.Time) Option {
	return func(s *WorkflowService) { s.now = now }
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store repository.Store, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		store:  store,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentState is the projection returned by GetCurrentState.
type CurrentState struct {
	WorkflowID    int64                                  `json:"workflow_id"`
	WorkflowState models.WorkflowState                   `json:"workflow_state"`
	Processes     map[models.Process]models.ProcessState `json:"processes"`
}

// loaded is everything a command body sees.
type loaded struct {
	snap  engine.Snapshot
	actor models.User
}

// CreateWorkflow creates a workflow owned by managerID and seeds its log
// with the creation activity.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, managerID string, in models.NewWorkflow) (models.Workflow, error) {
	managerID = engine.NormalizeUsername(managerID)
	var out models.Workflow
	err := s.run(ctx, engine.CommandCreate, 0, managerID, func(ctx context.Context, tx repository.Tx) (int64, error) {
		manager, err := s.user(ctx, tx, managerID)
		if err != nil {
			return 0, err
		}
		if manager.Role == "" {
			return 0, &engine.ValidationError{Field: "manager", Reason: fmt.Sprintf("user %s does not exist", managerID)}
		}
		if err := engine.ValidateManager(manager); err != nil {
			return 0, err
		}
		now := s.clock()
		w, err := engine.NewWorkflow(managerID, in, now)
		if err != nil {
			return 0, err
		}
		if out, err = tx.InsertWorkflow(ctx, w); err != nil {
			return 0, err
		}
		a := models.Activity{
			WorkflowID:    out.ID,
			ActivityID:    engine.NextActivityID(nil),
			CreatedAt:     now,
			Actor:         managerID,
			WorkflowState: models.WorkflowNew,
			Label:         engine.LabelCreated,
		}
		if err := s.append(ctx, tx, a); err != nil {
			return 0, err
		}
		return a.ActivityID, nil
	})
	return out, err
}

// RequestProcess asks the reviewers of process p for a decision.
func (s *WorkflowService) RequestProcess(ctx context.Context, workflowID int64, p models.Process, actorID, comment string) (models.Activity, error) {
	var out models.Activity
	err := s.command(ctx, engine.RequestCommand(p), workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		if err := l.snap.CanRequest(p); err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, models.RoleManager, l.snap.Workflow); err != nil {
			return 0, err
		}
		if err := engine.ValidateComment(comment); err != nil {
			return 0, err
		}
		out = s.stamp(l, l.snap.NextActivity(p, models.ProcessInProgress, comment))
		return out.ActivityID, s.append(ctx, tx, out)
	})
	return out, err
}

// DecideProcess records an approval or rejection of process p.
func (s *WorkflowService) DecideProcess(ctx context.Context, workflowID int64, p models.Process, actorID string, d models.Decision, comment string) (models.Activity, error) {
	var out models.Activity
	err := s.command(ctx, engine.DecideCommand(p, d), workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		if err := l.snap.CanDecide(p, d, comment); err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, engine.ReviewerRole(p), l.snap.Workflow); err != nil {
			return 0, err
		}
		if err := engine.ValidateComment(comment); err != nil {
			return 0, err
		}
		out = s.stamp(l, l.snap.NextActivity(p, d.ProcessState(), comment))
		return out.ActivityID, s.append(ctx, tx, out)
	})
	return out, err
}

// CancelWorkflow moves the workflow to the terminal Cancelled state.
func (s *WorkflowService) CancelWorkflow(ctx context.Context, workflowID int64, actorID string) (models.Activity, error) {
	var out models.Activity
	err := s.command(ctx, engine.CommandCancel, workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		if err := l.snap.CanCancel(); err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, models.RoleManager, l.snap.Workflow); err != nil {
			return 0, err
		}
		out = s.stamp(l, models.Activity{
			WorkflowID:    workflowID,
			WorkflowState: models.WorkflowCancelled,
			Label:         engine.LabelCancelled,
		})
		return out.ActivityID, s.append(ctx, tx, out)
	})
	return out, err
}

// CloseWorkflow moves a workflow whose QA is approved to Closed.
func (s *WorkflowService) CloseWorkflow(ctx context.Context, workflowID int64, actorID, comment string) (models.Activity, error) {
	var out models.Activity
	err := s.command(ctx, engine.CommandClose, workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		if err := l.snap.CanClose(); err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, models.RoleManager, l.snap.Workflow); err != nil {
			return 0, err
		}
		if err := engine.ValidateComment(comment); err != nil {
			return 0, err
		}
		out = s.stamp(l, models.Activity{
			WorkflowID:    workflowID,
			WorkflowState: models.WorkflowClosed,
			Label:         engine.LabelClosed,
			Comment:       comment,
		})
		return out.ActivityID, s.append(ctx, tx, out)
	})
	return out, err
}

// UpdateField writes one mutable workflow field. No activity is appended.
func (s *WorkflowService) UpdateField(ctx context.Context, workflowID int64, f models.Field, value, actorID string) (models.Workflow, error) {
	var out models.Workflow
	err := s.command(ctx, engine.UpdateCommand(f), workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		if err := l.snap.CanUpdateField(f); err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, engine.EditorRole(f), l.snap.Workflow); err != nil {
			return 0, err
		}
		w, err := engine.ApplyField(l.snap.Workflow, f, value)
		if err != nil {
			return 0, err
		}
		out = w
		return 0, tx.UpdateWorkflow(ctx, w)
	})
	return out, err
}

// UpdateTargetDates writes both target dates at once.
func (s *WorkflowService) UpdateTargetDates(ctx context.Context, workflowID int64, qa, pap time.Time, actorID string) (models.Workflow, error) {
	var out models.Workflow
	err := s.command(ctx, engine.UpdateCommand(models.FieldQATarget), workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		if err := l.snap.CanUpdateField(models.FieldQATarget); err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, engine.EditorRole(models.FieldQATarget), l.snap.Workflow); err != nil {
			return 0, err
		}
		w := l.snap.Workflow
		w.QATarget, w.PAPTarget = engine.DateOf(qa), engine.DateOf(pap)
		if err := engine.ValidateTargets(w.QATarget, w.PAPTarget); err != nil {
			return 0, err
		}
		out = w
		return 0, tx.UpdateWorkflow(ctx, w)
	})
	return out, err
}

// AddTestCase appends an entry to the test plan.
func (s *WorkflowService) AddTestCase(ctx context.Context, workflowID int64, actorID, description string) (models.TestCase, error) {
	var out models.TestCase
	err := s.command(ctx, engine.CommandAddTest, workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		if err := l.snap.CanAddTest(); err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, models.RoleManager, l.snap.Workflow); err != nil {
			return 0, err
		}
		tc, err := engine.NewTestCase(workflowID, engine.NextTestID(l.snap.Tests), description)
		if err != nil {
			return 0, err
		}
		out = tc
		return 0, tx.InsertTestCase(ctx, tc)
	})
	return out, err
}

// SetTestProgress records QA progress on one test case.
func (s *WorkflowService) SetTestProgress(ctx context.Context, workflowID, testID int64, actorID string, percent int) (models.TestCase, error) {
	var out models.TestCase
	err := s.command(ctx, engine.CommandSetProgress, workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		tc, err := findTest(l.snap.Tests, workflowID, testID)
		if err != nil {
			return 0, err
		}
		if err := l.snap.CanRunTests(engine.CommandSetProgress); err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, models.RoleQA, l.snap.Workflow); err != nil {
			return 0, err
		}
		if out, err = engine.SetProgress(tc, percent); err != nil {
			return 0, err
		}
		return 0, tx.UpdateTestCase(ctx, out)
	})
	return out, err
}

// ToggleTestReject flips one test case between rejected and not started.
func (s *WorkflowService) ToggleTestReject(ctx context.Context, workflowID, testID int64, actorID string) (models.TestCase, error) {
	var out models.TestCase
	err := s.command(ctx, engine.CommandToggleReject, workflowID, actorID, func(ctx context.Context, tx repository.Tx, l loaded) (int64, error) {
		tc, err := findTest(l.snap.Tests, workflowID, testID)
		if err != nil {
			return 0, err
		}
		if err := l.snap.CanRunTests(engine.CommandToggleReject); err != nil {
			return 0, err
		}
		toggled, err := engine.ToggleReject(tc)
		if err != nil {
			return 0, err
		}
		if err := engine.Authorize(l.actor, models.RoleQA, l.snap.Workflow); err != nil {
			return 0, err
		}
		out = toggled
		return 0, tx.UpdateTestCase(ctx, out)
	})
	return out, err
}

// GetWorkflow returns the workflow row.
func (s *WorkflowService) GetWorkflow(ctx context.Context, workflowID int64) (models.Workflow, error) {
	snap, err := s.snapshot(ctx, workflowID)
	return snap.Workflow, err
}

// GetCurrentState returns the workflow state and every process state.
func (s *WorkflowService) GetCurrentState(ctx context.Context, workflowID int64) (CurrentState, error) {
	snap, err := s.snapshot(ctx, workflowID)
	if err != nil {
		return CurrentState{}, err
	}
	st := snap.State()
	return CurrentState{WorkflowID: workflowID, WorkflowState: st.WorkflowState, Processes: st.Processes}, nil
}

// ListActivities returns the activity log in append order.
func (s *WorkflowService) ListActivities(ctx context.Context, workflowID int64) ([]models.Activity, error) {
	snap, err := s.snapshot(ctx, workflowID)
	return snap.Activities, err
}

// ListTestCases returns the test plan.
func (s *WorkflowService) ListTestCases(ctx context.Context, workflowID int64) ([]models.TestCase, error) {
	snap, err := s.snapshot(ctx, workflowID)
	return snap.Tests, err
}

// GetActions returns the enabled action flags for actorID.
func (s *WorkflowService) GetActions(ctx context.Context, workflowID int64, actorID string) (engine.Actions, error) {
	var out engine.Actions
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		snap, err := s.load(ctx, tx, workflowID, false)
		if err != nil {
			return err
		}
		actor, err := s.user(ctx, tx, engine.NormalizeUsername(actorID))
		if err != nil {
			return err
		}
		out = engine.ActionsFor(snap, actor)
		return nil
	})
	return out, err
}

// ListWorkflowsFor returns the dashboard of actorID acting as role. Role and
// actor must match the identity store; filter narrows the result.
func (s *WorkflowService) ListWorkflowsFor(ctx context.Context, role models.Role, actorID string, filter models.WorkflowFilter) ([]models.Workflow, error) {
	actorID = engine.NormalizeUsername(actorID)
	var out []models.Workflow
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		actor, err := s.user(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if !actor.Active || actor.Role != role {
			return &engine.AuthorizationError{Actor: actorID, Role: actor.Role, Required: role, Reason: "dashboard role does not match user"}
		}

		limit := filter.Limit
		switch role {
		case models.RoleManager:
			filter.Manager = actorID
		case models.RoleAdmin:
		default:
			filter.Limit = 0
		}
		workflows, err := tx.ListWorkflows(ctx, filter)
		if err != nil {
			return err
		}
		if role == models.RoleAdmin || role == models.RoleManager {
			out = workflows
			return nil
		}

		ids := make([]int64, len(workflows))
		for i, w := range workflows {
			ids[i] = w.ID
		}
		logs, err := tx.ActivitiesFor(ctx, ids)
		if err != nil {
			return err
		}
		for _, w := range workflows {
			if !engine.Visible(engine.Snapshot{Workflow: w, Activities: logs[w.ID]}, actor) {
				continue
			}
			out = append(out, w)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// command wraps a workflow-scoped command: it locks the workflow, loads the
// snapshot and actor, then runs body.
func (s *WorkflowService) command(ctx context.Context, cmd engine.Command, workflowID int64, actorID string,
	body func(ctx context.Context, tx repository.Tx, l loaded) (int64, error)) error {
	actorID = engine.NormalizeUsername(actorID)
	return s.run(ctx, cmd, workflowID, actorID, func(ctx context.Context, tx repository.Tx) (int64, error) {
		snap, err := s.load(ctx, tx, workflowID, true)
		if err != nil {
			return 0, err
		}
		actor, err := s.user(ctx, tx, actorID)
		if err != nil {
			return 0, err
		}
		return body(ctx, tx, loaded{snap: snap, actor: actor})
	})
}

// run executes body in a transaction and records the outcome.
func (s *WorkflowService) run(ctx context.Context, cmd engine.Command, workflowID int64, actorID string,
	body func(ctx context.Context, tx repository.Tx) (int64, error)) error {
	ctx, span := observability.StartSpan(ctx, "workflow."+string(cmd),
		attribute.Int64("workflow_id", workflowID),
		attribute.String("actor", actorID))
	defer span.End()

	var activityID int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		id, err := body(ctx, tx)
		activityID = id
		return err
	})

	result := Outcome(err)
	s.metrics.RecordCommand(ctx, string(cmd), result)
	log := s.logger.With("command", string(cmd), "workflow_id", workflowID, "actor", actorID)
	switch result {
	case OutcomeOK:
		log.Info("command applied", "activity_id", activityID)
	case OutcomeError, OutcomeConflict:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("command failed", "error", err)
	default:
		log.Info("command refused", "outcome", result, "reason", err.Error())
	}
	return err
}

func (s *WorkflowService) snapshot(ctx context.Context, workflowID int64) (engine.Snapshot, error) {
	var snap engine.Snapshot
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		snap, err = s.load(ctx, tx, workflowID, false)
		return err
	})
	return snap, err
}

func (s *WorkflowService) load(ctx context.Context, tx repository.Tx, workflowID int64, lock bool) (engine.Snapshot, error) {
	w, err := tx.GetWorkflow(ctx, workflowID, lock)
	if errors.Is(err, repository.ErrNotFound) {
		return engine.Snapshot{}, &engine.NotFoundError{Resource: "workflow", ID: strconv.FormatInt(workflowID, 10)}
	}
	if err != nil {
		return engine.Snapshot{}, err
	}
	activities, err := tx.ListActivities(ctx, workflowID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	tests, err := tx.ListTestCases(ctx, workflowID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	return engine.Snapshot{Workflow: w, Activities: activities, Tests: tests}, nil
}

// user returns the identity-store entry, or a roleless placeholder for an
// unknown username so authorization reports it.
func (s *WorkflowService) user(ctx context.Context, tx repository.Tx, username string) (models.User, error) {
	u, err := tx.GetUser(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return models.User{Username: username}, nil
	}
	return u, err
}

func (s *WorkflowService) append(ctx context.Context, tx repository.Tx, a models.Activity) error {
	if err := tx.AppendActivity(ctx, a); err != nil {
		return err
	}
	s.metrics.RecordActivity(ctx, a.Label)
	return nil
}

// stamp assigns the next log id, the actor and the server time.
func (s *WorkflowService) stamp(l loaded, a models.Activity) models.Activity {
	a.WorkflowID = l.snap.Workflow.ID
	a.ActivityID = engine.NextActivityID(l.snap.Activities)
	a.Actor = l.actor.Username
	a.CreatedAt = s.clock()
	return a
}

// clock returns server time at the precision PostgreSQL stores.
func (s *WorkflowService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func findTest(tests []models.TestCase, workflowID, testID int64) (models.TestCase, error) {
	for _, tc := range tests {
		if tc.TestID == testID {
			return tc, nil
		}
	}
	return models.TestCase{}, &engine.NotFoundError{
		Resource: "test case",
		ID:       fmt.Sprintf("%d/%d", workflowID, testID),
	}
}
