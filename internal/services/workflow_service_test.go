package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowup/backend/internal/engine"
	"workflowup/backend/internal/repository"
	"workflowup/backend/pkg/models"
)

var users = []models.User{
	{Username: "jproyecto", Email: "jproyecto@example.com", FirstName: "Juan", LastName: "Proyecto", Role: models.RoleManager, Active: true},
	{Username: "otro", Email: "otro@example.com", FirstName: "Otro", LastName: "Gerente", Role: models.RoleManager, Active: true},
	{Username: "scm", Email: "scm@example.com", FirstName: "Maria", LastName: "Gonzalez", Role: models.RoleSCM, Active: true},
	{Username: "release", Email: "release@example.com", FirstName: "Carlos", LastName: "Rodriguez", Role: models.RoleReleaseManager, Active: true},
	{Username: "qa", Email: "qa@example.com", FirstName: "Ana", LastName: "Lopez", Role: models.RoleQA, Active: true},
	{Username: "admin", Email: "admin@example.com", FirstName: "Admin", LastName: "Sistema", Role: models.RoleAdmin, Active: true},
	{Username: "baja", Email: "baja@example.com", FirstName: "Ex", LastName: "Gerente", Role: models.RoleManager, Active: false},
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestService(t *testing.T) *WorkflowService {
	t.Helper()
	store := repository.NewMemoryStore()
	err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for _, u := range users {
			if err := tx.UpsertUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	c := &clock{t: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
	return NewWorkflowService(store, WithClock(c.now))
}

func newInput() models.NewWorkflow {
	return models.NewWorkflow{
		ProjectCode: "PRJ-001",
		ProjectName: "Billing",
		Description: "Quarterly billing release",
		Component:   "Backend",
		QATarget:    time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
		PAPTarget:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func create(t *testing.T, svc *WorkflowService) models.Workflow {
	t.Helper()
	w, err := svc.CreateWorkflow(context.Background(), "jproyecto", newInput())
	require.NoError(t, err)
	return w
}

func requireKind[E error](t *testing.T, err error) {
	t.Helper()
	var target E
	require.ErrorAs(t, err, &target)
}

// advance drives a workflow from creation until QA is pending review.
func advance(t *testing.T, svc *WorkflowService, id int64) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.RequestProcess(ctx, id, models.ProcessBaseline, "jproyecto", "")
	require.NoError(t, err)
	_, err = svc.UpdateField(ctx, id, models.FieldBaselineLabel, "baseline-v1", "scm")
	require.NoError(t, err)
	_, err = svc.DecideProcess(ctx, id, models.ProcessBaseline, "scm", models.DecisionOK, "")
	require.NoError(t, err)
	_, err = svc.UpdateField(ctx, id, models.FieldReleaseTag, "v1.0.0", "jproyecto")
	require.NoError(t, err)
	_, err = svc.RequestProcess(ctx, id, models.ProcessRMReview, "jproyecto", "")
	require.NoError(t, err)
	_, err = svc.UpdateField(ctx, id, models.FieldRMCode, "RM-2024-1", "release")
	require.NoError(t, err)
	_, err = svc.DecideProcess(ctx, id, models.ProcessRMReview, "release", models.DecisionOK, "")
	require.NoError(t, err)
	_, err = svc.RequestProcess(ctx, id, models.ProcessDiffInfo, "jproyecto", "")
	require.NoError(t, err)
	_, err = svc.DecideProcess(ctx, id, models.ProcessDiffInfo, "scm", models.DecisionOK, "")
	require.NoError(t, err)
	_, err = svc.RequestProcess(ctx, id, models.ProcessQA, "jproyecto", "")
	require.NoError(t, err)
}

func TestCreateWorkflow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w, err := svc.CreateWorkflow(ctx, "JProyecto", newInput())
	require.NoError(t, err)
	assert.Equal(t, "jproyecto", w.Manager)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), w.CreatedOn)

	log, err := svc.ListActivities(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, int64(1), log[0].ActivityID)
	assert.Equal(t, models.WorkflowNew, log[0].WorkflowState)
	assert.Equal(t, engine.LabelCreated, log[0].Label)
	assert.Equal(t, "jproyecto", log[0].Actor)

	state, err := svc.GetCurrentState(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowNew, state.WorkflowState)
	for _, p := range models.Processes {
		assert.Empty(t, state.Processes[p])
	}
}

func TestCreateWorkflowValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	in := newInput()
	in.PAPTarget = in.QATarget
	_, err := svc.CreateWorkflow(ctx, "jproyecto", in)
	requireKind[*engine.ValidationError](t, err)

	for _, manager := range []string{"nadie", "scm", "baja"} {
		_, err = svc.CreateWorkflow(ctx, manager, newInput())
		requireKind[*engine.ValidationError](t, err)
	}

	list, err := svc.ListWorkflowsFor(ctx, models.RoleAdmin, "admin", models.WorkflowFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBaselineWithoutReleaseTag(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := create(t, svc)

	a, err := svc.RequestProcess(ctx, w.ID, models.ProcessBaseline, "jproyecto", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.ActivityID)
	assert.Equal(t, models.WorkflowActive, a.WorkflowState)
	assert.Equal(t, models.ProcessInProgress, a.ProcessState)
	assert.Equal(t, "Baseline requested", a.Label)

	_, err = svc.UpdateField(ctx, w.ID, models.FieldBaselineLabel, "bl-1", "scm")
	require.NoError(t, err)
	_, err = svc.DecideProcess(ctx, w.ID, models.ProcessBaseline, "scm", models.DecisionOK, "")
	require.NoError(t, err)

	_, err = svc.RequestProcess(ctx, w.ID, models.ProcessRMReview, "jproyecto", "")
	requireKind[*engine.GuardError](t, err)
}

func TestApproveBaselineWithoutLabelIsAGuardError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := create(t, svc)
	_, err := svc.RequestProcess(ctx, w.ID, models.ProcessBaseline, "jproyecto", "")
	require.NoError(t, err)

	for _, actor := range []string{"scm", "qa", "admin", "jproyecto", "nadie"} {
		_, err := svc.DecideProcess(ctx, w.ID, models.ProcessBaseline, actor, models.DecisionOK, "")
		requireKind[*engine.GuardError](t, err)
	}
}

func TestRejectReRequestLoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := create(t, svc)

	_, err := svc.RequestProcess(ctx, w.ID, models.ProcessBaseline, "jproyecto", "")
	require.NoError(t, err)
	_, err = svc.DecideProcess(ctx, w.ID, models.ProcessBaseline, "scm", models.DecisionNotOK, "")
	requireKind[*engine.GuardError](t, err)

	rejected, err := svc.DecideProcess(ctx, w.ID, models.ProcessBaseline, "scm", models.DecisionNotOK, "wrong branch")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessNotOK, rejected.ProcessState)
	assert.Equal(t, "wrong branch", rejected.Comment)

	again, err := svc.RequestProcess(ctx, w.ID, models.ProcessBaseline, "jproyecto", "fixed")
	require.NoError(t, err)
	assert.Equal(t, "Baseline re-requested", again.Label)

	state, err := svc.GetCurrentState(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessInProgress, state.Processes[models.ProcessBaseline])
}

func TestDecisionAuthorization(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := create(t, svc)
	_, err := svc.RequestProcess(ctx, w.ID, models.ProcessBaseline, "jproyecto", "")
	require.NoError(t, err)
	_, err = svc.UpdateField(ctx, w.ID, models.FieldBaselineLabel, "bl-1", "scm")
	require.NoError(t, err)

	for _, actor := range []string{"qa", "release", "admin", "jproyecto", "nadie"} {
		_, err := svc.DecideProcess(ctx, w.ID, models.ProcessBaseline, actor, models.DecisionOK, "")
		requireKind[*engine.AuthorizationError](t, err)
	}

	_, err = svc.CancelWorkflow(ctx, w.ID, "otro")
	requireKind[*engine.AuthorizationError](t, err)
	_, err = svc.UpdateField(ctx, w.ID, models.FieldBaselineLabel, "bl-2", "jproyecto")
	requireKind[*engine.AuthorizationError](t, err)
}

func TestQAGating(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := create(t, svc)
	advance(t, svc, w.ID)

	_, err := svc.DecideProcess(ctx, w.ID, models.ProcessQA, "qa", models.DecisionOK, "")
	requireKind[*engine.GuardError](t, err)

	t1, err := svc.AddTestCase(ctx, w.ID, "jproyecto", "Login works")
	require.NoError(t, err)
	t2, err := svc.AddTestCase(ctx, w.ID, "jproyecto", "Checkout works")
	require.NoError(t, err)
	assert.Equal(t, int64(1), t1.TestID)
	assert.Equal(t, int64(2), t2.TestID)

	_, err = svc.SetTestProgress(ctx, w.ID, t1.TestID, "qa", 100)
	require.NoError(t, err)
	_, err = svc.SetTestProgress(ctx, w.ID, t2.TestID, "qa", 50)
	require.NoError(t, err)

	actions, err := svc.GetActions(ctx, w.ID, "qa")
	require.NoError(t, err)
	assert.False(t, actions.Approve[models.ProcessQA])
	assert.False(t, actions.Reject[models.ProcessQA])
	assert.True(t, actions.RunTests)

	_, err = svc.ToggleTestReject(ctx, w.ID, t1.TestID, "qa")
	requireKind[*engine.GuardError](t, err)

	rejected, err := svc.ToggleTestReject(ctx, w.ID, t2.TestID, "qa")
	require.NoError(t, err)
	assert.Equal(t, models.TestRejected, rejected.Result)
	assert.Equal(t, 50, rejected.Progress)

	actions, err = svc.GetActions(ctx, w.ID, "qa")
	require.NoError(t, err)
	assert.False(t, actions.Approve[models.ProcessQA])
	assert.True(t, actions.Reject[models.ProcessQA])

	reset, err := svc.ToggleTestReject(ctx, w.ID, t2.TestID, "qa")
	require.NoError(t, err)
	assert.Equal(t, models.TestNotStarted, reset.Result)
	assert.Equal(t, 0, reset.Progress)

	_, err = svc.SetTestProgress(ctx, w.ID, t2.TestID, "qa", 101)
	requireKind[*engine.ValidationError](t, err)
	_, err = svc.SetTestProgress(ctx, w.ID, 99, "qa", 10)
	requireKind[*engine.NotFoundError](t, err)

	_, err = svc.SetTestProgress(ctx, w.ID, t2.TestID, "qa", 100)
	require.NoError(t, err)
	approved, err := svc.DecideProcess(ctx, w.ID, models.ProcessQA, "qa", models.DecisionOK, "")
	require.NoError(t, err)
	assert.Equal(t, "QA approved", approved.Label)

	_, err = svc.SetTestProgress(ctx, w.ID, t2.TestID, "qa", 20)
	requireKind[*engine.GuardError](t, err)
}

func TestCloseAndCancelAreTerminal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := create(t, svc)

	_, err := svc.CloseWorkflow(ctx, w.ID, "jproyecto", "")
	requireKind[*engine.GuardError](t, err)

	advance(t, svc, w.ID)
	_, err = svc.AddTestCase(ctx, w.ID, "jproyecto", "Smoke")
	require.NoError(t, err)
	_, err = svc.SetTestProgress(ctx, w.ID, 1, "qa", 100)
	require.NoError(t, err)
	_, err = svc.DecideProcess(ctx, w.ID, models.ProcessQA, "qa", models.DecisionOK, "")
	require.NoError(t, err)

	closed, err := svc.CloseWorkflow(ctx, w.ID, "jproyecto", "shipped")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowClosed, closed.WorkflowState)
	assert.Empty(t, closed.Process)
	assert.Empty(t, closed.ProcessState)

	_, err = svc.CancelWorkflow(ctx, w.ID, "jproyecto")
	requireKind[*engine.GuardError](t, err)
	_, err = svc.UpdateField(ctx, w.ID, models.FieldReleaseTag, "v2", "jproyecto")
	requireKind[*engine.GuardError](t, err)
	_, err = svc.AddTestCase(ctx, w.ID, "jproyecto", "Late")
	requireKind[*engine.GuardError](t, err)

	second := create(t, svc)
	cancelled, err := svc.CancelWorkflow(ctx, second.ID, "jproyecto")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCancelled, cancelled.WorkflowState)
	_, err = svc.RequestProcess(ctx, second.ID, models.ProcessBaseline, "jproyecto", "")
	requireKind[*engine.GuardError](t, err)

	state, err := svc.GetCurrentState(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCancelled, state.WorkflowState)
}

func TestActivityIDsAreSequential(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := create(t, svc)
	advance(t, svc, w.ID)

	log, err := svc.ListActivities(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, log, 8)
	for i, a := range log {
		assert.Equal(t, int64(i+1), a.ActivityID)
		if i > 0 {
			assert.True(t, a.CreatedAt.After(log[i-1].CreatedAt))
		}
	}
}

func TestUpdateTargetDates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := create(t, svc)

	qa := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	updated, err := svc.UpdateTargetDates(ctx, w.ID, qa, qa.AddDate(0, 0, 7), "jproyecto")
	require.NoError(t, err)
	assert.Equal(t, qa, updated.QATarget)

	_, err = svc.UpdateTargetDates(ctx, w.ID, qa, qa, "jproyecto")
	requireKind[*engine.ValidationError](t, err)

	_, err = svc.UpdateField(ctx, w.ID, models.FieldPAPTarget, "2025-01-31", "jproyecto")
	requireKind[*engine.ValidationError](t, err)

	got, err := svc.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, qa.AddDate(0, 0, 7), got.PAPTarget)

	log, err := svc.ListActivities(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetCurrentState(ctx, 42)
	requireKind[*engine.NotFoundError](t, err)
	_, err = svc.RequestProcess(ctx, 42, models.ProcessBaseline, "jproyecto", "")
	requireKind[*engine.NotFoundError](t, err)
	assert.Equal(t, OutcomeNotFound, Outcome(err))
}

func TestListWorkflowsFor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	idle := create(t, svc)
	atBaseline := create(t, svc)
	atQA := create(t, svc)
	other, err := svc.CreateWorkflow(ctx, "otro", newInput())
	require.NoError(t, err)

	_, err = svc.RequestProcess(ctx, atBaseline.ID, models.ProcessBaseline, "jproyecto", "")
	require.NoError(t, err)
	advance(t, svc, atQA.ID)

	ids := func(ws []models.Workflow) []int64 {
		out := make([]int64, 0, len(ws))
		for _, w := range ws {
			out = append(out, w.ID)
		}
		return out
	}

	mine, err := svc.ListWorkflowsFor(ctx, models.RoleManager, "jproyecto", models.WorkflowFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{idle.ID, atBaseline.ID, atQA.ID}, ids(mine))

	forSCM, err := svc.ListWorkflowsFor(ctx, models.RoleSCM, "scm", models.WorkflowFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{atBaseline.ID}, ids(forSCM))

	forQA, err := svc.ListWorkflowsFor(ctx, models.RoleQA, "qa", models.WorkflowFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{atQA.ID}, ids(forQA))

	forRM, err := svc.ListWorkflowsFor(ctx, models.RoleReleaseManager, "release", models.WorkflowFilter{})
	require.NoError(t, err)
	assert.Empty(t, forRM)

	all, err := svc.ListWorkflowsFor(ctx, models.RoleAdmin, "admin", models.WorkflowFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{other.ID, atQA.ID}, ids(all))

	_, err = svc.ListWorkflowsFor(ctx, models.RoleAdmin, "scm", models.WorkflowFilter{})
	requireKind[*engine.AuthorizationError](t, err)
}
