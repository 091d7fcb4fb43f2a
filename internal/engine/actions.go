package engine

import (
	"workflowup/backend/pkg/models"
)

// Actions carries the button-enabled flags for one actor on one workflow.
type Actions struct {
	Request           map[models.Process]bool `json:"request"`
	Approve           map[models.Process]bool `json:"approve"`
	Reject            map[models.Process]bool `json:"reject"`
	Cancel            bool                    `json:"cancel"`
	Close             bool                    `json:"close"`
	EditBaselineLabel bool                    `json:"edit_baseline_label"`
	EditRMCode        bool                    `json:"edit_rm_code"`
	EditReleaseTag    bool                    `json:"edit_release_tag"`
	EditTargetDates   bool                    `json:"edit_target_dates"`
	AddTest           bool                    `json:"add_test"`
	RunTests          bool                    `json:"run_tests"`
}

// ActionsFor evaluates every guard for actor against the snapshot. Nothing
// is cached; each call reflects the log as passed in.
func ActionsFor(s Snapshot, actor models.User) Actions {
	allowed := func(role models.Role, guard error) bool {
		return guard == nil && Authorize(actor, role, s.Workflow) == nil
	}

	out := Actions{
		Request: make(map[models.Process]bool, len(models.Processes)),
		Approve: make(map[models.Process]bool, len(models.Processes)),
		Reject:  make(map[models.Process]bool, len(models.Processes)),
	}
	for _, p := range models.Processes {
		out.Request[p] = allowed(models.RoleManager, s.CanRequest(p))
		out.Approve[p] = allowed(ReviewerRole(p), s.canDecide(p, models.DecisionOK))
		out.Reject[p] = allowed(ReviewerRole(p), s.canDecide(p, models.DecisionNotOK))
	}
	out.Cancel = allowed(models.RoleManager, s.CanCancel())
	out.Close = allowed(models.RoleManager, s.CanClose())
	out.EditBaselineLabel = allowed(EditorRole(models.FieldBaselineLabel), s.CanUpdateField(models.FieldBaselineLabel))
	out.EditRMCode = allowed(EditorRole(models.FieldRMCode), s.CanUpdateField(models.FieldRMCode))
	out.EditReleaseTag = allowed(EditorRole(models.FieldReleaseTag), s.CanUpdateField(models.FieldReleaseTag))
	out.EditTargetDates = allowed(EditorRole(models.FieldQATarget), s.CanUpdateField(models.FieldQATarget))
	out.AddTest = allowed(models.RoleManager, s.CanAddTest())
	out.RunTests = allowed(models.RoleQA, s.CanRunTests(CommandSetProgress))
	return out
}

// Visible reports whether a workflow appears on the dashboard of actor.
func Visible(s Snapshot, actor models.User) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleManager:
		return s.Workflow.Manager == actor.Username
	}
	if s.WorkflowState().Terminal() {
		return false
	}
	switch actor.Role {
	case models.RoleSCM:
		return s.WorkflowState() == models.WorkflowActive &&
			(s.ProcessState(models.ProcessBaseline) == models.ProcessInProgress ||
				s.ProcessState(models.ProcessDiffInfo) == models.ProcessInProgress)
	case models.RoleReleaseManager:
		return s.ProcessState(models.ProcessRMReview) == models.ProcessInProgress
	case models.RoleQA:
		return s.ProcessState(models.ProcessQA) == models.ProcessInProgress
	}
	return false
}
