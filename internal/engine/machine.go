package engine

import (
	"strings"

	"workflowup/backend/pkg/models"
)

// Command names an engine operation in guard and authorization errors.
type Command string

const (
	CommandCreate       Command = "create_workflow"
	CommandCancel       Command = "cancel_workflow"
	CommandClose        Command = "close_workflow"
	CommandAddTest      Command = "add_test_case"
	CommandSetProgress  Command = "set_test_progress"
	CommandToggleReject Command = "toggle_test_reject"
)

// RequestCommand names the request command for process p.
func RequestCommand(p models.Process) Command {
	return Command("request_" + string(p))
}

// DecideCommand names the approve/reject command for process p.
func DecideCommand(p models.Process, d models.Decision) Command {
	if d == models.DecisionOK {
		return Command("approve_" + string(p))
	}
	return Command("reject_" + string(p))
}

// UpdateCommand names the field update command for f.
func UpdateCommand(f models.Field) Command {
	return Command("update_" + string(f))
}

// reviewers maps each process to the role that approves or rejects it.
var reviewers = map[models.Process]models.Role{
	models.ProcessBaseline: models.RoleSCM,
	models.ProcessRMReview: models.RoleReleaseManager,
	models.ProcessDiffInfo: models.RoleSCM,
	models.ProcessQA:       models.RoleQA,
}

// editors maps each mutable field to the role allowed to write it.
var editors = map[models.Field]models.Role{
	models.FieldBaselineLabel: models.RoleSCM,
	models.FieldRMCode:        models.RoleReleaseManager,
	models.FieldReleaseTag:    models.RoleManager,
	models.FieldQATarget:      models.RoleManager,
	models.FieldPAPTarget:     models.RoleManager,
}

// ReviewerRole returns the role that decides process p.
func ReviewerRole(p models.Process) models.Role {
	return reviewers[p]
}

// EditorRole returns the role allowed to update field f.
func EditorRole(f models.Field) models.Role {
	return editors[f]
}

// Snapshot is everything the guards read for one workflow.
type Snapshot struct {
	Workflow   models.Workflow
	Activities []models.Activity
	Tests      []models.TestCase
}

// State returns the current-state projection.
func (s Snapshot) State() State {
	return Derive(s.Activities)
}

// WorkflowState returns the current overall workflow state.
func (s Snapshot) WorkflowState() models.WorkflowState {
	return CurrentWorkflowState(s.Activities)
}

// ProcessState returns the current state of process p.
func (s Snapshot) ProcessState(p models.Process) models.ProcessState {
	return ProcessStatus(s.Activities, p)
}

func (s Snapshot) open(cmd Command) error {
	if st := s.WorkflowState(); st.Terminal() {
		return refuse(cmd, "workflow is %s", st)
	}
	return nil
}

// CanRequest checks the manager's request guard for process p.
func (s Snapshot) CanRequest(p models.Process) error {
	cmd := RequestCommand(p)
	if !p.Valid() {
		return invalid("process", "unknown process %q", p)
	}
	if err := s.open(cmd); err != nil {
		return err
	}
	current := s.ProcessState(p)
	switch current {
	case models.ProcessOK:
		return refuse(cmd, "%s already approved", p.Title())
	case models.ProcessInProgress:
		return refuse(cmd, "%s already pending review", p.Title())
	}

	if p == models.ProcessBaseline {
		if st := s.WorkflowState(); st != models.WorkflowNew && st != models.WorkflowActive {
			return refuse(cmd, "workflow is not new or active")
		}
		return nil
	}
	if p == models.ProcessRMReview && strings.TrimSpace(s.Workflow.ReleaseTag) == "" {
		return refuse(cmd, "release tag is not set")
	}
	prev := p.Previous()
	if s.ProcessState(prev) != models.ProcessOK && current != models.ProcessNotOK {
		return refuse(cmd, "%s is not approved", prev.Title())
	}
	return nil
}

// CanDecide checks the reviewer's guard for approving or rejecting p.
func (s Snapshot) CanDecide(p models.Process, d models.Decision, comment string) error {
	if !d.Valid() {
		return invalid("decision", "unknown decision %q", d)
	}
	cmd := DecideCommand(p, d)
	if d == models.DecisionNotOK && strings.TrimSpace(comment) == "" {
		return refuse(cmd, "a comment is required to reject")
	}
	return s.canDecide(p, d)
}

// canDecide is the decision guard without the comment requirement; the
// action flags use it since the comment is typed at submit time.
func (s Snapshot) canDecide(p models.Process, d models.Decision) error {
	cmd := DecideCommand(p, d)
	if !p.Valid() {
		return invalid("process", "unknown process %q", p)
	}
	if err := s.open(cmd); err != nil {
		return err
	}
	if p == models.ProcessBaseline && s.WorkflowState() != models.WorkflowActive {
		return refuse(cmd, "workflow is not active")
	}
	if s.ProcessState(p) != models.ProcessInProgress {
		return refuse(cmd, "%s is not pending review", p.Title())
	}

	switch {
	case d == models.DecisionOK && p == models.ProcessBaseline:
		if strings.TrimSpace(s.Workflow.BaselineLabel) == "" {
			return refuse(cmd, "baseline label is not set")
		}
	case d == models.DecisionOK && p == models.ProcessRMReview:
		if strings.TrimSpace(s.Workflow.RMCode) == "" {
			return refuse(cmd, "RM code is not set")
		}
	case d == models.DecisionOK && p == models.ProcessQA:
		if !AllApproved(s.Tests) {
			return refuse(cmd, "every test case must be approved")
		}
	case d == models.DecisionNotOK && p == models.ProcessQA:
		if !AnyRejected(s.Tests) {
			return refuse(cmd, "no test case is rejected")
		}
	}
	return nil
}

// CanCancel checks the cancel guard.
func (s Snapshot) CanCancel() error {
	return s.open(CommandCancel)
}

// CanClose checks the close guard.
func (s Snapshot) CanClose() error {
	if err := s.open(CommandClose); err != nil {
		return err
	}
	if s.ProcessState(models.ProcessQA) != models.ProcessOK {
		return refuse(CommandClose, "QA is not approved")
	}
	return nil
}

// CanUpdateField checks whether field f is editable now.
func (s Snapshot) CanUpdateField(f models.Field) error {
	if !f.Valid() {
		return invalid("field", "unknown field %q", f)
	}
	cmd := UpdateCommand(f)
	if err := s.open(cmd); err != nil {
		return err
	}
	switch f {
	case models.FieldBaselineLabel:
		if s.ProcessState(models.ProcessBaseline) != models.ProcessInProgress {
			return refuse(cmd, "baseline is not pending review")
		}
	case models.FieldRMCode:
		if s.ProcessState(models.ProcessRMReview) != models.ProcessInProgress {
			return refuse(cmd, "RM review is not pending review")
		}
	}
	return nil
}

// CanAddTest checks whether the test plan accepts new entries.
func (s Snapshot) CanAddTest() error {
	return s.open(CommandAddTest)
}

// CanRunTests checks whether QA may record progress or rejections.
func (s Snapshot) CanRunTests(cmd Command) error {
	if err := s.open(cmd); err != nil {
		return err
	}
	if s.ProcessState(models.ProcessQA) != models.ProcessInProgress {
		return refuse(cmd, "QA is not in progress")
	}
	return nil
}

// NextActivity builds the activity a permitted request or decision appends.
// The caller sets the id, actor and timestamp.
func (s Snapshot) NextActivity(p models.Process, state models.ProcessState, comment string) models.Activity {
	return models.Activity{
		WorkflowID:    s.Workflow.ID,
		WorkflowState: models.WorkflowActive,
		Process:       p,
		ProcessState:  state,
		Label:         activityLabel(p, state, s.ProcessState(p)),
		Comment:       strings.TrimSpace(comment),
	}
}

func activityLabel(p models.Process, next, prev models.ProcessState) string {
	switch next {
	case models.ProcessInProgress:
		if prev == models.ProcessNotOK {
			return p.Title() + " re-requested"
		}
		return p.Title() + " requested"
	case models.ProcessOK:
		return p.Title() + " approved"
	case models.ProcessNotOK:
		return p.Title() + " rejected"
	}
	return p.Title() + " updated"
}

// Authorize checks that actor may run a command requiring role required on
// workflow w. Manager commands are restricted to the owning manager.
func Authorize(actor models.User, required models.Role, w models.Workflow) error {
	if actor.Role == "" {
		return &AuthorizationError{Actor: actor.Username, Required: required, Reason: "unknown user"}
	}
	if !actor.Active {
		return &AuthorizationError{Actor: actor.Username, Role: actor.Role, Required: required, Reason: "user is inactive"}
	}
	if actor.Role != required {
		return &AuthorizationError{Actor: actor.Username, Role: actor.Role, Required: required}
	}
	if required == models.RoleManager && w.Manager != actor.Username {
		return &AuthorizationError{Actor: actor.Username, Role: actor.Role, Required: required, Reason: "workflow belongs to another manager"}
	}
	return nil
}
