package models

import (
	"time"
)

// Workflow is one tracked release-approval unit owned by a project manager.
// Nullable text fields use the empty string for absent.
type Workflow struct {
	ID            int64     `json:"id"`
	ProjectCode   string    `json:"project_code"`
	ProjectName   string    `json:"project_name"`
	Description   string    `json:"description"`
	Component     string    `json:"component"`
	Manager       string    `json:"manager"`
	BaselineLabel string    `json:"baseline_label,omitempty"`
	RMCode        string    `json:"rm_code,omitempty"`
	ReleaseTag    string    `json:"release_tag,omitempty"`
	CreatedOn     time.Time `json:"created_on"`
	QATarget      time.Time `json:"qa_target"`
	PAPTarget     time.Time `json:"pap_target"`
}

// NewWorkflow holds the manager-supplied fields for creating a workflow.
type NewWorkflow struct {
	ProjectCode string    `json:"project_code"`
	ProjectName string    `json:"project_name"`
	Description string    `json:"description"`
	Component   string    `json:"component"`
	ReleaseTag  string    `json:"release_tag,omitempty"`
	QATarget    time.Time `json:"qa_target"`
	PAPTarget   time.Time `json:"pap_target"`
}

// Activity is one immutable entry of a workflow's activity log.
type Activity struct {
	WorkflowID    int64         `json:"workflow_id"`
	ActivityID    int64         `json:"activity_id"`
	CreatedAt     time.Time     `json:"created_at"`
	Actor         string        `json:"actor"`
	WorkflowState WorkflowState `json:"workflow_state,omitempty"`
	Process       Process       `json:"process,omitempty"`
	ProcessState  ProcessState  `json:"process_state,omitempty"`
	Label         string        `json:"label"`
	Comment       string        `json:"comment,omitempty"`
}

// TestCase is one entry of a workflow's QA test plan.
type TestCase struct {
	WorkflowID  int64      `json:"workflow_id"`
	TestID      int64      `json:"test_id"`
	Description string     `json:"description"`
	Progress    int        `json:"progress"`
	Result      TestResult `json:"result"`
}

// User is an entry of the external identity store.
type User struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
	Active    bool   `json:"active"`
}

// WorkflowFilter narrows workflow listings.
type WorkflowFilter struct {
	Manager     string
	ProjectCode string
	Search      string
	Component   string
	IDs         []int64
	Limit       int
}
