// Package models defines the domain models for the release approval service
package models

import "strings"

// Role is the closed set of user roles known to the engine.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleManager        Role = "manager"
	RoleSCM            Role = "scm"
	RoleReleaseManager Role = "release_manager"
	RoleQA             Role = "qa"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleManager, RoleSCM, RoleReleaseManager, RoleQA}

// ParseRole maps free-form role names (including the legacy display names) to a Role.
func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin", "administrador":
		return RoleAdmin, true
	case "manager", "jefe de proyecto":
		return RoleManager, true
	case "scm":
		return RoleSCM, true
	case "release_manager", "release manager":
		return RoleReleaseManager, true
	case "qa":
		return RoleQA, true
	default:
		return "", false
	}
}

// WorkflowState is the overall state of a workflow. The zero value means absent.
type WorkflowState string

const (
	WorkflowNew       WorkflowState = "new"
	WorkflowActive    WorkflowState = "active"
	WorkflowCancelled WorkflowState = "cancelled"
	WorkflowClosed    WorkflowState = "closed"
)

// Terminal reports whether no further commands are accepted in this state.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowCancelled || s == WorkflowClosed
}

// Valid reports whether s is a known state (absent is not valid).
func (s WorkflowState) Valid() bool {
	switch s {
	case WorkflowNew, WorkflowActive, WorkflowCancelled, WorkflowClosed:
		return true
	}
	return false
}

// Process is one of the four approval stages. The zero value means absent.
type Process string

const (
	ProcessBaseline Process = "baseline"
	ProcessRMReview Process = "rm_review"
	ProcessDiffInfo Process = "diff_info"
	ProcessQA       Process = "qa"
)

// Processes lists the approval stages in their fixed dependency order.
var Processes = []Process{ProcessBaseline, ProcessRMReview, ProcessDiffInfo, ProcessQA}

// Valid reports whether p is a known process.
func (p Process) Valid() bool {
	switch p {
	case ProcessBaseline, ProcessRMReview, ProcessDiffInfo, ProcessQA:
		return true
	}
	return false
}

// Previous returns the stage that must be OK before p can be requested, or
// the zero value for the first stage.
func (p Process) Previous() Process {
	for i, candidate := range Processes {
		if candidate == p && i > 0 {
			return Processes[i-1]
		}
	}
	return ""
}

// Title is the human label used in activity records.
func (p Process) Title() string {
	switch p {
	case ProcessBaseline:
		return "Baseline"
	case ProcessRMReview:
		return "RM review"
	case ProcessDiffInfo:
		return "Diff info"
	case ProcessQA:
		return "QA"
	}
	return string(p)
}

// ProcessState is the state of one process instance. The zero value means absent.
type ProcessState string

const (
	ProcessNotStarted ProcessState = "not_started"
	ProcessInProgress ProcessState = "in_progress"
	ProcessOK         ProcessState = "ok"
	ProcessNotOK      ProcessState = "not_ok"
)

// Decision is the outcome chosen by a reviewer.
type Decision string

const (
	DecisionOK    Decision = "ok"
	DecisionNotOK Decision = "not_ok"
)

// ProcessState maps the decision to the state it records.
func (d Decision) ProcessState() ProcessState {
	if d == DecisionOK {
		return ProcessOK
	}
	return ProcessNotOK
}

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionOK || d == DecisionNotOK
}

// TestResult is the outcome of a single test-plan entry.
type TestResult string

const (
	TestNotStarted TestResult = "not_started"
	TestInProgress TestResult = "in_progress"
	TestApproved   TestResult = "approved"
	TestRejected   TestResult = "rejected"
)

// Field names a mutable workflow attribute.
type Field string

const (
	FieldBaselineLabel Field = "baseline_label"
	FieldRMCode        Field = "rm_code"
	FieldReleaseTag    Field = "release_tag"
	FieldQATarget      Field = "qa_target"
	FieldPAPTarget     Field = "pap_target"
)

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	switch f {
	case FieldBaselineLabel, FieldRMCode, FieldReleaseTag, FieldQATarget, FieldPAPTarget:
		return true
	}
	return false
}

// Column limits of the workflow schema.
const (
	MaxProjectCode     = 8
	MaxProjectName     = 70
	MaxComponent       = 30
	MaxUsername        = 15
	MaxBaselineLabel   = 80
	MaxRMCode          = 9
	MaxReleaseTag      = 80
	MaxActivityLabel   = 35
	MaxComment         = 200
	MaxTestDescription = 80
)

// DateLayout is the wire format for target dates.
const DateLayout = "2006-01-02"

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}
