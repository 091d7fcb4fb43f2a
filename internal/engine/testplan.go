package engine

import (
	"strings"

	"workflowup/backend/pkg/models"
)

// ResultForProgress derives a test result from its progress percentage.
func ResultForProgress(percent int) models.TestResult {
	switch {
	case percent >= 100:
		return models.TestApproved
	case percent > 0:
		return models.TestInProgress
	default:
		return models.TestNotStarted
	}
}

// NewTestCase validates a description and builds a fresh test-plan entry.
func NewTestCase(workflowID, testID int64, description string) (models.TestCase, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return models.TestCase{}, invalid("description", "is required")
	}
	if n := len([]rune(description)); n > models.MaxTestDescription {
		return models.TestCase{}, invalid("description", "exceeds %d characters", models.MaxTestDescription)
	}
	return models.TestCase{
		WorkflowID:  workflowID,
		TestID:      testID,
		Description: description,
		Progress:    0,
		Result:      models.TestNotStarted,
	}, nil
}

// SetProgress records a new progress percentage and the result it implies.
func SetProgress(t models.TestCase, percent int) (models.TestCase, error) {
	if percent < 0 || percent > 100 {
		return t, invalid("progress", "must be between 0 and 100, got %d", percent)
	}
	t.Progress = percent
	t.Result = ResultForProgress(percent)
	return t, nil
}

// ToggleReject flips an entry into or out of Rejected. Approved entries
// cannot be toggled until their progress drops below 100.
func ToggleReject(t models.TestCase) (models.TestCase, error) {
	switch t.Result {
	case models.TestNotStarted, models.TestInProgress:
		t.Result = models.TestRejected
	case models.TestRejected:
		t.Result = models.TestNotStarted
		t.Progress = 0
	case models.TestApproved:
		return t, refuse(CommandToggleReject, "test %d is approved; lower its progress first", t.TestID)
	default:
		return t, refuse(CommandToggleReject, "test %d has unknown result %q", t.TestID, t.Result)
	}
	return t, nil
}

// AllApproved reports whether the plan is non-empty and every entry is approved.
func AllApproved(tests []models.TestCase) bool {
	if len(tests) == 0 {
		return false
	}
	for _, t := range tests {
		if t.Result != models.TestApproved {
			return false
		}
	}
	return true
}

// AnyRejected reports whether at least one entry is rejected.
func AnyRejected(tests []models.TestCase) bool {
	for _, t := range tests {
		if t.Result == models.TestRejected {
			return true
		}
	}
	return false
}

// NextTestID returns max(test_id)+1, or 1 for an empty plan.
func NextTestID(tests []models.TestCase) int64 {
	var max int64
	for _, t := range tests {
		if t.TestID > max {
			max = t.TestID
		}
	}
	return max + 1
}
