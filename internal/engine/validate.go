package engine

import (
	"regexp"
	"strings"
	"time"

	"workflowup/backend/pkg/models"
)

// Labels recorded on workflow-level activities.
const (
	LabelCreated   = "Workflow created"
	LabelCancelled = "Workflow cancelled"
	LabelClosed    = "Workflow closed"
)

var usernamePattern = regexp.MustCompile(`^[a-z]+$`)

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateUser checks an identity-store entry before it is seeded.
func ValidateUser(u models.User) error {
	if !usernamePattern.MatchString(u.Username) {
		return invalid("username", "must contain only letters")
	}
	if len(u.Username) > models.MaxUsername {
		return invalid("username", "exceeds %d characters", models.MaxUsername)
	}
	if !strings.Contains(u.Email, "@") {
		return invalid("email", "is not an email address")
	}
	if strings.TrimSpace(u.FirstName) == "" || strings.TrimSpace(u.LastName) == "" {
		return invalid("name", "first and last name are required")
	}
	if _, ok := models.ParseRole(string(u.Role)); !ok {
		return invalid("role", "unknown role %q", u.Role)
	}
	return nil
}

// ValidateManager checks that u may own a workflow.
func ValidateManager(u models.User) error {
	if !u.Active {
		return invalid("manager", "user %s is inactive", u.Username)
	}
	if u.Role != models.RoleManager {
		return invalid("manager", "user %s is not a project manager", u.Username)
	}
	return nil
}

// NewWorkflow validates creation input and returns the workflow to insert.
func NewWorkflow(manager string, in models.NewWorkflow, today time.Time) (models.Workflow, error) {
	w := models.Workflow{
		ProjectCode: strings.TrimSpace(in.ProjectCode),
		ProjectName: strings.TrimSpace(in.ProjectName),
		Description: strings.TrimSpace(in.Description),
		Component:   strings.TrimSpace(in.Component),
		Manager:     NormalizeUsername(manager),
		ReleaseTag:  strings.TrimSpace(in.ReleaseTag),
		CreatedOn:   DateOf(today),
		QATarget:    DateOf(in.QATarget),
		PAPTarget:   DateOf(in.PAPTarget),
	}
	checks := []struct {
		field string
		value string
		max   int
	}{
		{"project_code", w.ProjectCode, models.MaxProjectCode},
		{"project_name", w.ProjectName, models.MaxProjectName},
		{"description", w.Description, 0},
		{"component", w.Component, models.MaxComponent},
		{"manager", w.Manager, models.MaxUsername},
	}
	for _, c := range checks {
		if err := required(c.field, c.value, c.max); err != nil {
			return models.Workflow{}, err
		}
	}
	if err := maxLength("release_tag", w.ReleaseTag, models.MaxReleaseTag); err != nil {
		return models.Workflow{}, err
	}
	if err := ValidateTargets(w.QATarget, w.PAPTarget); err != nil {
		return models.Workflow{}, err
	}
	return w, nil
}

// ValidateTargets enforces pap_target > qa_target.
func ValidateTargets(qa, pap time.Time) error {
	if qa.IsZero() {
		return invalid("qa_target", "is required")
	}
	if pap.IsZero() {
		return invalid("pap_target", "is required")
	}
	if !DateOf(pap).After(DateOf(qa)) {
		return invalid("pap_target", "must be after qa_target")
	}
	return nil
}

// ApplyField validates value and writes it into the workflow copy.
func ApplyField(w models.Workflow, f models.Field, value string) (models.Workflow, error) {
	value = strings.TrimSpace(value)
	switch f {
	case models.FieldBaselineLabel:
		if err := maxLength(string(f), value, models.MaxBaselineLabel); err != nil {
			return w, err
		}
		w.BaselineLabel = value
	case models.FieldRMCode:
		if err := maxLength(string(f), value, models.MaxRMCode); err != nil {
			return w, err
		}
		w.RMCode = value
	case models.FieldReleaseTag:
		if err := maxLength(string(f), value, models.MaxReleaseTag); err != nil {
			return w, err
		}
		w.ReleaseTag = value
	case models.FieldQATarget, models.FieldPAPTarget:
		date, err := ParseDate(string(f), value)
		if err != nil {
			return w, err
		}
		if f == models.FieldQATarget {
			w.QATarget = date
		} else {
			w.PAPTarget = date
		}
		if err := ValidateTargets(w.QATarget, w.PAPTarget); err != nil {
			return w, err
		}
	default:
		return w, invalid("field", "unknown field %q", f)
	}
	return w, nil
}

// ValidateComment bounds free-text comments.
func ValidateComment(comment string) error {
	return maxLength("comment", strings.TrimSpace(comment), models.MaxComment)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, invalid(field, "expected date as %s", models.DateLayout)
	}
	return t, nil
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func required(field, value string, max int) error {
	if value == "" {
		return invalid(field, "is required")
	}
	return maxLength(field, value, max)
}

func maxLength(field, value string, max int) error {
	if max > 0 && len([]rune(value)) > max {
		return invalid(field, "exceeds %d characters", max)
	}
	return nil
}
