// Package engine holds the workflow approval rules: projections over the
// activity log, the per-process state machine, and the test-plan ledger.
// Everything here is pure; callers load the data and persist the results.
package engine

import (
	"workflowup/backend/pkg/models"
)

// State is the current-state projection of a workflow's activity log.
type State struct {
	WorkflowState models.WorkflowState                   `json:"workflow_state"`
	Processes     map[models.Process]models.ProcessState `json:"processes"`
}

// Latest returns the most recent activity, ordered by timestamp with ties
// broken by the highest activity id.
func Latest(activities []models.Activity) (models.Activity, bool) {
	return latestWhere(activities, func(models.Activity) bool { return true })
}

// LatestForProcess returns the most recent activity recorded for process p.
func LatestForProcess(activities []models.Activity, p models.Process) (models.Activity, bool) {
	return latestWhere(activities, func(a models.Activity) bool { return a.Process == p })
}

// ProcessStatus returns the state of process p, or the zero value when the
// process has no activity yet.
func ProcessStatus(activities []models.Activity, p models.Process) models.ProcessState {
	latest, ok := LatestForProcess(activities, p)
	if !ok {
		return ""
	}
	return latest.ProcessState
}

// CurrentWorkflowState returns the workflow state of the latest activity
// that records one. Rows without a workflow state are skipped.
func CurrentWorkflowState(activities []models.Activity) models.WorkflowState {
	latest, ok := latestWhere(activities, func(a models.Activity) bool { return a.WorkflowState != "" })
	if !ok {
		return ""
	}
	return latest.WorkflowState
}

// Derive builds the full current-state projection.
func Derive(activities []models.Activity) State {
	st := State{
		WorkflowState: CurrentWorkflowState(activities),
		Processes:     make(map[models.Process]models.ProcessState, len(models.Processes)),
	}
	for _, p := range models.Processes {
		st.Processes[p] = ProcessStatus(activities, p)
	}
	return st
}

// NextActivityID returns max(activity_id)+1, or 1 for an empty log.
func NextActivityID(activities []models.Activity) int64 {
	var max int64
	for _, a := range activities {
		if a.ActivityID > max {
			max = a.ActivityID
		}
	}
	return max + 1
}

func latestWhere(activities []models.Activity, keep func(models.Activity) bool) (models.Activity, bool) {
	var (
		best  models.Activity
		found bool
	)
	for _, a := range activities {
		if !keep(a) {
			continue
		}
		if !found || later(a, best) {
			best = a
			found = true
		}
	}
	return best, found
}

func later(a, b models.Activity) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ActivityID > b.ActivityID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
