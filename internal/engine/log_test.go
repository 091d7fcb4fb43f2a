package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowup/backend/pkg/models"
)

var t0 = time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)

func act(id int64, at time.Time, ws models.WorkflowState, p models.Process, ps models.ProcessState) models.Activity {
	return models.Activity{
		WorkflowID:    1,
		ActivityID:    id,
		CreatedAt:     at,
		Actor:         "jproyecto",
		WorkflowState: ws,
		Process:       p,
		ProcessState:  ps,
		Label:         "test",
	}
}

func TestLatestBreaksTiesByActivityID(t *testing.T) {
	log := []models.Activity{
		act(2, t0, models.WorkflowActive, models.ProcessBaseline, models.ProcessInProgress),
		act(3, t0, models.WorkflowActive, models.ProcessBaseline, models.ProcessOK),
		act(1, t0.Add(-time.Minute), models.WorkflowNew, "", ""),
	}

	latest, ok := Latest(log)
	require.True(t, ok)
	assert.Equal(t, int64(3), latest.ActivityID)

	_, ok = Latest(nil)
	assert.False(t, ok)
}

func TestLatestForProcess(t *testing.T) {
	log := []models.Activity{
		act(1, t0, models.WorkflowNew, "", ""),
		act(2, t0.Add(time.Minute), models.WorkflowActive, models.ProcessBaseline, models.ProcessInProgress),
		act(3, t0.Add(2*time.Minute), models.WorkflowActive, models.ProcessBaseline, models.ProcessNotOK),
		act(4, t0.Add(3*time.Minute), models.WorkflowActive, models.ProcessBaseline, models.ProcessInProgress),
	}

	latest, ok := LatestForProcess(log, models.ProcessBaseline)
	require.True(t, ok)
	assert.Equal(t, int64(4), latest.ActivityID)

	_, ok = LatestForProcess(log, models.ProcessQA)
	assert.False(t, ok)
	assert.Equal(t, models.ProcessState(""), ProcessStatus(log, models.ProcessQA))
}

func TestCurrentWorkflowStateSkipsStatelessRows(t *testing.T) {
	log := []models.Activity{
		act(1, t0, models.WorkflowNew, "", ""),
		act(2, t0.Add(time.Minute), models.WorkflowActive, models.ProcessBaseline, models.ProcessInProgress),
		act(3, t0.Add(2*time.Minute), "", "", ""),
	}
	assert.Equal(t, models.WorkflowActive, CurrentWorkflowState(log))
	assert.Equal(t, models.WorkflowState(""), CurrentWorkflowState(nil))
}

func TestDerive(t *testing.T) {
	log := []models.Activity{
		act(1, t0, models.WorkflowNew, "", ""),
		act(2, t0.Add(time.Minute), models.WorkflowActive, models.ProcessBaseline, models.ProcessInProgress),
		act(3, t0.Add(2*time.Minute), models.WorkflowActive, models.ProcessBaseline, models.ProcessOK),
		act(4, t0.Add(3*time.Minute), models.WorkflowActive, models.ProcessRMReview, models.ProcessInProgress),
	}

	st := Derive(log)
	assert.Equal(t, models.WorkflowActive, st.WorkflowState)
	assert.Equal(t, map[models.Process]models.ProcessState{
		models.ProcessBaseline: models.ProcessOK,
		models.ProcessRMReview: models.ProcessInProgress,
		models.ProcessDiffInfo: "",
		models.ProcessQA:       "",
	}, st.Processes)
}

func TestNextActivityID(t *testing.T) {
	assert.Equal(t, int64(1), NextActivityID(nil))
	assert.Equal(t, int64(6), NextActivityID([]models.Activity{{ActivityID: 2}, {ActivityID: 5}, {ActivityID: 1}}))
}
