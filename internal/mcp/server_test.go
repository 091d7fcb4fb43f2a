package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowup/backend/internal/auth"
	"workflowup/backend/internal/repository"
	"workflowup/backend/internal/services"
	"workflowup/backend/pkg/models"
)

var (
	manager = models.User{Username: "jproyecto", Role: models.RoleManager, Active: true}
	scm     = models.User{Username: "scm", Role: models.RoleSCM, Active: true}
)

func newTestServer(t *testing.T) (*Server, int64) {
	t.Helper()
	store := repository.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, u := range []models.User{manager, scm} {
			if err := tx.UpsertUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	}))
	svc := services.NewWorkflowService(store)
	w, err := svc.CreateWorkflow(ctx, manager.Username, models.NewWorkflow{
		ProjectCode: "PRJ-001",
		ProjectName: "Billing",
		Description: "Quarterly release",
		Component:   "Backend",
		QATarget:    time.Date(2030, 1, 5, 0, 0, 0, 0, time.UTC),
		PAPTarget:   time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return NewServer(svc), w.ID
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestRequestAndDecideTools(t *testing.T) {
	s, id := newTestServer(t)
	asManager := auth.WithActor(context.Background(), manager)
	asSCM := auth.WithActor(context.Background(), scm)

	res, err := s.handleRequest(asManager, callRequest(map[string]interface{}{
		"workflow_id": float64(id), "process": "baseline", "comment": "ready",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	var a models.Activity
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &a))
	assert.Equal(t, models.ProcessInProgress, a.ProcessState)

	res, err = s.handleDecide(asSCM, callRequest(map[string]interface{}{
		"workflow_id": float64(id), "process": "baseline", "decision": "ok",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "baseline label is not set")
	assert.Contains(t, resultText(t, res), "baseline label")

	res, err = s.handleGetState(asSCM, callRequest(map[string]interface{}{"workflow_id": float64(id)}))
	require.NoError(t, err)
	var st services.CurrentState
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &st))
	assert.Equal(t, models.WorkflowActive, st.WorkflowState)
	assert.Equal(t, models.ProcessInProgress, st.Processes[models.ProcessBaseline])

	res, err = s.handleListMine(asSCM, callRequest(map[string]interface{}{}))
	require.NoError(t, err)
	var mine []models.Workflow
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &mine))
	assert.Len(t, mine, 1)
}

func TestToolArguments(t *testing.T) {
	s, id := newTestServer(t)
	asManager := auth.WithActor(context.Background(), manager)

	res, err := s.handleRequest(context.Background(), callRequest(map[string]interface{}{"workflow_id": float64(id), "process": "baseline"}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "no actor")

	res, err = s.handleRequest(asManager, callRequest(map[string]interface{}{"process": "baseline"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleToggleReject(asManager, callRequest(map[string]interface{}{"workflow_id": 1.5, "test_id": float64(1)}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "fractional id")

	res, err = s.handleListActivities(asManager, callRequest(map[string]interface{}{"workflow_id": float64(id + 1)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not found")
}

func TestIntArg(t *testing.T) {
	args := map[string]interface{}{"a": float64(3), "b": 2.5, "c": "3"}
	v, ok := intArg(args, "a")
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)
	_, ok = intArg(args, "b")
	assert.False(t, ok)
	_, ok = intArg(args, "c")
	assert.False(t, ok)
	_, ok = intArg(args, "missing")
	assert.False(t, ok)
}
