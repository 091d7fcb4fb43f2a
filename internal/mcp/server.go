// Package mcp exposes workflow commands and queries as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"workflowup/backend/internal/auth"
	"workflowup/backend/internal/services"
	"workflowup/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	workflows *services.WorkflowService
}

func NewServer(workflows *services.WorkflowService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"workflowup",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	workflowID := mcp.WithNumber("workflow_id", mcp.Required(), mcp.Description("The workflow id"))
	process := mcp.WithString("process", mcp.Required(), mcp.Description("One of baseline, rm_review, diff_info, qa"))
	testID := mcp.WithNumber("test_id", mcp.Required(), mcp.Description("The test case id within the workflow"))

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_state",
			mcp.WithDescription("Current workflow state and the state of each process"),
			workflowID,
		),
		s.handleGetState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_activities",
			mcp.WithDescription("Activity log of a workflow, oldest first"),
			workflowID,
		),
		s.handleListActivities,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_my_workflows",
			mcp.WithDescription("Workflows on the caller's dashboard"),
			mcp.WithString("search", mcp.Description("Project name substring")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of workflows")),
		),
		s.handleListMine,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"request_process",
			mcp.WithDescription("Request review of a process as the owning manager"),
			workflowID,
			process,
			mcp.WithString("comment", mcp.Description("Optional comment")),
		),
		s.handleRequest,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"decide_process",
			mcp.WithDescription("Approve or reject a process under review"),
			workflowID,
			process,
			mcp.WithString("decision", mcp.Required(), mcp.Description("ok or not_ok")),
			mcp.WithString("comment", mcp.Description("Required when rejecting")),
		),
		s.handleDecide,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"set_test_progress",
			mcp.WithDescription("Record QA progress on a test case"),
			workflowID,
			testID,
			mcp.WithNumber("progress", mcp.Required(), mcp.Description("Percentage from 0 to 100")),
		),
		s.handleSetProgress,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"toggle_test_reject",
			mcp.WithDescription("Flip a test case into or out of rejected"),
			workflowID,
			testID,
		),
		s.handleToggleReject,
	)
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, ok := intArg(args, "workflow_id")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	st, err := s.workflows.GetCurrentState(ctx, id)
	if err != nil {
		return failed("get state", err), nil
	}
	return jsonResult(st)
}

func (s *Server) handleListActivities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, ok := intArg(args, "workflow_id")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	log, err := s.workflows.ListActivities(ctx, id)
	if err != nil {
		return failed("list activities", err), nil
	}
	return jsonResult(log)
}

func (s *Server) handleListMine(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, ok := auth.ActorFrom(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}
	args, _ := request.Params.Arguments.(map[string]interface{})

	var filter models.WorkflowFilter
	filter.Search, _ = args["search"].(string)
	if limit, ok := intArg(args, "limit"); ok {
		filter.Limit = int(limit)
	}
	workflows, err := s.workflows.ListWorkflowsFor(ctx, actor.Role, actor.Username, filter)
	if err != nil {
		return failed("list workflows", err), nil
	}
	return jsonResult(workflows)
}

func (s *Server) handleRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, ok := auth.ActorFrom(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, ok := intArg(args, "workflow_id")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	process, ok := args["process"].(string)
	if !ok || process == "" {
		return mcp.NewToolResultError("Missing required parameter: process"), nil
	}
	comment, _ := args["comment"].(string)

	a, err := s.workflows.RequestProcess(ctx, id, models.Process(process), actor.Username, comment)
	if err != nil {
		return failed("request "+process, err), nil
	}
	return jsonResult(a)
}

func (s *Server) handleDecide(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, ok := auth.ActorFrom(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, ok := intArg(args, "workflow_id")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	process, ok := args["process"].(string)
	if !ok || process == "" {
		return mcp.NewToolResultError("Missing required parameter: process"), nil
	}
	decision, ok := args["decision"].(string)
	if !ok || decision == "" {
		return mcp.NewToolResultError("Missing required parameter: decision"), nil
	}
	comment, _ := args["comment"].(string)

	a, err := s.workflows.DecideProcess(ctx, id, models.Process(process), actor.Username, models.Decision(decision), comment)
	if err != nil {
		return failed("decide "+process, err), nil
	}
	return jsonResult(a)
}

func (s *Server) handleSetProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, ok := auth.ActorFrom(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, testID, ok := testArgs(args)
	if !ok {
		return mcp.NewToolResultError("Missing required parameters: workflow_id, test_id"), nil
	}
	progress, ok := intArg(args, "progress")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: progress"), nil
	}

	tc, err := s.workflows.SetTestProgress(ctx, id, testID, actor.Username, int(progress))
	if err != nil {
		return failed("set progress", err), nil
	}
	return jsonResult(tc)
}

func (s *Server) handleToggleReject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, ok := auth.ActorFrom(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, testID, ok := testArgs(args)
	if !ok {
		return mcp.NewToolResultError("Missing required parameters: workflow_id, test_id"), nil
	}

	tc, err := s.workflows.ToggleTestReject(ctx, id, testID, actor.Username)
	if err != nil {
		return failed("toggle reject", err), nil
	}
	return jsonResult(tc)
}

// intArg reads a whole JSON number. JSON numbers decode as float64.
func intArg(args map[string]interface{}, name string) (int64, bool) {
	v, ok := args[name].(float64)
	if !ok || v != float64(int64(v)) {
		return 0, false
	}
	return int64(v), true
}

func testArgs(args map[string]interface{}) (int64, int64, bool) {
	id, ok := intArg(args, "workflow_id")
	if !ok {
		return 0, 0, false
	}
	testID, ok := intArg(args, "test_id")
	return id, testID, ok
}

// failed reports domain errors as tool errors. Infrastructure errors are
// not echoed to the caller.
func failed(action string, err error) *mcp.CallToolResult {
	if services.Outcome(err) == services.OutcomeError {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: internal error", action))
	}
	return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", action, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport on mux. The authenticated actor
// on the message request is carried into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if actor, ok := auth.ActorFrom(r.Context()); ok {
				return auth.WithActor(ctx, actor)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
