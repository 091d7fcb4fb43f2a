package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"workflowup/backend/internal/auth"
	"workflowup/backend/internal/engine"
	"workflowup/backend/pkg/models"
)

// WorkflowView is the wire form of a workflow. Dates use YYYY-MM-DD.
type WorkflowView struct {
	ID            int64  `json:"id"`
	ProjectCode   string `json:"project_code"`
	ProjectName   string `json:"project_name"`
	Description   string `json:"description"`
	Component     string `json:"component"`
	Manager       string `json:"manager"`
	BaselineLabel string `json:"baseline_label,omitempty"`
	RMCode        string `json:"rm_code,omitempty"`
	ReleaseTag    string `json:"release_tag,omitempty"`
	CreatedOn     string `json:"created_on"`
	QATarget      string `json:"qa_target"`
	PAPTarget     string `json:"pap_target"`
}

func viewOf(w models.Workflow) WorkflowView {
	return WorkflowView{
		ID:            w.ID,
		ProjectCode:   w.ProjectCode,
		ProjectName:   w.ProjectName,
		Description:   w.Description,
		Component:     w.Component,
		Manager:       w.Manager,
		BaselineLabel: w.BaselineLabel,
		RMCode:        w.RMCode,
		ReleaseTag:    w.ReleaseTag,
		CreatedOn:     formatDate(w.CreatedOn),
		QATarget:      formatDate(w.QATarget),
		PAPTarget:     formatDate(w.PAPTarget),
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

// CreateWorkflowRequest is the body of POST /workflows.
type CreateWorkflowRequest struct {
	ProjectCode string `json:"project_code"`
	ProjectName string `json:"project_name"`
	Description string `json:"description"`
	Component   string `json:"component"`
	ReleaseTag  string `json:"release_tag"`
	QATarget    string `json:"qa_target"`
	PAPTarget   string `json:"pap_target"`
}

// CommentRequest carries an optional comment.
type CommentRequest struct {
	Comment string `json:"comment"`
}

// DecisionRequest is the body of a process decision.
type DecisionRequest struct {
	Decision models.Decision `json:"decision"`
	Comment  string          `json:"comment"`
}

// FieldRequest is the body of a single field update.
type FieldRequest struct {
	Value string `json:"value"`
}

// DatesRequest is the body of the paired target-date update.
type DatesRequest struct {
	QATarget  string `json:"qa_target"`
	PAPTarget string `json:"pap_target"`
}

// TestCaseRequest is the body of POST /tests.
type TestCaseRequest struct {
	Description string `json:"description"`
}

// ProgressRequest is the body of a progress update.
type ProgressRequest struct {
	Progress *int `json:"progress"`
}

// RegisterHandlers mounts the workflow routes on g.
func RegisterHandlers(g *echo.Group, h *Handler) {
	g.POST("/workflows", h.CreateWorkflow)
	g.GET("/workflows", h.ListWorkflows)
	g.GET("/workflows/:id", h.GetWorkflow)
	g.GET("/workflows/:id/state", h.GetState)
	g.GET("/workflows/:id/actions", h.GetActions)
	g.GET("/workflows/:id/activities", h.ListActivities)
	g.POST("/workflows/:id/processes/:process/request", h.RequestProcess)
	g.POST("/workflows/:id/processes/:process/decision", h.DecideProcess)
	g.POST("/workflows/:id/cancel", h.CancelWorkflow)
	g.POST("/workflows/:id/close", h.CloseWorkflow)
	g.PATCH("/workflows/:id/fields/:field", h.UpdateField)
	g.PUT("/workflows/:id/dates", h.UpdateDates)
	g.GET("/workflows/:id/tests", h.ListTests)
	g.POST("/workflows/:id/tests", h.AddTest)
	g.PUT("/workflows/:id/tests/:testId/progress", h.SetTestProgress)
	g.POST("/workflows/:id/tests/:testId/toggle-reject", h.ToggleTestReject)
}

// CreateWorkflow opens a workflow owned by the caller
// (POST /api/v1/workflows)
func (h *Handler) CreateWorkflow(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	in := models.NewWorkflow{
		ProjectCode: req.ProjectCode,
		ProjectName: req.ProjectName,
		Description: req.Description,
		Component:   req.Component,
		ReleaseTag:  req.ReleaseTag,
	}
	if in.QATarget, err = engine.ParseDate("qa_target", req.QATarget); err != nil {
		return err
	}
	if in.PAPTarget, err = engine.ParseDate("pap_target", req.PAPTarget); err != nil {
		return err
	}
	w, err := h.svc.CreateWorkflow(c.Request().Context(), actor.Username, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewOf(w))
}

// ListWorkflows returns the caller's dashboard
// (GET /api/v1/workflows)
func (h *Handler) ListWorkflows(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	query := c.QueryParams()
	var (
		role   string
		filter models.WorkflowFilter
	)
	if err := runtime.BindQueryParameter("form", true, false, "role", query, &role); err != nil {
		return badParam("role", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "project_code", query, &filter.ProjectCode); err != nil {
		return badParam("project_code", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "search", query, &filter.Search); err != nil {
		return badParam("search", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "component", query, &filter.Component); err != nil {
		return badParam("component", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &filter.Limit); err != nil {
		return badParam("limit", err)
	}
	if filter.Limit < 0 {
		return &engine.ValidationError{Field: "limit", Reason: "must not be negative"}
	}

	dashboard := actor.Role
	if role != "" {
		parsed, ok := models.ParseRole(role)
		if !ok {
			return &engine.ValidationError{Field: "role", Reason: "unknown role " + role}
		}
		dashboard = parsed
	}
	workflows, err := h.svc.ListWorkflowsFor(c.Request().Context(), dashboard, actor.Username, filter)
	if err != nil {
		return err
	}
	out := make([]WorkflowView, 0, len(workflows))
	for _, w := range workflows {
		out = append(out, viewOf(w))
	}
	return c.JSON(http.StatusOK, out)
}

// GetWorkflow returns one workflow
// (GET /api/v1/workflows/{id})
func (h *Handler) GetWorkflow(c echo.Context) error {
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(w))
}

// GetState returns the workflow and process states
// (GET /api/v1/workflows/{id}/state)
func (h *Handler) GetState(c echo.Context) error {
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetCurrentState(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// GetActions returns the button flags for the caller
// (GET /api/v1/workflows/{id}/actions)
func (h *Handler) GetActions(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	actions, err := h.svc.GetActions(c.Request().Context(), id, actor.Username)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, actions)
}

// ListActivities returns the activity log
// (GET /api/v1/workflows/{id}/activities)
func (h *Handler) ListActivities(c echo.Context) error {
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	log, err := h.svc.ListActivities(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if log == nil {
		log = []models.Activity{}
	}
	return c.JSON(http.StatusOK, log)
}

// RequestProcess asks for review of a process
// (POST /api/v1/workflows/{id}/processes/{process}/request)
func (h *Handler) RequestProcess(c echo.Context) error {
	actor, id, process, err := h.processTarget(c)
	if err != nil {
		return err
	}
	var req CommentRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := h.svc.RequestProcess(c.Request().Context(), id, process, actor.Username, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

// DecideProcess approves or rejects a process
// (POST /api/v1/workflows/{id}/processes/{process}/decision)
func (h *Handler) DecideProcess(c echo.Context) error {
	actor, id, process, err := h.processTarget(c)
	if err != nil {
		return err
	}
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	a, err := h.svc.DecideProcess(c.Request().Context(), id, process, actor.Username, req.Decision, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

// CancelWorkflow cancels a workflow
// (POST /api/v1/workflows/{id}/cancel)
func (h *Handler) CancelWorkflow(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CancelWorkflow(c.Request().Context(), id, actor.Username)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

// CloseWorkflow closes a workflow whose QA is approved
// (POST /api/v1/workflows/{id}/close)
func (h *Handler) CloseWorkflow(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	var req CommentRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := h.svc.CloseWorkflow(c.Request().Context(), id, actor.Username, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

// UpdateField writes one mutable field
// (PATCH /api/v1/workflows/{id}/fields/{field})
func (h *Handler) UpdateField(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	var field string
	if err := bindPath(c, "field", &field); err != nil {
		return err
	}
	var req FieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	w, err := h.svc.UpdateField(c.Request().Context(), id, models.Field(field), req.Value, actor.Username)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(w))
}

// UpdateDates writes both target dates
// (PUT /api/v1/workflows/{id}/dates)
func (h *Handler) UpdateDates(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	var req DatesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	qa, err := engine.ParseDate("qa_target", req.QATarget)
	if err != nil {
		return err
	}
	pap, err := engine.ParseDate("pap_target", req.PAPTarget)
	if err != nil {
		return err
	}
	w, err := h.svc.UpdateTargetDates(c.Request().Context(), id, qa, pap, actor.Username)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(w))
}

// ListTests returns the test plan
// (GET /api/v1/workflows/{id}/tests)
func (h *Handler) ListTests(c echo.Context) error {
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	tests, err := h.svc.ListTestCases(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if tests == nil {
		tests = []models.TestCase{}
	}
	return c.JSON(http.StatusOK, tests)
}

// AddTest appends a test case
// (POST /api/v1/workflows/{id}/tests)
func (h *Handler) AddTest(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := workflowID(c)
	if err != nil {
		return err
	}
	var req TestCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	tc, err := h.svc.AddTestCase(c.Request().Context(), id, actor.Username, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tc)
}

// SetTestProgress records QA progress
// (PUT /api/v1/workflows/{id}/tests/{testId}/progress)
func (h *Handler) SetTestProgress(c echo.Context) error {
	actor, id, testID, err := h.testTarget(c)
	if err != nil {
		return err
	}
	var req ProgressRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Progress == nil {
		return &engine.ValidationError{Field: "progress", Reason: "is required"}
	}
	tc, err := h.svc.SetTestProgress(c.Request().Context(), id, testID, actor.Username, *req.Progress)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tc)
}

// ToggleTestReject flips a test case into or out of rejected
// (POST /api/v1/workflows/{id}/tests/{testId}/toggle-reject)
func (h *Handler) ToggleTestReject(c echo.Context) error {
	actor, id, testID, err := h.testTarget(c)
	if err != nil {
		return err
	}
	tc, err := h.svc.ToggleTestReject(c.Request().Context(), id, testID, actor.Username)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tc)
}

func (h *Handler) processTarget(c echo.Context) (models.User, int64, models.Process, error) {
	actor, err := currentActor(c)
	if err != nil {
		return models.User{}, 0, "", err
	}
	id, err := workflowID(c)
	if err != nil {
		return models.User{}, 0, "", err
	}
	var process string
	if err := bindPath(c, "process", &process); err != nil {
		return models.User{}, 0, "", err
	}
	p := models.Process(process)
	if !p.Valid() {
		return models.User{}, 0, "", &engine.ValidationError{Field: "process", Reason: "unknown process " + process}
	}
	return actor, id, p, nil
}

func (h *Handler) testTarget(c echo.Context) (models.User, int64, int64, error) {
	actor, err := currentActor(c)
	if err != nil {
		return models.User{}, 0, 0, err
	}
	id, err := workflowID(c)
	if err != nil {
		return models.User{}, 0, 0, err
	}
	var testID int64
	if err := bindPath(c, "testId", &testID); err != nil {
		return models.User{}, 0, 0, err
	}
	return actor, id, testID, nil
}

func currentActor(c echo.Context) (models.User, error) {
	actor, ok := auth.ActorFrom(c.Request().Context())
	if !ok {
		return models.User{}, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	return actor, nil
}

func workflowID(c echo.Context) (int64, error) {
	var id int64
	err := bindPath(c, "id", &id)
	return id, err
}

func bindPath(c echo.Context, name string, dest any) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, c.Param(name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return badParam(name, err)
	}
	return nil
}

func badParam(name string, err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter "+name+": "+err.Error())
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c echo.Context, dest any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(dest); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return nil
}
