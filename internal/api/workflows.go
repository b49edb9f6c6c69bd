package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"orgflow/backend/internal/auth"
	"orgflow/backend/internal/repository"
	"orgflow/backend/internal/workflow"
	"orgflow/backend/pkg/models"
)

// tenantID pulls the tenant resolved by the auth middleware, failing the
// request when it is missing.
func tenantID(c echo.Context) (string, error) {
	id := auth.TenantID(c.Request().Context())
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "tenant not resolved")
	}
	return id, nil
}

// ListWorkflows returns the tenant's workflow templates.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	workflows, err := s.Store.ListWorkflows(c.Request().Context(), tenant)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow stores a workflow template with its stage list.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapWorkflowAdmin); err != nil {
		return err
	}

	var wf models.Workflow
	if err := c.Bind(&wf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	wf.TenantID = tenant
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	for _, st := range wf.Stages {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		st.WorkflowID = wf.ID
	}

	if err := s.Store.CreateWorkflow(c.Request().Context(), &wf); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// GetWorkflow returns one template with its stages.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.Store.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// startRequestBody is the JSON shape of a new submission.
type startRequestBody struct {
	WorkflowID     string                 `json:"workflow_id"`
	RequestorID    string                 `json:"requestor_id"`
	ActingUserID   string                 `json:"acting_user_id"`
	NextAssigneeID *string                `json:"next_assignee_id,omitempty"`
	FieldResponses map[string]any         `json:"field_responses,omitempty"`
	FormResponses  map[string]any         `json:"form_responses,omitempty"`
	LoopActors     []models.SubStageActor `json:"loop_actors,omitempty"`
}

// StartWorkflowRequest creates a request and its initial stages.
// (POST /api/v1/workflow-requests)
func (s *Server) StartWorkflowRequest(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapWorkflowAct); err != nil {
		return err
	}

	var body startRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if body.WorkflowID == "" || body.RequestorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_id and requestor_id are required")
	}

	req, err := s.Engine.StartRequest(c.Request().Context(), workflow.StartRequestInput{
		TenantID:       tenant,
		WorkflowID:     body.WorkflowID,
		RequestorID:    body.RequestorID,
		ActingUserID:   body.ActingUserID,
		NextAssigneeID: body.NextAssigneeID,
		FieldResponses: body.FieldResponses,
		FormResponses:  body.FormResponses,
		LoopActors:     body.LoopActors,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, req)
}

// ListWorkflowRequests returns the tenant's requests.
// (GET /api/v1/workflow-requests)
func (s *Server) ListWorkflowRequests(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	requests, err := s.Store.ListRequests(c.Request().Context(), tenant)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, requests)
}

// GetWorkflowRequest returns one request.
// (GET /api/v1/workflow-requests/:id)
func (s *Server) GetWorkflowRequest(c echo.Context) error {
	req, err := s.Store.GetRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

// ListRequestStages returns the full stage history of a request in
// precedence order.
// (GET /api/v1/workflow-requests/:id/stages)
func (s *Server) ListRequestStages(c echo.Context) error {
	stages, err := s.Store.ListStages(c.Request().Context(), repository.StageFilter{
		WorkflowRequestID: c.Param("id"),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stages)
}

// GetNextStage answers whose turn it is on a request.
// (GET /api/v1/workflow-requests/:id/next-stage)
func (s *Server) GetNextStage(c echo.Context) error {
	info, err := s.Engine.NextStage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// completeStageBody is the JSON shape of an approve/reject action.
type completeStageBody struct {
	Action         models.StageAction     `json:"action"`
	Comment        string                 `json:"comment,omitempty"`
	FieldResponses map[string]any         `json:"field_responses,omitempty"`
	FormResponses  map[string]any         `json:"form_responses,omitempty"`
	ActedByUserID  string                 `json:"acted_by_user_id"`
	DynamicActors  []models.SubStageActor `json:"dynamic_actors,omitempty"`
}

// CompleteStage applies an approve or reject action to a pending stage.
// (POST /api/v1/workflow-requests/stages/:id/complete)
func (s *Server) CompleteStage(c echo.Context) error {
	if err := s.requireCapability(c, auth.CapWorkflowAct); err != nil {
		return err
	}

	var body completeStageBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if body.ActedByUserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "acted_by_user_id is required")
	}

	err := s.Engine.CompleteStage(c.Request().Context(), workflow.CompleteStageInput{
		StageID:        c.Param("id"),
		Action:         body.Action,
		Comment:        body.Comment,
		FieldResponses: body.FieldResponses,
		FormResponses:  body.FormResponses,
		ActedByUserID:  body.ActedByUserID,
		DynamicActors:  body.DynamicActors,
	})
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// sendBackBody is the JSON shape of a targeted send-back.
type sendBackBody struct {
	Comment        string              `json:"comment,omitempty"`
	SentBackToRole models.InternalRole `json:"sent_back_to_role"`
	ActedByUserID  string              `json:"acted_by_user_id"`
}

// SendBackStage sends an internal-loop stage back to a named role.
// (POST /api/v1/workflow-requests/stages/:id/send-back)
func (s *Server) SendBackStage(c echo.Context) error {
	if err := s.requireCapability(c, auth.CapWorkflowAct); err != nil {
		return err
	}

	var body sendBackBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	err := s.Engine.SendBackStage(c.Request().Context(), workflow.SendBackInput{
		StageID:        c.Param("id"),
		Comment:        body.Comment,
		SentBackToRole: body.SentBackToRole,
		ActedByUserID:  body.ActedByUserID,
	})
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListMessages returns the discussion thread of a request.
// (GET /api/v1/workflow-requests/:id/messages)
func (s *Server) ListMessages(c echo.Context) error {
	messages, err := s.Store.ListMessages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, messages)
}

// PostMessage appends a message to a request's thread.
// (POST /api/v1/workflow-requests/:id/messages)
func (s *Server) PostMessage(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapMessagingWrite); err != nil {
		return err
	}

	var msg models.RequestMessage
	if err := c.Bind(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if msg.Body == "" || msg.AuthorUserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body and author_user_id are required")
	}
	msg.ID = uuid.New().String()
	msg.TenantID = tenant
	msg.WorkflowRequestID = c.Param("id")
	msg.CreatedAt = time.Now().UTC()

	if err := s.Store.CreateMessage(c.Request().Context(), &msg); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}
