// Package api contains the HTTP handlers for the workflow backend.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"orgflow/backend/internal/auth"
	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/internal/services"
	"orgflow/backend/internal/workflow"
)

// Server holds the dependencies for the API server.
type Server struct {
	Store  repository.Store
	Engine *workflow.Engine
	Budget *services.BudgetService
	Roles  *auth.RoleTable
	Logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(store repository.Store, engine *workflow.Engine, budget *services.BudgetService, roles *auth.RoleTable, logger *logging.Logger) *Server {
	return &Server{Store: store, Engine: engine, Budget: budget, Roles: roles, Logger: logger}
}

// Register mounts every handler on the given group.
func (s *Server) Register(g *echo.Group) {
	g.GET("/health", s.Health)

	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows/:id", s.GetWorkflow)

	g.POST("/workflow-requests", s.StartWorkflowRequest)
	g.GET("/workflow-requests", s.ListWorkflowRequests)
	g.GET("/workflow-requests/:id", s.GetWorkflowRequest)
	g.GET("/workflow-requests/:id/stages", s.ListRequestStages)
	g.GET("/workflow-requests/:id/next-stage", s.GetNextStage)
	g.POST("/workflow-requests/stages/:id/complete", s.CompleteStage)
	g.POST("/workflow-requests/stages/:id/send-back", s.SendBackStage)
	g.GET("/workflow-requests/:id/messages", s.ListMessages)
	g.POST("/workflow-requests/:id/messages", s.PostMessage)

	g.GET("/organizations", s.ListOrganizations)
	g.POST("/organizations", s.CreateOrganization)
	g.GET("/organizations/:id/departments", s.ListDepartments)
	g.POST("/departments", s.CreateDepartment)
	g.POST("/positions", s.CreatePosition)
	g.POST("/employees", s.CreateEmployee)
	g.GET("/employees/:id", s.GetEmployee)

	g.GET("/organizations/:id/accounts", s.ListAccounts)
	g.POST("/accounts", s.CreateAccount)
	g.POST("/vouchers", s.RaiseVoucher)
	g.POST("/budget-adjustments", s.ProposeAdjustment)
}

// Health returns basic health status.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "orgflow-backend",
		"timestamp": time.Now().UTC(),
	})
}

// requireCapability checks the authenticated user's role against the
// capability table. Users without an employee record fall back to the
// baseline employee role.
func (s *Server) requireCapability(c echo.Context, capability auth.Capability) error {
	ctx := c.Request().Context()
	role := "employee"
	emp, err := s.Store.FindEmployeeByEmail(ctx, auth.TenantID(ctx), auth.UserEmail(ctx))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return httpError(err)
	}
	if err == nil && emp.Role != "" {
		role = emp.Role
	}
	if !s.Roles.Allows(role, capability) {
		return echo.NewHTTPError(http.StatusForbidden,
			fmt.Sprintf("role %q lacks capability %s", role, capability))
	}
	return nil
}

// ProblemDetails is the RFC 7807 document every API error renders as.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewProblemHandler returns an echo error handler that writes errors as
// application/problem+json bodies.
func NewProblemHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		detail := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			detail = fmt.Sprintf("%v", he.Message)
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		p := ProblemDetails{Type: "about:blank", Title: http.StatusText(code), Status: code, Detail: detail}
		if writeErr := c.JSON(code, p); writeErr != nil {
			logger.Error("failed to write problem response", "error", writeErr)
		}
	}
}

// httpError maps the engine and service taxonomies onto HTTP statuses.
func httpError(err error) error {
	var unresolved *workflow.UnresolvedAssigneeError
	var badStep *workflow.InvalidStepError
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound),
		errors.Is(err, workflow.ErrRequestNotFound),
		errors.Is(err, workflow.ErrStageNotFound),
		errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidStageState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &unresolved), errors.As(err, &badStep),
		errors.Is(err, services.ErrInsufficientFunds):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
