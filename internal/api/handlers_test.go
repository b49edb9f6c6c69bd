package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgflow/backend/internal/auth"
	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/internal/services"
	"orgflow/backend/internal/workflow"
	"orgflow/backend/pkg/models"
)

const testTenant = "tenant-1"

type testAPI struct {
	echo  *echo.Echo
	store *repository.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	return newTestAPIAs(t, "dev@localhost")
}

// newTestAPIAs pins the authenticated user; capability checks resolve the
// role through the employee record matching that email.
func newTestAPIAs(t *testing.T, email string) *testAPI {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := logging.NewNop()
	engine := workflow.NewEngine(store, logger)
	budget := services.NewBudgetService(store, logger)
	engine.AddListener(budget)

	require.NoError(t, store.CreateEmployee(context.Background(), &models.Employee{
		ID: "emp-dev", TenantID: testTenant, FirstName: "Dev", Email: "dev@localhost", Role: "admin",
	}))

	e := echo.New()
	e.HTTPErrorHandler = NewProblemHandler(logger)
	// Stand-in for the auth middleware: pin the tenant on every request.
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.ContextWithTenant(c.Request().Context(), testTenant, email)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewServer(store, engine, budget, auth.NewRoleTable(nil), logger).Register(g)
	return &testAPI{echo: e, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) seedWorkflow(t *testing.T) (*models.Workflow, *models.Employee, *models.Employee) {
	t.Helper()
	ctx := context.Background()

	reviewerPos := &models.Position{ID: "pos-rev", Title: "Reviewer"}
	require.NoError(t, a.store.CreatePosition(ctx, reviewerPos))
	reviewer := &models.Employee{ID: "emp-rev", TenantID: testTenant, PositionID: &reviewerPos.ID, FirstName: "Rev", Email: "rev@localhost"}
	require.NoError(t, a.store.CreateEmployee(ctx, reviewer))
	requestor := &models.Employee{ID: "emp-req", TenantID: testTenant, FirstName: "Req", Email: "req@localhost"}
	require.NoError(t, a.store.CreateEmployee(ctx, requestor))

	wf := &models.Workflow{
		ID:       "wf-1",
		TenantID: testTenant,
		Name:     "Requisition",
		Stages: []*models.Stage{
			{ID: "st-1", WorkflowID: "wf-1", Name: "Submission", Step: 1},
			{ID: "st-2", WorkflowID: "wf-1", Name: "Review", Step: 2, AssigneePositionID: &reviewerPos.ID},
		},
	}
	require.NoError(t, a.store.CreateWorkflow(ctx, wf))
	return wf, requestor, reviewer
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStartAndCompleteRequestOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	a.seedWorkflow(t)

	rec := a.do(t, http.MethodPost, "/api/v1/workflow-requests",
		`{"workflow_id":"wf-1","requestor_id":"emp-req","form_responses":{"item":"chairs"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var req models.WorkflowRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, testTenant, req.TenantID)

	rec = a.do(t, http.MethodGet, "/api/v1/workflow-requests/"+req.ID+"/next-stage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info workflow.NextStageInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.True(t, info.RequiresAction)
	require.NotNil(t, info.CurrentStage)
	assert.Equal(t, "emp-rev", info.CurrentStage.AssignedToUserID)

	rec = a.do(t, http.MethodPost, "/api/v1/workflow-requests/stages/"+info.CurrentStage.ID+"/complete",
		`{"action":"approve","acted_by_user_id":"emp-rev"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/v1/workflow-requests/"+req.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	assert.Equal(t, models.RequestStatusApproved, req.Status)
}

func TestStartRequestValidation(t *testing.T) {
	a := newTestAPI(t)
	a.seedWorkflow(t)

	rec := a.do(t, http.MethodPost, "/api/v1/workflow-requests", `{"requestor_id":"emp-req"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/workflow-requests",
		`{"workflow_id":"missing","requestor_id":"emp-req"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteStageConflicts(t *testing.T) {
	a := newTestAPI(t)
	a.seedWorkflow(t)

	rec := a.do(t, http.MethodPost, "/api/v1/workflow-requests",
		`{"workflow_id":"wf-1","requestor_id":"emp-req"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var req models.WorkflowRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))

	stage, err := a.store.NextPendingStage(context.Background(), req.ID)
	require.NoError(t, err)

	rec = a.do(t, http.MethodPost, "/api/v1/workflow-requests/stages/"+stage.ID+"/complete",
		`{"action":"reject","acted_by_user_id":"emp-rev"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Acting on the closed stage again maps to a conflict.
	rec = a.do(t, http.MethodPost, "/api/v1/workflow-requests/stages/"+stage.ID+"/complete",
		`{"action":"approve","acted_by_user_id":"emp-rev"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/workflow-requests/stages/missing/complete",
		`{"action":"approve","acted_by_user_id":"emp-rev"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageThreadOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	a.seedWorkflow(t)

	rec := a.do(t, http.MethodPost, "/api/v1/workflow-requests",
		`{"workflow_id":"wf-1","requestor_id":"emp-req"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var req models.WorkflowRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))

	rec = a.do(t, http.MethodPost, "/api/v1/workflow-requests/"+req.ID+"/messages",
		`{"author_user_id":"emp-req","body":"please expedite"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/workflow-requests/"+req.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []models.RequestMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "please expedite", msgs[0].Body)
}

func TestCapabilityEnforcement(t *testing.T) {
	a := newTestAPIAs(t, "clerk@localhost")
	require.NoError(t, a.store.CreateEmployee(context.Background(), &models.Employee{
		ID: "emp-clerk", TenantID: testTenant, FirstName: "Clerk", Email: "clerk@localhost", Role: "employee",
	}))
	a.seedWorkflow(t)

	// The employee role may start and act on requests but not touch the
	// vote book or the org chart.
	rec := a.do(t, http.MethodPost, "/api/v1/workflow-requests",
		`{"workflow_id":"wf-1","requestor_id":"emp-req"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/v1/vouchers",
		`{"account_id":"acct-1","voucher_number":"V-1","amount":100}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/organizations", `{"name":"Shadow Org"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/workflows", `{"name":"Shadow Flow"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A user with no employee record falls back to the employee role.
	b := newTestAPIAs(t, "stranger@localhost")
	rec = b.do(t, http.MethodPost, "/api/v1/positions", `{"title":"Chief"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestErrorsRenderAsProblemDetails(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/workflow-requests/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))

	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, http.StatusNotFound, p.Status)
	assert.Equal(t, "Not Found", p.Title)
	assert.NotEmpty(t, p.Detail)
}

func TestVoucherOverdrawMapsTo422(t *testing.T) {
	a := newTestAPI(t)
	require.NoError(t, a.store.CreateAccount(context.Background(), &models.VoteBookAccount{
		ID: "acct-1", TenantID: testTenant, OrganizationID: "org-1", Code: "OPS", Name: "Operations", FiscalYear: 2026, Allocated: 1_000,
	}))

	rec := a.do(t, http.MethodPost, "/api/v1/vouchers",
		`{"account_id":"acct-1","voucher_number":"V-1","amount":5000,"created_by":"emp-req"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/vouchers",
		`{"account_id":"acct-1","voucher_number":"V-2","amount":500,"created_by":"emp-req"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v models.Voucher
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, models.VoucherStatusCommitted, v.Status)
	assert.Equal(t, testTenant, v.TenantID)
}
