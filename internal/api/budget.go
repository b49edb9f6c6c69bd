package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"orgflow/backend/internal/auth"
	"orgflow/backend/pkg/models"
)

// ListAccounts returns an organization's vote-book accounts.
// (GET /api/v1/organizations/:id/accounts)
func (s *Server) ListAccounts(c echo.Context) error {
	accounts, err := s.Store.ListAccounts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, accounts)
}

// CreateAccount creates a vote-book account.
// (POST /api/v1/accounts)
func (s *Server) CreateAccount(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapBudgetWrite); err != nil {
		return err
	}
	var acct models.VoteBookAccount
	if err := c.Bind(&acct); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	acct.ID = uuid.New().String()
	acct.TenantID = tenant
	acct.Committed = 0
	acct.Spent = 0
	if err := s.Store.CreateAccount(c.Request().Context(), &acct); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, acct)
}

// RaiseVoucher raises a payment voucher against an account, committing the
// funds immediately.
// (POST /api/v1/vouchers)
func (s *Server) RaiseVoucher(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapBudgetWrite); err != nil {
		return err
	}
	var v models.Voucher
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	v.ID = uuid.New().String()
	v.TenantID = tenant
	if v.CreatedBy == "" {
		v.CreatedBy = auth.UserEmail(c.Request().Context())
	}
	if err := s.Budget.RaiseVoucher(c.Request().Context(), &v); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

// ProposeAdjustment records a budget adjustment between two accounts. When
// the adjustment is not tied to a workflow request it is applied at once.
// (POST /api/v1/budget-adjustments)
func (s *Server) ProposeAdjustment(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapBudgetWrite); err != nil {
		return err
	}
	var adj models.BudgetAdjustment
	if err := c.Bind(&adj); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	adj.ID = uuid.New().String()
	adj.TenantID = tenant
	if err := s.Budget.ProposeAdjustment(c.Request().Context(), &adj); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, adj)
}
