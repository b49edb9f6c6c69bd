package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"orgflow/backend/internal/auth"
	"orgflow/backend/pkg/models"
)

// ListOrganizations returns the tenant's organizations.
// (GET /api/v1/organizations)
func (s *Server) ListOrganizations(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	orgs, err := s.Store.ListOrganizations(c.Request().Context(), tenant)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, orgs)
}

// CreateOrganization creates an organization.
// (POST /api/v1/organizations)
func (s *Server) CreateOrganization(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapOrgAdmin); err != nil {
		return err
	}
	var org models.Organization
	if err := c.Bind(&org); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	org.ID = uuid.New().String()
	org.TenantID = tenant
	if err := s.Store.CreateOrganization(c.Request().Context(), &org); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, org)
}

// ListDepartments returns an organization's departments.
// (GET /api/v1/organizations/:id/departments)
func (s *Server) ListDepartments(c echo.Context) error {
	depts, err := s.Store.ListDepartments(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, depts)
}

// CreateDepartment creates a department.
// (POST /api/v1/departments)
func (s *Server) CreateDepartment(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapOrgAdmin); err != nil {
		return err
	}
	var dept models.Department
	if err := c.Bind(&dept); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	dept.ID = uuid.New().String()
	dept.TenantID = tenant
	if err := s.Store.CreateDepartment(c.Request().Context(), &dept); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, dept)
}

// CreatePosition creates a position in the org chart.
// (POST /api/v1/positions)
func (s *Server) CreatePosition(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapOrgAdmin); err != nil {
		return err
	}
	var pos models.Position
	if err := c.Bind(&pos); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	pos.ID = uuid.New().String()
	pos.TenantID = tenant
	if err := s.Store.CreatePosition(c.Request().Context(), &pos); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, pos)
}

// CreateEmployee creates an employee.
// (POST /api/v1/employees)
func (s *Server) CreateEmployee(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	if err := s.requireCapability(c, auth.CapOrgAdmin); err != nil {
		return err
	}
	var emp models.Employee
	if err := c.Bind(&emp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	emp.ID = uuid.New().String()
	emp.TenantID = tenant
	if err := s.Store.CreateEmployee(c.Request().Context(), &emp); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, emp)
}

// GetEmployee returns one employee.
// (GET /api/v1/employees/:id)
func (s *Server) GetEmployee(c echo.Context) error {
	emp, err := s.Store.GetEmployee(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, emp)
}
