// Package models defines the domain models for the organizational workflow
// and approval backend.
package models

import (
	"time"
)

// Organization is the top-level unit beneath a tenant. Workflows, budgets
// and the org chart all hang off an organization.
type Organization struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	Code      string    `json:"code,omitempty" db:"code"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Department groups positions within an organization.
type Department struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Position is a seat in the org chart. ParentPositionID points at the
// supervising position; the chain of parents is what the engine walks when a
// stage's assignment rule says "derive from supervisor".
type Position struct {
	ID               string    `json:"id" db:"id"`
	TenantID         string    `json:"tenant_id" db:"tenant_id"`
	OrganizationID   string    `json:"organization_id" db:"organization_id"`
	DepartmentID     *string   `json:"department_id,omitempty" db:"department_id"`
	ParentPositionID *string   `json:"parent_position_id,omitempty" db:"parent_position_id"`
	Title            string    `json:"title" db:"title"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Employee is a person occupying a position. The workflow engine identifies
// actors by employee ID.
type Employee struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	PositionID     *string   `json:"position_id,omitempty" db:"position_id"`
	FirstName      string    `json:"first_name" db:"first_name"`
	LastName       string    `json:"last_name" db:"last_name"`
	Email          string    `json:"email" db:"email"`
	Role           string    `json:"role,omitempty" db:"role"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// FullName returns the display name for notification templates.
func (e *Employee) FullName() string {
	if e.LastName == "" {
		return e.FirstName
	}
	return e.FirstName + " " + e.LastName
}
