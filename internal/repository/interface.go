// Package repository defines the persistence interfaces for the workflow
// backend and provides a PostgreSQL implementation plus an in-memory
// implementation used in tests.
package repository

import (
	"context"
	"errors"

	"orgflow/backend/pkg/models"
)

// ErrNotFound is returned by Get* methods when no row matches. The workflow
// engine translates it into its own taxonomy.
var ErrNotFound = errors.New("not found")

// StageFilter narrows ListStages. Zero-value fields are ignored. Results are
// always ordered by (step, sequence_in_parent) ascending.
type StageFilter struct {
	WorkflowRequestID string
	Status            *models.StageStatus
	ParentStageID     *string
	AssignedToUserID  *string
}

// TenantStore persists tenants.
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

// OrgStore persists the organizational chart and answers the lookups the
// engine's assignment rules need.
type OrgStore interface {
	CreateOrganization(ctx context.Context, org *models.Organization) error
	ListOrganizations(ctx context.Context, tenantID string) ([]*models.Organization, error)
	CreateDepartment(ctx context.Context, dept *models.Department) error
	ListDepartments(ctx context.Context, organizationID string) ([]*models.Department, error)
	CreatePosition(ctx context.Context, pos *models.Position) error
	GetPosition(ctx context.Context, id string) (*models.Position, error)
	CreateEmployee(ctx context.Context, emp *models.Employee) error
	GetEmployee(ctx context.Context, id string) (*models.Employee, error)

	// FindEmployeeByPosition returns the first occupant of a position, or
	// ErrNotFound when the seat is vacant.
	FindEmployeeByPosition(ctx context.Context, positionID string) (*models.Employee, error)
	// FindEmployeeByEmail returns the tenant's employee record for the
	// authenticated email, or ErrNotFound.
	FindEmployeeByEmail(ctx context.Context, tenantID, email string) (*models.Employee, error)
	// FindParentPosition returns the supervising position of the given
	// position, or ErrNotFound when it has none.
	FindParentPosition(ctx context.Context, positionID string) (*models.Position, error)
}

// WorkflowStore reads and writes workflow templates. GetWorkflow loads the
// stage list ordered by step ascending.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error)
}

// RequestStore persists workflow requests and their instance stages.
// Instance stage rows are append-only history: they are created and have
// their status advanced, never deleted.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *models.WorkflowRequest) error
	GetRequest(ctx context.Context, id string) (*models.WorkflowRequest, error)
	UpdateRequest(ctx context.Context, req *models.WorkflowRequest) error
	ListRequests(ctx context.Context, tenantID string) ([]*models.WorkflowRequest, error)

	CreateStage(ctx context.Context, stage *models.WorkflowInstanceStage) error
	CreateStages(ctx context.Context, stages []*models.WorkflowInstanceStage) error
	GetStage(ctx context.Context, id string) (*models.WorkflowInstanceStage, error)
	UpdateStage(ctx context.Context, stage *models.WorkflowInstanceStage) error
	ListStages(ctx context.Context, filter StageFilter) ([]*models.WorkflowInstanceStage, error)

	// NextPendingStage returns the lowest-ordered pending stage of a
	// request, or ErrNotFound when none is pending. Pure read.
	NextPendingStage(ctx context.Context, requestID string) (*models.WorkflowInstanceStage, error)
}

// MessageStore persists the discussion threads attached to requests.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.RequestMessage) error
	ListMessages(ctx context.Context, requestID string) ([]*models.RequestMessage, error)
}

// BudgetStore persists vote-book accounts, vouchers and adjustments.
type BudgetStore interface {
	CreateAccount(ctx context.Context, acct *models.VoteBookAccount) error
	GetAccount(ctx context.Context, id string) (*models.VoteBookAccount, error)
	UpdateAccount(ctx context.Context, acct *models.VoteBookAccount) error
	ListAccounts(ctx context.Context, organizationID string) ([]*models.VoteBookAccount, error)

	CreateVoucher(ctx context.Context, v *models.Voucher) error
	GetVoucher(ctx context.Context, id string) (*models.Voucher, error)
	UpdateVoucher(ctx context.Context, v *models.Voucher) error
	ListVouchersByRequest(ctx context.Context, requestID string) ([]*models.Voucher, error)

	CreateAdjustment(ctx context.Context, adj *models.BudgetAdjustment) error
	UpdateAdjustment(ctx context.Context, adj *models.BudgetAdjustment) error
	ListAdjustmentsByRequest(ctx context.Context, requestID string) ([]*models.BudgetAdjustment, error)
}

// Store aggregates every persistence concern of the backend.
//
// InRequestTx serializes mutations on one request's stage set: the function
// runs inside a transaction that first acquires an exclusive lock on the
// request row, so concurrent completions of sibling stages are strictly
// ordered and fan-in can never collapse twice. The Store passed to fn is
// scoped to the transaction; the transaction commits iff fn returns nil.
type Store interface {
	TenantStore
	OrgStore
	WorkflowStore
	RequestStore
	MessageStore
	BudgetStore

	InRequestTx(ctx context.Context, requestID string, fn func(ctx context.Context, tx Store) error) error

	// InTx runs fn inside a plain transaction with no request lock. Used
	// for multi-row writes that create a request before any lockable row
	// exists.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
