package models

import (
	"time"
)

// Monetary amounts are stored in minor units (cents) to keep the vote-book
// arithmetic exact.

// VoteBookAccount is a budget line for one department and fiscal year.
// Available balance is Allocated minus Committed minus Spent.
type VoteBookAccount struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	DepartmentID   *string   `json:"department_id,omitempty" db:"department_id"`
	Code           string    `json:"code" db:"code"`
	Name           string    `json:"name" db:"name"`
	FiscalYear     int       `json:"fiscal_year" db:"fiscal_year"`
	Allocated      int64     `json:"allocated" db:"allocated"`
	Committed      int64     `json:"committed" db:"committed"`
	Spent          int64     `json:"spent" db:"spent"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Available returns the uncommitted, unspent balance.
func (a *VoteBookAccount) Available() int64 {
	return a.Allocated - a.Committed - a.Spent
}

// VoucherStatus is the lifecycle status of a payment voucher.
type VoucherStatus string

const (
	VoucherStatusDraft     VoucherStatus = "draft"
	VoucherStatusCommitted VoucherStatus = "committed"
	VoucherStatusPosted    VoucherStatus = "posted"
	VoucherStatusCancelled VoucherStatus = "cancelled"
)

// Voucher is a payment voucher drawn against a vote-book account. A voucher
// attached to a workflow request is posted when the request is approved and
// cancelled when it is rejected.
type Voucher struct {
	ID                string        `json:"id" db:"id"`
	TenantID          string        `json:"tenant_id" db:"tenant_id"`
	OrganizationID    string        `json:"organization_id" db:"organization_id"`
	AccountID         string        `json:"account_id" db:"account_id"`
	WorkflowRequestID *string       `json:"workflow_request_id,omitempty" db:"workflow_request_id"`
	VoucherNumber     string        `json:"voucher_number" db:"voucher_number"`
	Description       string        `json:"description,omitempty" db:"description"`
	Amount            int64         `json:"amount" db:"amount"`
	Status            VoucherStatus `json:"status" db:"status"`
	CreatedBy         string        `json:"created_by" db:"created_by"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// BudgetAdjustment moves allocation from one vote-book account to another.
// Like vouchers, adjustments attached to a workflow request are applied on
// approval.
type BudgetAdjustment struct {
	ID                string    `json:"id" db:"id"`
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	FromAccountID     string    `json:"from_account_id" db:"from_account_id"`
	ToAccountID       string    `json:"to_account_id" db:"to_account_id"`
	WorkflowRequestID *string   `json:"workflow_request_id,omitempty" db:"workflow_request_id"`
	Amount            int64     `json:"amount" db:"amount"`
	Reason            string    `json:"reason,omitempty" db:"reason"`
	Applied           bool      `json:"applied" db:"applied"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
