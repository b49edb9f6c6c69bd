package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"orgflow/backend/pkg/models"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same store methods run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore creates a PostgresStore on the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

var _ Store = (*PostgresStore)(nil)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// InRequestTx runs fn inside a transaction that first takes a row lock on
// the request, serializing every mutation of that request's stage set.
// Concurrent completions of sibling sub-stages therefore observe each
// other's writes in order, and fan-in can collapse exactly once.
func (s *PostgresStore) InRequestTx(ctx context.Context, requestID string, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		// Already transaction-scoped; the request row lock is held.
		return fn(ctx, s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin request tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT id FROM workflow_requests WHERE id = $1 FOR UPDATE", requestID); err != nil {
		return fmt.Errorf("lock request %s: %w", requestID, err)
	}
	if err := fn(ctx, &PostgresStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InTx runs fn inside a plain transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &PostgresStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- tenants ---

func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO tenants (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, now(), now())",
		tenant.ID, tenant.Name, tenant.Domain)
	return err
}

func (s *PostgresStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.q.QueryRow(ctx,
		"SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1",
		domain).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// --- org chart ---

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO organizations (id, tenant_id, name, code, created_at, updated_at) VALUES ($1, $2, $3, $4, now(), now())",
		org.ID, org.TenantID, org.Name, org.Code)
	return err
}

func (s *PostgresStore) ListOrganizations(ctx context.Context, tenantID string) ([]*models.Organization, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, tenant_id, name, code, created_at, updated_at FROM organizations WHERE tenant_id = $1 ORDER BY name",
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.TenantID, &o.Name, &o.Code, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateDepartment(ctx context.Context, dept *models.Department) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO departments (id, tenant_id, organization_id, name, created_at, updated_at) VALUES ($1, $2, $3, $4, now(), now())",
		dept.ID, dept.TenantID, dept.OrganizationID, dept.Name)
	return err
}

func (s *PostgresStore) ListDepartments(ctx context.Context, organizationID string) ([]*models.Department, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, tenant_id, organization_id, name, created_at, updated_at FROM departments WHERE organization_id = $1 ORDER BY name",
		organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Department
	for rows.Next() {
		var d models.Department
		if err := rows.Scan(&d.ID, &d.TenantID, &d.OrganizationID, &d.Name, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreatePosition(ctx context.Context, pos *models.Position) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO positions (id, tenant_id, organization_id, department_id, parent_position_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, now(), now())",
		pos.ID, pos.TenantID, pos.OrganizationID, pos.DepartmentID, pos.ParentPositionID, pos.Title)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	var p models.Position
	err := s.q.QueryRow(ctx,
		"SELECT id, tenant_id, organization_id, department_id, parent_position_id, title, created_at, updated_at FROM positions WHERE id = $1",
		id).Scan(&p.ID, &p.TenantID, &p.OrganizationID, &p.DepartmentID, &p.ParentPositionID, &p.Title, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateEmployee(ctx context.Context, emp *models.Employee) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO employees (id, tenant_id, organization_id, position_id, first_name, last_name, email, role, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())",
		emp.ID, emp.TenantID, emp.OrganizationID, emp.PositionID, emp.FirstName, emp.LastName, emp.Email, emp.Role)
	return err
}

func (s *PostgresStore) GetEmployee(ctx context.Context, id string) (*models.Employee, error) {
	var e models.Employee
	err := s.q.QueryRow(ctx,
		"SELECT id, tenant_id, organization_id, position_id, first_name, last_name, email, role, created_at, updated_at FROM employees WHERE id = $1",
		id).Scan(&e.ID, &e.TenantID, &e.OrganizationID, &e.PositionID, &e.FirstName, &e.LastName, &e.Email, &e.Role, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *PostgresStore) FindEmployeeByPosition(ctx context.Context, positionID string) (*models.Employee, error) {
	var e models.Employee
	err := s.q.QueryRow(ctx,
		"SELECT id, tenant_id, organization_id, position_id, first_name, last_name, email, role, created_at, updated_at FROM employees WHERE position_id = $1 ORDER BY created_at LIMIT 1",
		positionID).Scan(&e.ID, &e.TenantID, &e.OrganizationID, &e.PositionID, &e.FirstName, &e.LastName, &e.Email, &e.Role, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *PostgresStore) FindEmployeeByEmail(ctx context.Context, tenantID, email string) (*models.Employee, error) {
	var e models.Employee
	err := s.q.QueryRow(ctx,
		"SELECT id, tenant_id, organization_id, position_id, first_name, last_name, email, role, created_at, updated_at FROM employees WHERE tenant_id = $1 AND email = $2 ORDER BY created_at LIMIT 1",
		tenantID, email).Scan(&e.ID, &e.TenantID, &e.OrganizationID, &e.PositionID, &e.FirstName, &e.LastName, &e.Email, &e.Role, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *PostgresStore) FindParentPosition(ctx context.Context, positionID string) (*models.Position, error) {
	var p models.Position
	err := s.q.QueryRow(ctx,
		`SELECT parent.id, parent.tenant_id, parent.organization_id, parent.department_id, parent.parent_position_id, parent.title, parent.created_at, parent.updated_at
		 FROM positions child JOIN positions parent ON parent.id = child.parent_position_id
		 WHERE child.id = $1`,
		positionID).Scan(&p.ID, &p.TenantID, &p.OrganizationID, &p.DepartmentID, &p.ParentPositionID, &p.Title, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// --- workflow templates ---

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO workflows (id, tenant_id, organization_id, form_id, name, description, created_by, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())",
		wf.ID, wf.TenantID, wf.OrganizationID, wf.FormID, wf.Name, wf.Description, wf.CreatedBy)
	if err != nil {
		return err
	}
	for _, st := range wf.Stages {
		_, err := s.q.Exec(ctx,
			"INSERT INTO workflow_stages (id, workflow_id, name, step, requires_internal_loop, is_sub_stage, assignee_department_id, assignee_position_id, assignee_lookup_field, is_require_approval, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())",
			st.ID, wf.ID, st.Name, st.Step, st.RequiresInternalLoop, st.IsSubStage, st.AssigneeDepartmentID, st.AssigneePositionID, st.AssigneeLookupField, st.IsRequireApproval)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var wf models.Workflow
	err := s.q.QueryRow(ctx,
		"SELECT id, tenant_id, organization_id, form_id, name, description, created_by, created_at, updated_at FROM workflows WHERE id = $1",
		id).Scan(&wf.ID, &wf.TenantID, &wf.OrganizationID, &wf.FormID, &wf.Name, &wf.Description, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := s.q.Query(ctx,
		"SELECT id, workflow_id, name, step, requires_internal_loop, is_sub_stage, assignee_department_id, assignee_position_id, assignee_lookup_field, is_require_approval, created_at FROM workflow_stages WHERE workflow_id = $1 ORDER BY step, is_sub_stage",
		id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var st models.Stage
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.Step, &st.RequiresInternalLoop, &st.IsSubStage, &st.AssigneeDepartmentID, &st.AssigneePositionID, &st.AssigneeLookupField, &st.IsRequireApproval, &st.CreatedAt); err != nil {
			return nil, err
		}
		wf.Stages = append(wf.Stages, &st)
	}
	return &wf, rows.Err()
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, tenant_id, organization_id, form_id, name, description, created_by, created_at, updated_at FROM workflows WHERE tenant_id = $1 ORDER BY name",
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		var wf models.Workflow
		if err := rows.Scan(&wf.ID, &wf.TenantID, &wf.OrganizationID, &wf.FormID, &wf.Name, &wf.Description, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// --- requests and instance stages ---

func (s *PostgresStore) CreateRequest(ctx context.Context, req *models.WorkflowRequest) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO workflow_requests (id, tenant_id, organization_id, workflow_id, requestor_id, status, form_responses, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		req.ID, req.TenantID, req.OrganizationID, req.WorkflowID, req.RequestorID, req.Status, req.FormResponses, req.CreatedAt, req.UpdatedAt)
	return err
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*models.WorkflowRequest, error) {
	var r models.WorkflowRequest
	err := s.q.QueryRow(ctx,
		"SELECT id, tenant_id, organization_id, workflow_id, requestor_id, status, form_responses, created_at, updated_at FROM workflow_requests WHERE id = $1",
		id).Scan(&r.ID, &r.TenantID, &r.OrganizationID, &r.WorkflowID, &r.RequestorID, &r.Status, &r.FormResponses, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, req *models.WorkflowRequest) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE workflow_requests SET status = $1, form_responses = $2, updated_at = $3 WHERE id = $4",
		req.Status, req.FormResponses, req.UpdatedAt, req.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, tenantID string) ([]*models.WorkflowRequest, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, tenant_id, organization_id, workflow_id, requestor_id, status, form_responses, created_at, updated_at FROM workflow_requests WHERE tenant_id = $1 ORDER BY created_at",
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowRequest
	for rows.Next() {
		var r models.WorkflowRequest
		if err := rows.Scan(&r.ID, &r.TenantID, &r.OrganizationID, &r.WorkflowID, &r.RequestorID, &r.Status, &r.FormResponses, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

const stageColumns = "id, workflow_request_id, stage_id, stage_name, step, sequence_in_parent, display_step, assigned_to_user_id, status, field_responses, is_sub_stage, parent_step, parent_stage_id, is_resubmission, acted_by_user_id, acted_at, comment, created_at"

func scanStage(row pgx.Row) (*models.WorkflowInstanceStage, error) {
	var st models.WorkflowInstanceStage
	err := row.Scan(&st.ID, &st.WorkflowRequestID, &st.StageID, &st.StageName, &st.Step, &st.SequenceInParent, &st.DisplayStep, &st.AssignedToUserID, &st.Status, &st.FieldResponses, &st.IsSubStage, &st.ParentStep, &st.ParentStageID, &st.IsResubmission, &st.ActedByUserID, &st.ActedAt, &st.Comment, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) CreateStage(ctx context.Context, stage *models.WorkflowInstanceStage) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO workflow_instance_stages ("+stageColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)",
		stage.ID, stage.WorkflowRequestID, stage.StageID, stage.StageName, stage.Step, stage.SequenceInParent, stage.DisplayStep, stage.AssignedToUserID, stage.Status, stage.FieldResponses, stage.IsSubStage, stage.ParentStep, stage.ParentStageID, stage.IsResubmission, stage.ActedByUserID, stage.ActedAt, stage.Comment, stage.CreatedAt)
	return err
}

func (s *PostgresStore) CreateStages(ctx context.Context, stages []*models.WorkflowInstanceStage) error {
	for _, st := range stages {
		if err := s.CreateStage(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetStage(ctx context.Context, id string) (*models.WorkflowInstanceStage, error) {
	st, err := scanStage(s.q.QueryRow(ctx,
		"SELECT "+stageColumns+" FROM workflow_instance_stages WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return st, nil
}

func (s *PostgresStore) UpdateStage(ctx context.Context, stage *models.WorkflowInstanceStage) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE workflow_instance_stages SET status = $1, field_responses = $2, acted_by_user_id = $3, acted_at = $4, comment = $5 WHERE id = $6",
		stage.Status, stage.FieldResponses, stage.ActedByUserID, stage.ActedAt, stage.Comment, stage.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListStages(ctx context.Context, filter StageFilter) ([]*models.WorkflowInstanceStage, error) {
	sql := "SELECT " + stageColumns + " FROM workflow_instance_stages WHERE workflow_request_id = $1"
	args := []any{filter.WorkflowRequestID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ParentStageID != nil {
		args = append(args, *filter.ParentStageID)
		sql += fmt.Sprintf(" AND parent_stage_id = $%d", len(args))
	}
	if filter.AssignedToUserID != nil {
		args = append(args, *filter.AssignedToUserID)
		sql += fmt.Sprintf(" AND assigned_to_user_id = $%d", len(args))
	}
	sql += " ORDER BY step, sequence_in_parent"

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowInstanceStage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) NextPendingStage(ctx context.Context, requestID string) (*models.WorkflowInstanceStage, error) {
	st, err := scanStage(s.q.QueryRow(ctx,
		"SELECT "+stageColumns+" FROM workflow_instance_stages WHERE workflow_request_id = $1 AND status = $2 ORDER BY step, sequence_in_parent LIMIT 1",
		requestID, models.StageStatusPending))
	if err != nil {
		return nil, notFound(err)
	}
	return st, nil
}

// --- messages ---

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.RequestMessage) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO request_messages (id, tenant_id, workflow_request_id, parent_message_id, author_user_id, body, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		msg.ID, msg.TenantID, msg.WorkflowRequestID, msg.ParentMessageID, msg.AuthorUserID, msg.Body, msg.CreatedAt)
	return err
}

func (s *PostgresStore) ListMessages(ctx context.Context, requestID string) ([]*models.RequestMessage, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, tenant_id, workflow_request_id, parent_message_id, author_user_id, body, created_at FROM request_messages WHERE workflow_request_id = $1 ORDER BY created_at",
		requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RequestMessage
	for rows.Next() {
		var m models.RequestMessage
		if err := rows.Scan(&m.ID, &m.TenantID, &m.WorkflowRequestID, &m.ParentMessageID, &m.AuthorUserID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- budget ---

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *models.VoteBookAccount) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO votebook_accounts (id, tenant_id, organization_id, department_id, code, name, fiscal_year, allocated, committed, spent, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())",
		acct.ID, acct.TenantID, acct.OrganizationID, acct.DepartmentID, acct.Code, acct.Name, acct.FiscalYear, acct.Allocated, acct.Committed, acct.Spent)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.VoteBookAccount, error) {
	var a models.VoteBookAccount
	err := s.q.QueryRow(ctx,
		"SELECT id, tenant_id, organization_id, department_id, code, name, fiscal_year, allocated, committed, spent, created_at, updated_at FROM votebook_accounts WHERE id = $1",
		id).Scan(&a.ID, &a.TenantID, &a.OrganizationID, &a.DepartmentID, &a.Code, &a.Name, &a.FiscalYear, &a.Allocated, &a.Committed, &a.Spent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, acct *models.VoteBookAccount) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE votebook_accounts SET allocated = $1, committed = $2, spent = $3, updated_at = now() WHERE id = $4",
		acct.Allocated, acct.Committed, acct.Spent, acct.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, organizationID string) ([]*models.VoteBookAccount, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, tenant_id, organization_id, department_id, code, name, fiscal_year, allocated, committed, spent, created_at, updated_at FROM votebook_accounts WHERE organization_id = $1 ORDER BY code",
		organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.VoteBookAccount
	for rows.Next() {
		var a models.VoteBookAccount
		if err := rows.Scan(&a.ID, &a.TenantID, &a.OrganizationID, &a.DepartmentID, &a.Code, &a.Name, &a.FiscalYear, &a.Allocated, &a.Committed, &a.Spent, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateVoucher(ctx context.Context, v *models.Voucher) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO vouchers (id, tenant_id, organization_id, account_id, workflow_request_id, voucher_number, description, amount, status, created_by, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())",
		v.ID, v.TenantID, v.OrganizationID, v.AccountID, v.WorkflowRequestID, v.VoucherNumber, v.Description, v.Amount, v.Status, v.CreatedBy)
	return err
}

func (s *PostgresStore) GetVoucher(ctx context.Context, id string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.q.QueryRow(ctx,
		"SELECT id, tenant_id, organization_id, account_id, workflow_request_id, voucher_number, description, amount, status, created_by, created_at, updated_at FROM vouchers WHERE id = $1",
		id).Scan(&v.ID, &v.TenantID, &v.OrganizationID, &v.AccountID, &v.WorkflowRequestID, &v.VoucherNumber, &v.Description, &v.Amount, &v.Status, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *PostgresStore) UpdateVoucher(ctx context.Context, v *models.Voucher) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE vouchers SET status = $1, updated_at = now() WHERE id = $2",
		v.Status, v.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListVouchersByRequest(ctx context.Context, requestID string) ([]*models.Voucher, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, tenant_id, organization_id, account_id, workflow_request_id, voucher_number, description, amount, status, created_by, created_at, updated_at FROM vouchers WHERE workflow_request_id = $1 ORDER BY voucher_number",
		requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Voucher
	for rows.Next() {
		var v models.Voucher
		if err := rows.Scan(&v.ID, &v.TenantID, &v.OrganizationID, &v.AccountID, &v.WorkflowRequestID, &v.VoucherNumber, &v.Description, &v.Amount, &v.Status, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAdjustment(ctx context.Context, adj *models.BudgetAdjustment) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO budget_adjustments (id, tenant_id, from_account_id, to_account_id, workflow_request_id, amount, reason, applied, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())",
		adj.ID, adj.TenantID, adj.FromAccountID, adj.ToAccountID, adj.WorkflowRequestID, adj.Amount, adj.Reason, adj.Applied)
	return err
}

func (s *PostgresStore) UpdateAdjustment(ctx context.Context, adj *models.BudgetAdjustment) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE budget_adjustments SET applied = $1, updated_at = now() WHERE id = $2",
		adj.Applied, adj.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAdjustmentsByRequest(ctx context.Context, requestID string) ([]*models.BudgetAdjustment, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, tenant_id, from_account_id, to_account_id, workflow_request_id, amount, reason, applied, created_at, updated_at FROM budget_adjustments WHERE workflow_request_id = $1 ORDER BY created_at",
		requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.BudgetAdjustment
	for rows.Next() {
		var a models.BudgetAdjustment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.FromAccountID, &a.ToAccountID, &a.WorkflowRequestID, &a.Amount, &a.Reason, &a.Applied, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
