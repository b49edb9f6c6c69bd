package repository

import (
	"context"
	"sort"
	"sync"

	"orgflow/backend/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and local development. It
// mirrors the PostgreSQL implementation's semantics: reads return copies,
// ListStages orders by (step, sequence_in_parent), and InRequestTx holds a
// per-request mutex so mutations on one request are serialized.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]*models.Tenant
	orgs        map[string]*models.Organization
	departments map[string]*models.Department
	positions   map[string]*models.Position
	employees   map[string]*models.Employee
	workflows   map[string]*models.Workflow
	requests    map[string]*models.WorkflowRequest
	stages      map[string]*models.WorkflowInstanceStage
	messages    map[string]*models.RequestMessage
	accounts    map[string]*models.VoteBookAccount
	vouchers    map[string]*models.Voucher
	adjustments map[string]*models.BudgetAdjustment

	reqLockMu sync.Mutex
	reqLocks  map[string]*sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]*models.Tenant),
		orgs:        make(map[string]*models.Organization),
		departments: make(map[string]*models.Department),
		positions:   make(map[string]*models.Position),
		employees:   make(map[string]*models.Employee),
		workflows:   make(map[string]*models.Workflow),
		requests:    make(map[string]*models.WorkflowRequest),
		stages:      make(map[string]*models.WorkflowInstanceStage),
		messages:    make(map[string]*models.RequestMessage),
		accounts:    make(map[string]*models.VoteBookAccount),
		vouchers:    make(map[string]*models.Voucher),
		adjustments: make(map[string]*models.BudgetAdjustment),
		reqLocks:    make(map[string]*sync.Mutex),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) requestLock(requestID string) *sync.Mutex {
	m.reqLockMu.Lock()
	defer m.reqLockMu.Unlock()
	l, ok := m.reqLocks[requestID]
	if !ok {
		l = &sync.Mutex{}
		m.reqLocks[requestID] = l
	}
	return l
}

// InRequestTx serializes fn against other mutations of the same request.
// The in-memory store has no rollback; engine tests that need rollback
// semantics assert on the error path before any write happens.
func (m *MemoryStore) InRequestTx(ctx context.Context, requestID string, fn func(ctx context.Context, tx Store) error) error {
	l := m.requestLock(requestID)
	l.Lock()
	defer l.Unlock()
	return fn(ctx, m)
}

// InTx runs fn directly; see InRequestTx for the rollback caveat.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

// --- tenants ---

func (m *MemoryStore) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tenant
	m.tenants[tenant.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTenantByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.Domain == domain {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// --- org chart ---

func (m *MemoryStore) CreateOrganization(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *org
	m.orgs[org.ID] = &cp
	return nil
}

func (m *MemoryStore) ListOrganizations(_ context.Context, tenantID string) ([]*models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Organization
	for _, o := range m.orgs {
		if o.TenantID == tenantID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateDepartment(_ context.Context, dept *models.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dept
	m.departments[dept.ID] = &cp
	return nil
}

func (m *MemoryStore) ListDepartments(_ context.Context, organizationID string) ([]*models.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Department
	for _, d := range m.departments {
		if d.OrganizationID == organizationID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreatePosition(_ context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pos
	m.positions[pos.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPosition(_ context.Context, id string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CreateEmployee(_ context.Context, emp *models.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *emp
	m.employees[emp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetEmployee(_ context.Context, id string) (*models.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) FindEmployeeByPosition(_ context.Context, positionID string) (*models.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.employees))
	for id := range m.employees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := m.employees[id]
		if e.PositionID != nil && *e.PositionID == positionID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindEmployeeByEmail(_ context.Context, tenantID, email string) (*models.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.employees {
		if e.TenantID == tenantID && e.Email == email {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindParentPosition(_ context.Context, positionID string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[positionID]
	if !ok || p.ParentPositionID == nil {
		return nil, ErrNotFound
	}
	parent, ok := m.positions[*p.ParentPositionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *parent
	return &cp, nil
}

// --- workflow templates ---

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	cp.Stages = cloneStageList(wf.Stages)
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wf
	cp.Stages = cloneStageList(wf.Stages)
	sort.Slice(cp.Stages, func(i, j int) bool { return cp.Stages[i].Step < cp.Stages[j].Step })
	return &cp, nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, tenantID string) ([]*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Workflow
	for _, wf := range m.workflows {
		if wf.TenantID == tenantID {
			cp := *wf
			cp.Stages = cloneStageList(wf.Stages)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneStageList(stages []*models.Stage) []*models.Stage {
	out := make([]*models.Stage, len(stages))
	for i, s := range stages {
		cp := *s
		out[i] = &cp
	}
	return out
}

// --- requests and instance stages ---

func (m *MemoryStore) CreateRequest(_ context.Context, req *models.WorkflowRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*models.WorkflowRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateRequest(_ context.Context, req *models.WorkflowRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; !ok {
		return ErrNotFound
	}
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) ListRequests(_ context.Context, tenantID string) ([]*models.WorkflowRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.WorkflowRequest
	for _, r := range m.requests {
		if r.TenantID == tenantID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateStage(_ context.Context, stage *models.WorkflowInstanceStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *stage
	m.stages[stage.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateStages(ctx context.Context, stages []*models.WorkflowInstanceStage) error {
	for _, s := range stages {
		if err := m.CreateStage(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) GetStage(_ context.Context, id string) (*models.WorkflowInstanceStage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateStage(_ context.Context, stage *models.WorkflowInstanceStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[stage.ID]; !ok {
		return ErrNotFound
	}
	cp := *stage
	m.stages[stage.ID] = &cp
	return nil
}

func (m *MemoryStore) ListStages(_ context.Context, filter StageFilter) ([]*models.WorkflowInstanceStage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.WorkflowInstanceStage
	for _, s := range m.stages {
		if filter.WorkflowRequestID != "" && s.WorkflowRequestID != filter.WorkflowRequestID {
			continue
		}
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		if filter.ParentStageID != nil {
			if s.ParentStageID == nil || *s.ParentStageID != *filter.ParentStageID {
				continue
			}
		}
		if filter.AssignedToUserID != nil && s.AssignedToUserID != *filter.AssignedToUserID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *MemoryStore) NextPendingStage(ctx context.Context, requestID string) (*models.WorkflowInstanceStage, error) {
	pending := models.StageStatusPending
	rows, err := m.ListStages(ctx, StageFilter{WorkflowRequestID: requestID, Status: &pending})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// --- messages ---

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.RequestMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, requestID string) ([]*models.RequestMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RequestMessage
	for _, msg := range m.messages {
		if msg.WorkflowRequestID == requestID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- budget ---

func (m *MemoryStore) CreateAccount(_ context.Context, acct *models.VoteBookAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *acct
	m.accounts[acct.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (*models.VoteBookAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateAccount(_ context.Context, acct *models.VoteBookAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; !ok {
		return ErrNotFound
	}
	cp := *acct
	m.accounts[acct.ID] = &cp
	return nil
}

func (m *MemoryStore) ListAccounts(_ context.Context, organizationID string) ([]*models.VoteBookAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.VoteBookAccount
	for _, a := range m.accounts {
		if a.OrganizationID == organizationID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) CreateVoucher(_ context.Context, v *models.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vouchers[v.ID] = &cp
	return nil
}

func (m *MemoryStore) GetVoucher(_ context.Context, id string) (*models.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vouchers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) UpdateVoucher(_ context.Context, v *models.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vouchers[v.ID]; !ok {
		return ErrNotFound
	}
	cp := *v
	m.vouchers[v.ID] = &cp
	return nil
}

func (m *MemoryStore) ListVouchersByRequest(_ context.Context, requestID string) ([]*models.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Voucher
	for _, v := range m.vouchers {
		if v.WorkflowRequestID != nil && *v.WorkflowRequestID == requestID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoucherNumber < out[j].VoucherNumber })
	return out, nil
}

func (m *MemoryStore) CreateAdjustment(_ context.Context, adj *models.BudgetAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *adj
	m.adjustments[adj.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateAdjustment(_ context.Context, adj *models.BudgetAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adjustments[adj.ID]; !ok {
		return ErrNotFound
	}
	cp := *adj
	m.adjustments[adj.ID] = &cp
	return nil
}

func (m *MemoryStore) ListAdjustmentsByRequest(_ context.Context, requestID string) ([]*models.BudgetAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.BudgetAdjustment
	for _, adj := range m.adjustments {
		if adj.WorkflowRequestID != nil && *adj.WorkflowRequestID == requestID {
			cp := *adj
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
