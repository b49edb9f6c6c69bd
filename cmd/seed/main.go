package main

import (
	"context"
	"fmt"
	"log"

	"orgflow/backend/internal/config"
	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger(false)
	defer logger.Sync()

	// Load config
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	store := repository.NewPostgresStore(pool)

	// 1. Ensure tenant exists
	domain := "localhost"
	tenant, err := store.GetTenantByDomain(ctx, domain)
	if err != nil {
		logger.Info("Creating default tenant", "domain", domain)
		tenant = &models.Tenant{
			ID:     uuid.New().String(),
			Name:   "Local Dev Tenant",
			Domain: domain,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			log.Fatalf("Failed to create tenant: %v", err)
		}
	} else {
		logger.Info("Found existing tenant", "id", tenant.ID)
	}

	// 2. Skip when the tenant already has an organization
	orgs, err := store.ListOrganizations(ctx, tenant.ID)
	if err != nil {
		log.Fatalf("Failed to list organizations: %v", err)
	}
	if len(orgs) > 0 {
		logger.Info("Seed data already present", "organization", orgs[0].Name)
		return
	}

	// 3. Organization and departments
	org := &models.Organization{
		ID:       uuid.New().String(),
		TenantID: tenant.ID,
		Name:     "Demo Municipality",
		Code:     "DEMO",
	}
	if err := store.CreateOrganization(ctx, org); err != nil {
		log.Fatalf("Failed to create organization: %v", err)
	}

	finance := &models.Department{
		ID:             uuid.New().String(),
		TenantID:       tenant.ID,
		OrganizationID: org.ID,
		Name:           "Finance",
	}
	works := &models.Department{
		ID:             uuid.New().String(),
		TenantID:       tenant.ID,
		OrganizationID: org.ID,
		Name:           "Public Works",
	}
	for _, d := range []*models.Department{finance, works} {
		if err := store.CreateDepartment(ctx, d); err != nil {
			log.Fatalf("Failed to create department %s: %v", d.Name, err)
		}
	}

	// 4. Position hierarchy: director > finance officer > clerk
	director := &models.Position{
		ID:             uuid.New().String(),
		TenantID:       tenant.ID,
		OrganizationID: org.ID,
		DepartmentID:   &finance.ID,
		Title:          "Finance Director",
	}
	officer := &models.Position{
		ID:               uuid.New().String(),
		TenantID:         tenant.ID,
		OrganizationID:   org.ID,
		DepartmentID:     &finance.ID,
		ParentPositionID: &director.ID,
		Title:            "Finance Officer",
	}
	clerk := &models.Position{
		ID:               uuid.New().String(),
		TenantID:         tenant.ID,
		OrganizationID:   org.ID,
		DepartmentID:     &works.ID,
		ParentPositionID: &officer.ID,
		Title:            "Works Clerk",
	}
	for _, p := range []*models.Position{director, officer, clerk} {
		if err := store.CreatePosition(ctx, p); err != nil {
			log.Fatalf("Failed to create position %s: %v", p.Title, err)
		}
	}

	employees := []*models.Employee{
		{ID: uuid.New().String(), TenantID: tenant.ID, OrganizationID: org.ID, PositionID: &director.ID,
			FirstName: "Dana", LastName: "Mokoena", Email: "dana@localhost", Role: "admin"},
		{ID: uuid.New().String(), TenantID: tenant.ID, OrganizationID: org.ID, PositionID: &officer.ID,
			FirstName: "Femi", LastName: "Adeyemi", Email: "femi@localhost", Role: "officer"},
		{ID: uuid.New().String(), TenantID: tenant.ID, OrganizationID: org.ID, PositionID: &clerk.ID,
			FirstName: "Lindiwe", LastName: "Dube", Email: "lindiwe@localhost", Role: "employee"},
	}
	for _, e := range employees {
		if err := store.CreateEmployee(ctx, e); err != nil {
			log.Fatalf("Failed to create employee %s: %v", e.Email, err)
		}
	}

	// 5. Demo workflow: submission, internal review loop, final approval
	wf := &models.Workflow{
		ID:             uuid.New().String(),
		TenantID:       tenant.ID,
		OrganizationID: org.ID,
		Name:           "Purchase Requisition",
		Description:    "Requisition with finance review and director approval.",
		Stages: []*models.Stage{
			{
				ID:   uuid.New().String(),
				Name: "Submission",
				Step: 1,
			},
			{
				ID:                   uuid.New().String(),
				Name:                 "Finance Review",
				Step:                 2,
				RequiresInternalLoop: true,
				AssigneePositionID:   &officer.ID,
				IsRequireApproval:    true,
			},
			{
				ID:                 uuid.New().String(),
				Name:               "Director Approval",
				Step:               3,
				AssigneePositionID: &director.ID,
				IsRequireApproval:  true,
			},
		},
	}
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		log.Fatalf("Failed to create workflow: %v", err)
	}

	// 6. A vote-book account for the requisitions to draw on
	acct := &models.VoteBookAccount{
		ID:             uuid.New().String(),
		TenantID:       tenant.ID,
		OrganizationID: org.ID,
		DepartmentID:   &works.ID,
		Code:           "PW-GOODS",
		Name:           "Public Works Goods and Services",
		FiscalYear:     2026,
		Allocated:      50_000_00,
	}
	if err := store.CreateAccount(ctx, acct); err != nil {
		log.Fatalf("Failed to create vote-book account: %v", err)
	}

	logger.Info("Seed complete",
		"tenant", tenant.ID,
		"organization", org.ID,
		"workflow", wf.ID,
		"account", acct.ID,
	)
}
