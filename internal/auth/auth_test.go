package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgflow/backend/internal/config"
	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/pkg/models"
)

func devConfig() *config.Config {
	cfg := &config.Config{Environment: "dev"}
	cfg.Auth.DevModeBypass = true
	return cfg
}

func TestNewRequiresCompleteConfigOutsideDev(t *testing.T) {
	cfg := &config.Config{Environment: "production"}
	_, err := New(context.Background(), cfg, repository.NewMemoryStore(), logging.NewNop())
	require.Error(t, err)
}

func TestRequireAuthDevBypassProvisionsTenant(t *testing.T) {
	store := repository.NewMemoryStore()
	a, err := New(context.Background(), devConfig(), store, logging.NewNop())
	require.NoError(t, err)

	var gotTenant, gotEmail string
	handler := a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantID(r.Context())
		gotEmail = UserEmail(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev@localhost", gotEmail)
	require.NotEmpty(t, gotTenant)

	// The bypass user's domain is provisioned once and then reused.
	tenant, err := store.GetTenantByDomain(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, gotTenant)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenant.ID, gotTenant)
}

func TestRequireAuthResolvesExistingTenant(t *testing.T) {
	store := repository.NewMemoryStore()
	existing := &models.Tenant{ID: "tenant-1", Name: "Localhost", Domain: "localhost"}
	require.NoError(t, store.CreateTenant(context.Background(), existing))

	a, err := New(context.Background(), devConfig(), store, logging.NewNop())
	require.NoError(t, err)

	var gotTenant string
	handler := a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantID(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "tenant-1", gotTenant)
}

func TestContextWithTenant(t *testing.T) {
	ctx := ContextWithTenant(context.Background(), "tenant-9", "user@example.com")
	assert.Equal(t, "tenant-9", TenantID(ctx))
	assert.Equal(t, "user@example.com", UserEmail(ctx))
	assert.Empty(t, TenantID(context.Background()))
}
