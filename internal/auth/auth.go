// Package auth performs OpenID Connect authentication and resolves the
// tenant for every request from the authenticated user's email domain.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"orgflow/backend/internal/config"
	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/pkg/models"
)

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	userEmailKey contextKey = "user_email"
)

// TenantID returns the tenant resolved for the request, or "".
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// UserEmail returns the authenticated user's email, or "".
func UserEmail(ctx context.Context) string {
	v, _ := ctx.Value(userEmailKey).(string)
	return v
}

// ContextWithTenant returns ctx carrying the given tenant and user email,
// the same shape RequireAuth injects. Used by tests and internal tooling
// that run without the middleware.
func ContextWithTenant(ctx context.Context, tenantID, email string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	return context.WithValue(ctx, userEmailKey, email)
}

// Auth holds the OIDC verifiers and the tenant store used to map an
// authenticated user onto a tenant.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	store        repository.TenantStore
	roles        *RoleTable
	logger       *logging.Logger
	bypass       bool
}

// New creates an Auth from configuration. In a DEV environment with
// dev_mode_bypass set, authentication is skipped and every request runs as
// a local development user.
func New(ctx context.Context, cfg *config.Config, store repository.TenantStore, logger *logging.Logger) (*Auth, error) {
	bypass := strings.EqualFold(cfg.Environment, "dev") && cfg.Auth.DevModeBypass

	a := &Auth{
		store:  store,
		roles:  NewRoleTable(cfg.Auth.Roles),
		logger: logger,
		bypass: bypass,
	}
	if bypass {
		return a, nil
	}

	if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
		cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
	if err != nil {
		return nil, err
	}

	a.oauth2Config = &oauth2.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})
	// Access tokens carry a different audience than ID tokens, so the
	// bearer-path verifier skips the client ID check.
	a.apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})

	return a, nil
}

// Roles exposes the role/capability table for handler-level checks.
func (a *Auth) Roles() *RoleTable { return a.roles }

// LoginHandler starts the OAuth2 authorization code flow. The random state
// value lives in a cookie until the callback verifies it.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.bypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
	})
	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler finishes the code flow: it checks the state cookie,
// exchanges the code, verifies the ID token and stores it in a session
// cookie.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.bypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}
	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LogoutHandler clears the session cookie.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth verifies the bearer token or session cookie, resolves the
// tenant from the user's email domain (auto-provisioning unknown domains),
// and injects tenant and user into the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := "dev@localhost"
		if !a.bypass {
			var err error
			email, err = a.authenticate(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
		}

		parts := strings.Split(email, "@")
		if len(parts) != 2 {
			http.Error(w, "invalid email format in token", http.StatusUnauthorized)
			return
		}
		domain := parts[1]

		tenant, err := a.store.GetTenantByDomain(r.Context(), domain)
		if errors.Is(err, repository.ErrNotFound) {
			tenant = &models.Tenant{ID: uuid.New().String(), Name: domain, Domain: domain}
			if createErr := a.store.CreateTenant(r.Context(), tenant); createErr != nil {
				a.logger.Error("failed to provision tenant", "domain", domain, "error", createErr)
				http.Error(w, "failed to provision tenant", http.StatusInternalServerError)
				return
			}
			a.logger.Info("provisioned tenant", "domain", domain, "tenant_id", tenant.ID)
		} else if err != nil {
			http.Error(w, "tenant lookup failed", http.StatusInternalServerError)
			return
		}

		ctx := ContextWithTenant(r.Context(), tenant.ID, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) authenticate(r *http.Request) (string, error) {
	var token *oidc.IDToken
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		raw := strings.TrimPrefix(authHeader, "Bearer ")
		t, err := a.apiVerifier.Verify(r.Context(), raw)
		if err != nil {
			return "", errors.New("invalid bearer token")
		}
		token = t
	} else {
		cookie, err := r.Cookie("id_token")
		if err != nil {
			return "", errors.New("missing credentials")
		}
		t, err := a.verifier.Verify(r.Context(), cookie.Value)
		if err != nil {
			return "", errors.New("invalid session token")
		}
		token = t
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil || claims.Email == "" {
		return "", errors.New("token has no email claim")
	}
	return claims.Email, nil
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
