// Package httpapi is the HTTP surface over the auth core: session and token
// endpoints, tenant switching, role management and the elevated admin
// operations. Handlers stay thin; every rule lives in the domain packages.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gatehouse/internal/auth"
	"gatehouse/internal/impersonation"
	"gatehouse/internal/obs"
	"gatehouse/internal/rbac"
	"gatehouse/internal/superadmin"
)

// ReadyProbe checks readiness, typically a DB ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps wires the domain services into the API.
type Deps struct {
	ReadyProbe ReadyProbe
	Version    string
	Production bool

	Store         auth.Store
	Tokens        *auth.TokenIssuer
	Sessions      *auth.SessionManager
	Credentials   *auth.Credentials
	Tenants       *auth.TenantSwitcher
	Resolver      *auth.Resolver
	Roles         *rbac.Service
	Admins        *superadmin.Service
	Impersonation *impersonation.Manager
	MFA           MFAVerifier
}

// MFAVerifier checks a second-factor code for a super admin. The TOTP (or
// hardware-key) implementation lives outside this core; tests and local
// development use StaticMFA.
type MFAVerifier interface {
	VerifyCode(ctx context.Context, userID, code string) error
}

// StaticMFA accepts exactly one configured code. Not for production.
type StaticMFA struct{ Code string }

func (s StaticMFA) VerifyCode(_ context.Context, _ string, code string) error {
	if s.Code == "" || code != s.Code {
		return errors.New("invalid code")
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	mux *http.ServeMux
	d   Deps
}

func New(d Deps) *API {
	a := &API{mux: http.NewServeMux(), d: d}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/magic-link", a.handleMagicLink)
	a.mux.HandleFunc("/v1/auth/verify", a.handleVerifyMagicLink)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	a.mux.HandleFunc("/v1/tenants", a.handleTenants)
	a.mux.HandleFunc("/v1/tenants/switch", a.handleTenantSwitch)
	a.mux.HandleFunc("/v1/tenants/default", a.handleTenantDefault)

	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)

	a.mux.HandleFunc("/v1/admin/login", a.handleAdminLogin)
	a.mux.HandleFunc("/v1/admin/logout", a.handleAdminLogout)
	a.mux.HandleFunc("/v1/admin/mfa/verify", a.handleAdminMFAVerify)
	a.mux.HandleFunc("/v1/admin/impersonation/start", a.handleImpersonationStart)
	a.mux.HandleFunc("/v1/admin/impersonation/end", a.handleImpersonationEnd)
	a.mux.HandleFunc("/v1/admin/super-admins", a.handleSuperAdmins)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented handler with identity resolution applied.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatehouse-api",
		"version": a.d.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.d.ReadyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gatehouse-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.d.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps domain failures onto HTTP statuses. Impersonation
// errors keep their discrete code in the payload.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authErr *auth.AuthenticationError
		permErr *auth.PermissionDeniedError
		tenErr  *auth.TenantAccessError
		featErr *auth.FeatureNotEnabledError
		impErr  *impersonation.Error
	)
	switch {
	case errors.As(err, &authErr):
		writeError(w, r, http.StatusUnauthorized, authErr.Reason)
	case errors.As(err, &permErr):
		writeError(w, r, http.StatusForbidden, permErr.Error())
	case errors.As(err, &tenErr):
		writeError(w, r, http.StatusForbidden, tenErr.Reason)
	case errors.As(err, &featErr):
		writeError(w, r, http.StatusForbidden, featErr.Error())
	case errors.As(err, &impErr):
		payload := map[string]any{"error": impErr.Message, "code": impErr.Code}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.Is(err, superadmin.ErrNotSuperAdmin):
		writeError(w, r, http.StatusForbidden, "super admin access required")
	case errors.Is(err, superadmin.ErrLastSuperAdmin),
		errors.Is(err, superadmin.ErrSelfRevocation):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, superadmin.ErrMFARequired):
		writeError(w, r, http.StatusForbidden, "mfa verification required")
	case errors.Is(err, rbac.ErrImmutableRole):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, rbac.ErrNotFound),
		errors.Is(err, superadmin.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	default:
		obs.Logger().Errorw("internal error", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
