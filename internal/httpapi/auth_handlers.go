package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatehouse/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      *auth.User      `json:"user"`
	Orgs      []auth.OrgClaim `json:"orgs"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Welcome   bool            `json:"show_welcome_modal"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.d.Credentials.AuthenticatePassword(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.issueSession(w, r, user)
}

// issueSession creates a session plus token for an authenticated user and
// sets the cookie. Shared by password login and magic-link verification.
func (a *API) issueSession(w http.ResponseWriter, r *http.Request, user *auth.User) {
	ctx := r.Context()
	orgs, err := a.d.Tenants.AccessibleOrgs(ctx, user.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// Land the user in their default tenant, or their only one.
	var current auth.OrgClaim
	if def, err := a.d.Tenants.GetDefaultTenant(ctx, user.ID); err == nil && def != nil {
		for _, o := range orgs {
			if o.ID == def.ID {
				current = o
			}
		}
	}
	if current.ID == "" && len(orgs) == 1 {
		current = orgs[0]
	}

	ip, ua := requestMeta(r)
	sess, _, err := a.d.Sessions.CreateSession(ctx, user.ID, current.ID, auth.RequestMeta{IP: ip, UserAgent: ua})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	token, err := a.d.Tokens.Issue(user.ID, auth.Claims{
		SessionID: sess.ID,
		Email:     user.Email,
		OrgID:     current.ID,
		OrgSlug:   current.Slug,
		Role:      current.Role,
		Orgs:      orgs,
	}, auth.TokenTTL)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	welcome, err := a.d.Tenants.ShouldShowWelcomeModal(ctx, user.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     token,
		ExpiresAt: sess.ExpiresAt,
		User:      user,
		Orgs:      orgs,
		TenantID:  current.ID,
		Welcome:   welcome,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ac, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	if ac.SessionID != "" {
		if err := a.d.Sessions.RevokeSession(r.Context(), ac.SessionID); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}
	a.clearTokenCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

func (a *API) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req magicLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Always accepted: whether the email maps to an account is not leaked.
	if strings.TrimSpace(req.Email) != "" {
		if _, _, err := a.d.Credentials.CreateMagicLink(r.Context(), req.Email, "login"); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

type verifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

func (a *API) handleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	link, err := a.d.Credentials.VerifyMagicLink(r.Context(), req.Email, req.Token)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if link == nil {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired link")
		return
	}
	user, err := a.d.Store.Users().FindByEmail(r.Context(), link.Email)
	if err != nil {
		// A link for an email without an account reads the same as a bad
		// token; nothing about account existence is leaked.
		writeError(w, r, http.StatusUnauthorized, "invalid or expired link")
		return
	}
	if user.Status != auth.UserStatusActive {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired link")
		return
	}
	if !user.EmailVerified {
		if err := a.d.Store.Users().MarkEmailVerified(r.Context(), user.ID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		user.EmailVerified = true
	}
	a.issueSession(w, r, user)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ac, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	user, err := a.d.Store.Users().Find(r.Context(), ac.UserID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"context": ac,
	})
}

func (a *API) handleTenants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ac, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	orgs, err := a.d.Tenants.GetUserTenants(ctx, ac.UserID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	def, err := a.d.Tenants.GetDefaultTenant(ctx, ac.UserID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	welcome, err := a.d.Tenants.ShouldShowWelcomeModal(ctx, ac.UserID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	resp := map[string]any{
		"tenants":            orgs,
		"current_tenant_id":  ac.TenantID,
		"show_welcome_modal": welcome,
	}
	if def != nil {
		resp["default_tenant_id"] = def.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

type switchTenantRequest struct {
	Slug string `json:"slug"`
}

func (a *API) handleTenantSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ac, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	var req switchTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ip, _ := requestMeta(r)
	token, org, err := a.d.Tenants.SwitchTenantContext(r.Context(), ac.UserID, req.Slug, ac.SessionID, ip)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  token,
		"tenant": org,
	})
}

type defaultTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

func (a *API) handleTenantDefault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPut, http.MethodPost)
		return
	}
	ac, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	var req defaultTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.d.Tenants.SetDefaultTenant(r.Context(), ac.UserID, strings.TrimSpace(req.TenantID)); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenTTL / time.Second),
		HttpOnly: true,
		Secure:   a.d.Production,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.d.Production,
		SameSite: http.SameSiteLaxMode,
	})
}
