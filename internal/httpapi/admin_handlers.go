package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatehouse/internal/auth"
	"gatehouse/internal/superadmin"
)

// Elevated login is rate limited harder than anything else.
const (
	adminLoginBucket = "admin_login"
	adminLoginLimit  = 5
	adminLoginWindow = time.Minute

	impersonationBucket = "impersonation"
	impersonationLimit  = 10
	impersonationWindow = time.Minute
)

type adminSessionResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	MFARequired bool      `json:"mfa_required"`
}

func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ctx := r.Context()
	ip, ua := requestMeta(r)

	allowed, err := a.d.Admins.CheckIPAllowlist(ctx, ip)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "access from this address is not permitted")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// The window is keyed by the claimed email and consumed before the
	// password check, so failed guesses count against the limit too.
	key := strings.ToLower(strings.TrimSpace(req.Email))
	ok, err := a.d.Admins.CheckRateLimit(ctx, key, adminLoginBucket, adminLoginLimit, adminLoginWindow)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusTooManyRequests, "too many attempts")
		return
	}

	user, err := a.d.Credentials.AuthenticatePassword(ctx, req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	admin, err := a.d.Admins.Admin(ctx, user.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	sess, raw, err := a.d.Admins.CreateSession(ctx, user.ID, auth.RequestMeta{IP: ip, UserAgent: ua})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if admin.MFAEnabled {
		if _, err := a.d.Admins.StartMFAChallenge(ctx, sess.ID); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, adminSessionResponse{
		Token:       raw,
		ExpiresAt:   sess.ExpiresAt,
		MFARequired: admin.MFAEnabled,
	})
}

// adminSession authenticates an elevated request from its bearer token.
func (a *API) adminSession(w http.ResponseWriter, r *http.Request) (*superadmin.Session, bool) {
	raw := adminBearer(r)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, "admin token required")
		return nil, false
	}
	sess, err := a.d.Admins.ValidateSession(r.Context(), raw)
	if err != nil {
		handleDomainError(w, r, err)
		return nil, false
	}
	if sess == nil {
		writeError(w, r, http.StatusUnauthorized, "admin session expired or revoked")
		return nil, false
	}
	return sess, true
}

// verifiedAdminSession additionally requires the MFA step when the admin has
// it enabled.
func (a *API) verifiedAdminSession(w http.ResponseWriter, r *http.Request) (*superadmin.Session, bool) {
	sess, ok := a.adminSession(w, r)
	if !ok {
		return nil, false
	}
	admin, err := a.d.Admins.Admin(r.Context(), sess.UserID)
	if err != nil {
		handleDomainError(w, r, err)
		return nil, false
	}
	if admin.MFAEnabled && !sess.MFAVerified {
		handleDomainError(w, r, superadmin.ErrMFARequired)
		return nil, false
	}
	return sess, true
}

func (a *API) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.adminSession(w, r)
	if !ok {
		return
	}
	if err := a.d.Admins.RevokeSession(r.Context(), sess.UserID, sess.ID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mfaVerifyRequest struct {
	Code string `json:"code"`
}

func (a *API) handleAdminMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.adminSession(w, r)
	if !ok {
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if a.d.MFA == nil {
		writeError(w, r, http.StatusServiceUnavailable, "mfa verification unavailable")
		return
	}
	if err := a.d.MFA.VerifyCode(r.Context(), sess.UserID, strings.TrimSpace(req.Code)); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid code")
		return
	}
	if err := a.d.Admins.MarkMFAVerified(r.Context(), sess.ID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type impersonationStartRequest struct {
	TargetUserID   string `json:"target_user_id"`
	TargetTenantID string `json:"target_tenant_id"`
	Reason         string `json:"reason"`
}

func (a *API) handleImpersonationStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.verifiedAdminSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	allowed, err := a.d.Admins.CheckRateLimit(ctx, sess.UserID, impersonationBucket, impersonationLimit, impersonationWindow)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, http.StatusTooManyRequests, "too many attempts")
		return
	}

	var req impersonationStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ip, ua := requestMeta(r)
	impSess, token, err := a.d.Impersonation.Start(ctx, sess.UserID, sess.ID,
		strings.TrimSpace(req.TargetUserID), strings.TrimSpace(req.TargetTenantID),
		req.Reason, auth.RequestMeta{IP: ip, UserAgent: ua})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session": impSess,
		"token":   token,
	})
}

type impersonationEndRequest struct {
	SessionID string `json:"session_id"`
}

func (a *API) handleImpersonationEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.adminSession(w, r)
	if !ok {
		return
	}
	var req impersonationEndRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}
	if err := a.d.Impersonation.End(r.Context(), req.SessionID, "", sess.UserID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantSuperAdminRequest struct {
	UserID               string `json:"user_id"`
	CanAccessAllTenants  bool   `json:"can_access_all_tenants"`
	CanImpersonate       bool   `json:"can_impersonate"`
	CanManageSuperAdmins bool   `json:"can_manage_super_admins"`
}

type revokeSuperAdminRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) handleSuperAdmins(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		sess, ok := a.verifiedAdminSession(w, r)
		if !ok {
			return
		}
		var req grantSuperAdminRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		admin, err := a.d.Admins.Grant(r.Context(), sess.UserID, strings.TrimSpace(req.UserID),
			req.CanAccessAllTenants, req.CanImpersonate, req.CanManageSuperAdmins)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, admin)
	case http.MethodDelete:
		sess, ok := a.verifiedAdminSession(w, r)
		if !ok {
			return
		}
		var req revokeSuperAdminRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.d.Admins.Revoke(r.Context(), sess.UserID, strings.TrimSpace(req.UserID)); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func adminBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
