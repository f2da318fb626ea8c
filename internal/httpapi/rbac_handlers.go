package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse/internal/rbac"
)

// Role management permissions. owner and admin hold these through their
// wildcard grants.
const (
	permRolesView   = "settings.roles.view"
	permRolesManage = "settings.roles.manage"
)

type createRoleRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Permissions  []string `json:"permissions"`
	ParentRoleID string   `json:"parent_role_id"`
}

type updateRoleRequest struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Permissions  []string `json:"permissions"`
	ParentRoleID *string  `json:"parent_role_id"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ac, ok := a.requirePermission(w, r, permRolesView)
		if !ok {
			return
		}
		roles, err := a.d.Roles.ListRoles(r.Context(), ac.TenantID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"roles":      roles,
			"predefined": rbac.PredefinedRoleNames(),
		})
	case http.MethodPost:
		ac, ok := a.requirePermission(w, r, permRolesManage)
		if !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.d.Roles.CreateRole(r.Context(), ac.TenantID, req.Name, req.Description, req.Permissions, req.ParentRoleID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	roleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if roleID == "" || strings.Contains(roleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		ac, ok := a.requirePermission(w, r, permRolesView)
		if !ok {
			return
		}
		role, err := a.d.Roles.GetRole(r.Context(), ac.TenantID, roleID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		ac, ok := a.requirePermission(w, r, permRolesManage)
		if !ok {
			return
		}
		if _, err := a.d.Roles.GetRole(r.Context(), ac.TenantID, roleID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.d.Roles.UpdateRole(r.Context(), roleID, rbac.RoleUpdate{
			Name:         req.Name,
			Description:  req.Description,
			Permissions:  req.Permissions,
			ParentRoleID: req.ParentRoleID,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		ac, ok := a.requirePermission(w, r, permRolesManage)
		if !ok {
			return
		}
		if _, err := a.d.Roles.GetRole(r.Context(), ac.TenantID, roleID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		if err := a.d.Roles.DeleteRole(r.Context(), roleID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}
