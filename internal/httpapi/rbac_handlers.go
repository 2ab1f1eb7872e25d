package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"adops.io/internal/auth"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	RoleID   int64  `json:"role_id"`
}

type setStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

type setRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.rbac.ListUsers(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.UserListing{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RoleID <= 0 {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), *currentUser(r), req.Username, req.Password, req.RoleID)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "users.create", map[string]any{"user_id": user.ID, "role_id": user.RoleID})
	w.Header().Set("Location", fmt.Sprintf("/api/users/%d", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsActive == nil {
		writeError(w, r, http.StatusBadRequest, "is_active is required")
		return
	}
	state := auth.StateOf(*req.IsActive)
	if err := a.rbac.SetUserState(r.Context(), *currentUser(r), id, state); err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "users.status", map[string]any{"user_id": id, "state": state.String()})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": state})
}

func (a *API) handleSetUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RoleID <= 0 {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	if err := a.rbac.SetUserRole(r.Context(), *currentUser(r), id, req.RoleID); err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "users.role", map[string]any{"user_id": id, "role_id": req.RoleID})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "role_id": req.RoleID})
}

func (a *API) handlePermissionCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := a.rbac.PermissionCatalog(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perms := make([]string, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	if err := a.rbac.SetRolePermissions(r.Context(), *currentUser(r), id, perms); err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "roles.permissions", map[string]any{"role_id": id, "count": len(perms)})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetRoleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsActive == nil {
		writeError(w, r, http.StatusBadRequest, "is_active is required")
		return
	}
	state := auth.StateOf(*req.IsActive)
	if err := a.rbac.SetRoleState(r.Context(), *currentUser(r), id, state); err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "roles.status", map[string]any{"role_id": id, "state": state.String()})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": state})
}

func (a *API) handlePermissionAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit: "+err.Error())
		return
	}
	entries, err := a.rbac.ListAudit(r.Context(), limit)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if entries == nil {
		entries = []auth.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
