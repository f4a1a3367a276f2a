package devapi

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/rbacadmin/pkg/httpx"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
	"github.com/go-chi/chi/v5"
)

// ResourceHandler serves /users, /roles, /permissions and the role
// permission toggle.
type ResourceHandler struct {
	Store *Store
}

func idParam(r *http.Request, name string) rbacsdk.ID {
	return rbacsdk.ID(chi.URLParam(r, name))
}

// decodeFields reads and validates a request body. On failure it writes the
// response and returns false.
func decodeFields[F any](w http.ResponseWriter, r *http.Request, f *F, normalize func(F) F) bool {
	if err := httpx.DecodeJSON(w, r, f); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return false
	}

	*f = normalize(*f)

	if err := rbacsdk.Validate(f); err != nil {
		var verr *rbacsdk.ValidationError
		if errors.As(err, &verr) {
			httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_failed", verr.Error())
			return false
		}
		slogx.FromContext(r.Context()).Error("validate request", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "conflict", "a permission with that name already exists")
	default:
		slogx.FromContext(r.Context()).Error("store operation failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
	}
}

// ============================================================================
// Users
// ============================================================================

func (h *ResourceHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Store.ListUsers())
}

func (h *ResourceHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var f rbacsdk.UserFields
	if !decodeFields(w, r, &f, rbacsdk.UserFields.Normalize) {
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, h.Store.CreateUser(f))
}

func (h *ResourceHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var f rbacsdk.UserFields
	if !decodeFields(w, r, &f, rbacsdk.UserFields.Normalize) {
		return
	}
	u, err := h.Store.UpdateUser(idParam(r, "id"), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *ResourceHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteUser(idParam(r, "id")); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Roles
// ============================================================================

func (h *ResourceHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Store.ListRoles())
}

func (h *ResourceHandler) normalizeRole(f rbacsdk.RoleFields) rbacsdk.RoleFields {
	return f.Normalize(h.Store.ListPermissions())
}

func (h *ResourceHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var f rbacsdk.RoleFields
	if !decodeFields(w, r, &f, h.normalizeRole) {
		return
	}
	if err := rbacsdk.ValidateNewRole(f); err != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, h.Store.CreateRole(f))
}

func (h *ResourceHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var f rbacsdk.RoleFields
	if !decodeFields(w, r, &f, h.normalizeRole) {
		return
	}
	role, err := h.Store.UpdateRole(idParam(r, "id"), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, role)
}

func (h *ResourceHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteRole(idParam(r, "id")); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Permissions
// ============================================================================

func (h *ResourceHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Store.ListPermissions())
}

func (h *ResourceHandler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var f rbacsdk.PermissionFields
	if !decodeFields(w, r, &f, rbacsdk.PermissionFields.Normalize) {
		return
	}
	p, err := h.Store.CreatePermission(f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

// TogglePermission serves PATCH /roles/{id}/permissions with body
// {"permissionId": ...}.
func (h *ResourceHandler) TogglePermission(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PermissionID rbacsdk.ID `json:"permissionId"`
	}
	if err := httpx.DecodeJSON(w, r, &in); err != nil || in.PermissionID.IsZero() {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "permissionId is required")
		return
	}

	roleID := idParam(r, "id")
	granted, err := h.Store.TogglePermission(roleID, in.PermissionID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, rbacsdk.ToggleResult{
		RoleID:       roleID,
		PermissionID: in.PermissionID,
		Granted:      &granted,
	})
}
