package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chronicle-run/chronicle/internal/domain"
)

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionRead); !ok {
		return
	}
	roles, err := s.store.ListRoles(r.Context(), orgID)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to list roles")
		return
	}
	writeAdminJSON(w, http.StatusOK, roles)
}

// handleCreateRole requires owner: granting access to others is itself an
// owner-level action, one rung above the write level that merely edits an
// org's own entities.
func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionOwner); !ok {
		return
	}
	var in domain.Role
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid role body")
		return
	}
	in.ID = uuid.NewString()
	in.OrganizationID = orgID
	if err := s.store.CreateRole(r.Context(), &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to create role")
		return
	}
	writeAdminJSON(w, http.StatusCreated, in)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionOwner); !ok {
		return
	}
	var in domain.Role
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid role body")
		return
	}
	in.ID = chi.URLParam(r, "id")
	in.OrganizationID = orgID
	if err := s.store.UpdateRole(r.Context(), &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to update role")
		return
	}
	writeAdminJSON(w, http.StatusOK, in)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionOwner); !ok {
		return
	}
	if err := s.store.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to delete role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
