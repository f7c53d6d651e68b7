package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// handleListOrganizations spans every tenant, so no single organization's
// permission grant can gate it up front; instead it lists every
// organization and keeps only the ones the actor holds at least read on.
func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeAdminError(w, http.StatusUnauthorized, "no authenticated actor")
		return
	}
	orgs, err := s.store.ListOrganizations(r.Context())
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to list organizations")
		return
	}
	visible := orgs[:0]
	for _, o := range orgs {
		perm, err := s.store.ActorPermission(r.Context(), o.ID, actor.UserID)
		if err == nil && perm.Allows(domain.PermissionRead) {
			visible = append(visible, o)
		}
	}
	writeAdminJSON(w, http.StatusOK, visible)
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeAdminError(w, http.StatusUnauthorized, "no authenticated actor")
		return
	}
	var in domain.Organization
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid organization body")
		return
	}
	in.ID = uuid.NewString()
	in.Owner = actor.UserID
	if err := s.store.CreateOrganization(r.Context(), &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to create organization")
		return
	}
	writeAdminJSON(w, http.StatusCreated, in)
}

func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.requirePermission(w, r, id, domain.PermissionRead); !ok {
		return
	}
	org, found, err := s.store.GetOrganization(r.Context(), id)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to get organization")
		return
	}
	if !found {
		writeAdminError(w, http.StatusNotFound, "organization not found")
		return
	}
	writeAdminJSON(w, http.StatusOK, org)
}

func (s *Server) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	perm, ok := s.requirePermission(w, r, id, domain.PermissionWrite)
	if !ok {
		return
	}
	var in domain.Organization
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid organization body")
		return
	}
	in.ID = id
	ownerChange := perm.Allows(domain.PermissionOwner)
	if err := s.store.UpdateOrganization(r.Context(), &in, ownerChange); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to update organization")
		return
	}
	writeAdminJSON(w, http.StatusOK, in)
}

func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.requirePermission(w, r, id, domain.PermissionOwner); !ok {
		return
	}
	if err := s.store.DeleteOrganization(r.Context(), id); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to delete organization")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
