package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chronicle-run/chronicle/internal/domain"
)

func (s *Server) handleListAliases(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionRead); !ok {
		return
	}
	aliases, err := s.store.ListAliases(r.Context(), orgID)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to list aliases")
		return
	}
	writeAdminJSON(w, http.StatusOK, aliases)
}

func (s *Server) handleGetAlias(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionRead); !ok {
		return
	}
	alias, found, err := s.store.Lookup(r.Context(), orgID, chi.URLParam(r, "name"))
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to get alias")
		return
	}
	if !found {
		writeAdminError(w, http.StatusNotFound, "alias not found")
		return
	}
	writeAdminJSON(w, http.StatusOK, alias)
}

func (s *Server) handleCreateAlias(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionWrite); !ok {
		return
	}
	var in domain.Alias
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid alias body")
		return
	}
	in.ID = uuid.NewString()
	if err := s.store.CreateAlias(r.Context(), orgID, &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to create alias")
		return
	}
	writeAdminJSON(w, http.StatusCreated, in)
}

func (s *Server) handleUpdateAlias(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionWrite); !ok {
		return
	}
	var in domain.Alias
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid alias body")
		return
	}
	in.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateAlias(r.Context(), &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to update alias")
		return
	}
	writeAdminJSON(w, http.StatusOK, in)
}

func (s *Server) handleDeleteAlias(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionWrite); !ok {
		return
	}
	if err := s.store.DeleteAlias(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to delete alias")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
