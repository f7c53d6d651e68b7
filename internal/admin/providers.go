package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chronicle-run/chronicle/internal/domain"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionRead); !ok {
		return
	}
	providers, err := s.store.ListCustomProviders(r.Context(), orgID)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	writeAdminJSON(w, http.StatusOK, providers)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionRead); !ok {
		return
	}
	p, found, err := s.store.GetCustomProvider(r.Context(), orgID, chi.URLParam(r, "name"))
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to get provider")
		return
	}
	if !found {
		writeAdminError(w, http.StatusNotFound, "provider not found")
		return
	}
	writeAdminJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionWrite); !ok {
		return
	}
	var in domain.CustomProvider
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid provider body")
		return
	}
	in.ID = uuid.NewString()
	if err := s.store.CreateCustomProvider(r.Context(), orgID, &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to create provider")
		return
	}
	writeAdminJSON(w, http.StatusCreated, in)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionWrite); !ok {
		return
	}
	var in domain.CustomProvider
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid provider body")
		return
	}
	in.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateCustomProvider(r.Context(), &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to update provider")
		return
	}
	writeAdminJSON(w, http.StatusOK, in)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionWrite); !ok {
		return
	}
	if err := s.store.DeleteCustomProvider(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to delete provider")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
