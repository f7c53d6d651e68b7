package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// handleListKeys returns ListAPIKeys' result as is: the store layer never
// selects the Value column, so no secret reaches the wire from this handler.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionRead); !ok {
		return
	}
	keys, err := s.store.ListAPIKeys(r.Context(), orgID)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}
	writeAdminJSON(w, http.StatusOK, keys)
}

// handleCreateKey requires owner: minting a credential a dispatch attempt
// can spend is a higher-stakes action than editing an alias or provider.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionOwner); !ok {
		return
	}
	var in domain.ProviderApiKey
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid key body")
		return
	}
	in.ID = uuid.NewString()
	if err := s.store.CreateAPIKey(r.Context(), orgID, &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to create key")
		return
	}
	in.Value = ""
	writeAdminJSON(w, http.StatusCreated, in)
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if _, ok := s.requirePermission(w, r, orgID, domain.PermissionOwner); !ok {
		return
	}
	if err := s.store.DeleteAPIKey(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to delete key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
