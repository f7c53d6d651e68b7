package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// User list/get/update are not organization-scoped — any authenticated
// actor may look themselves and others up by id; the role grants, not the
// user record, are what's org-scoped.

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := ActorFromContext(r.Context()); !ok {
		writeAdminError(w, http.StatusUnauthorized, "no authenticated actor")
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeAdminJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := ActorFromContext(r.Context()); !ok {
		writeAdminError(w, http.StatusUnauthorized, "no authenticated actor")
		return
	}
	var in domain.User
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid user body")
		return
	}
	in.ID = uuid.NewString()
	in.Active = true
	if err := s.store.CreateUser(r.Context(), &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeAdminJSON(w, http.StatusCreated, in)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := ActorFromContext(r.Context()); !ok {
		writeAdminError(w, http.StatusUnauthorized, "no authenticated actor")
		return
	}
	id := chi.URLParam(r, "id")
	u, found, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if !found {
		writeAdminError(w, http.StatusNotFound, "user not found")
		return
	}
	writeAdminJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeAdminError(w, http.StatusUnauthorized, "no authenticated actor")
		return
	}
	id := chi.URLParam(r, "id")
	if actor.UserID != id {
		writeAdminError(w, http.StatusForbidden, "users may only update their own record")
		return
	}
	var in domain.User
	if err := decodeJSON(r, &in); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid user body")
		return
	}
	in.ID = id
	if err := s.store.UpdateUser(r.Context(), &in); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	writeAdminJSON(w, http.StatusOK, in)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeAdminError(w, http.StatusUnauthorized, "no authenticated actor")
		return
	}
	id := chi.URLParam(r, "id")
	if actor.UserID != id {
		writeAdminError(w, http.StatusForbidden, "users may only delete their own record")
		return
	}
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
