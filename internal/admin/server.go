package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// Store is the persistence surface the admin layer needs. *sqlstore.Store
// satisfies it; the package's tests run against a real in-memory SQLite
// sqlstore.Store rather than a fake.
type Store interface {
	ActorPermission(ctx context.Context, orgID, userID string) (domain.Permission, error)

	CreateOrganization(ctx context.Context, o *domain.Organization) error
	GetOrganization(ctx context.Context, id string) (*domain.Organization, bool, error)
	UpdateOrganization(ctx context.Context, o *domain.Organization, ownerChange bool) error
	DeleteOrganization(ctx context.Context, id string) error
	ListOrganizations(ctx context.Context) ([]*domain.Organization, error)

	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, bool, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]*domain.User, error)

	CreateRole(ctx context.Context, r *domain.Role) error
	UpdateRole(ctx context.Context, r *domain.Role) error
	DeleteRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context, orgID string) ([]*domain.Role, error)

	Lookup(ctx context.Context, orgID, name string) (*domain.Alias, bool, error)
	CreateAlias(ctx context.Context, orgID string, a *domain.Alias) error
	UpdateAlias(ctx context.Context, a *domain.Alias) error
	DeleteAlias(ctx context.Context, id string) error
	ListAliases(ctx context.Context, orgID string) ([]*domain.Alias, error)

	GetCustomProvider(ctx context.Context, orgID, name string) (*domain.CustomProvider, bool, error)
	CreateCustomProvider(ctx context.Context, orgID string, p *domain.CustomProvider) error
	UpdateCustomProvider(ctx context.Context, p *domain.CustomProvider) error
	DeleteCustomProvider(ctx context.Context, id string) error
	ListCustomProviders(ctx context.Context, orgID string) ([]*domain.CustomProvider, error)

	LookupAPIKey(ctx context.Context, provider, name string) (*domain.ProviderApiKey, bool, error)
	CreateAPIKey(ctx context.Context, orgID string, k *domain.ProviderApiKey) error
	DeleteAPIKey(ctx context.Context, id string) error
	ListAPIKeys(ctx context.Context, orgID string) ([]*domain.ProviderApiKey, error)
}

// Server mounts the admin REST surface as a chi sub-router, grounded on
// the teacher's internal/api/controlplane.Server shape (a self-contained
// *chi.Mux wrapped behind ServeHTTP).
type Server struct {
	router   *chi.Mux
	store    Store
	resolver ActorResolver
}

// NewServer builds the admin router. Pass nil for resolver to use the
// default bearer-token resolver.
func NewServer(store Store, resolver ActorResolver) *Server {
	if resolver == nil {
		resolver = NewBearerActorResolver()
	}
	s := &Server{store: store, resolver: resolver}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.actorMiddleware)

	r.Route("/organizations", func(r chi.Router) {
		r.Get("/", s.handleListOrganizations)
		r.Post("/", s.handleCreateOrganization)
		r.Get("/{id}", s.handleGetOrganization)
		r.Put("/{id}", s.handleUpdateOrganization)
		r.Delete("/{id}", s.handleDeleteOrganization)
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleCreateUser)
		r.Get("/{id}", s.handleGetUser)
		r.Put("/{id}", s.handleUpdateUser)
		r.Delete("/{id}", s.handleDeleteUser)
	})

	r.Route("/organizations/{org_id}/roles", func(r chi.Router) {
		r.Get("/", s.handleListRoles)
		r.Post("/", s.handleCreateRole)
		r.Put("/{id}", s.handleUpdateRole)
		r.Delete("/{id}", s.handleDeleteRole)
	})

	r.Route("/organizations/{org_id}/aliases", func(r chi.Router) {
		r.Get("/", s.handleListAliases)
		r.Post("/", s.handleCreateAlias)
		r.Get("/{name}", s.handleGetAlias)
		r.Put("/{id}", s.handleUpdateAlias)
		r.Delete("/{id}", s.handleDeleteAlias)
	})

	r.Route("/organizations/{org_id}/providers", func(r chi.Router) {
		r.Get("/", s.handleListProviders)
		r.Post("/", s.handleCreateProvider)
		r.Get("/{name}", s.handleGetProvider)
		r.Put("/{id}", s.handleUpdateProvider)
		r.Delete("/{id}", s.handleDeleteProvider)
	})

	r.Route("/organizations/{org_id}/keys", func(r chi.Router) {
		r.Get("/", s.handleListKeys)
		r.Post("/", s.handleCreateKey)
		r.Delete("/{id}", s.handleDeleteKey)
	})

	s.router = r
}

// requirePermission resolves the context Actor's effective permission for
// orgID and checks it against required, writing 401/403 itself on failure.
// The caller should return immediately when ok is false.
func (s *Server) requirePermission(w http.ResponseWriter, r *http.Request, orgID string, required domain.Permission) (domain.Permission, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeAdminError(w, http.StatusUnauthorized, "no authenticated actor")
		return "", false
	}
	perm, err := s.store.ActorPermission(r.Context(), orgID, actor.UserID)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to resolve permission")
		return "", false
	}
	if perm == "" || !perm.Allows(required) {
		writeAdminError(w, http.StatusForbidden, "insufficient permission")
		return "", false
	}
	return perm, true
}

func writeAdminJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeAdminJSON(w, status, map[string]any{"error": map[string]string{"message": message}})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
