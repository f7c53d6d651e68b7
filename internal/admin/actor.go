// Package admin is the thin multi-tenant CRUD surface spec §4.7 describes
// as "contract only": list/get/create/update/delete for each admin entity
// (Organization, User, Role, Alias, AliasModel, CustomProvider,
// ProviderApiKey), scoped by organization and permission-gated by actor.
// Session/API-key authentication itself — password hashing, OAuth,
// passwordless email tokens — is left to the external collaborator per
// spec; this package resolves only the minimal Actor{UserID} the contract
// needs to check permissions, grounded on the teacher's
// internal/server/authmiddleware.go Bearer-token-to-context shape.
package admin

import (
	"context"
	"net/http"
	"strings"
)

type actorContextKey struct{}

// Actor is the resolved identity of an authenticated admin caller.
type Actor struct {
	UserID string
}

// ActorResolver authenticates a request into an Actor. The default
// bearerActorResolver treats the Authorization header's Bearer token as
// "<key_id>.<secret>" per spec §6 and uses key_id as the user id verbatim
// — verifying the secret against a stored hash is the external
// collaborator's responsibility this package doesn't take on.
type ActorResolver interface {
	Resolve(r *http.Request) (*Actor, bool)
}

type bearerActorResolver struct{}

// NewBearerActorResolver is the package's default ActorResolver.
func NewBearerActorResolver() ActorResolver { return bearerActorResolver{} }

func (bearerActorResolver) Resolve(r *http.Request) (*Actor, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, false
	}
	keyID, _, ok := strings.Cut(token, ".")
	if !ok || keyID == "" {
		return nil, false
	}
	return &Actor{UserID: keyID}, true
}

// withActor stores the resolved Actor on the request context.
func withActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, a)
}

// ActorFromContext retrieves the Actor a prior middleware resolved.
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(actorContextKey{}).(*Actor)
	return a, ok
}

// actorMiddleware resolves the caller's Actor and rejects the request with
// 401 if authentication is absent or malformed (spec §7 Unauthenticated).
func (s *Server) actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.resolver.Resolve(r)
		if !ok {
			writeAdminError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}
