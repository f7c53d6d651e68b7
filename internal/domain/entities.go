package domain

import "time"

// Alias is an operator-configured name (e.g. "fast-chat") that resolves to
// an ordered list of (provider, model, api_key) candidates. The resolver
// walks Models in Sort order; when RandomOrder is set it first rotates the
// sorted list to start at a uniformly random index.
type Alias struct {
	ID          string       `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	RandomOrder bool         `json:"random_order" db:"random_order"`
	Models      []AliasModel `json:"models" db:"-"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// CustomProvider is an operator-registered upstream endpoint: a base URL,
// credential, and wire Format telling the codec registry which translator
// to use.
type CustomProvider struct {
	ID            string            `json:"id" db:"id"`
	Name          string            `json:"name" db:"name"`
	URL           string            `json:"url" db:"url"`
	Format        string            `json:"format" db:"format"` // openai | anthropic | bedrock | ollama | custom-template
	APIKeySource  string            `json:"api_key_source" db:"api_key_source"` // raw | env
	APIKeyValue   string            `json:"api_key_value,omitempty" db:"api_key_value"`
	Headers       map[string]string `json:"headers,omitempty" db:"-"`
	ModelPrefix   string            `json:"model_prefix,omitempty" db:"model_prefix"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// ProviderApiKey is a named credential reference the alias/attempt resolver
// dereferences at dispatch time; Source distinguishes a literal value stored
// in the DB from a pointer to an environment variable.
type ProviderApiKey struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Provider  string    `json:"provider" db:"provider"`
	Source    string    `json:"source" db:"source"` // raw | env
	Value     string    `json:"value" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PricingPlan is an operator-configured per-token cost table used by admin
// usage reporting; it is not consulted on the request hot path.
type PricingPlan struct {
	ID                string    `json:"id" db:"id"`
	Provider          string    `json:"provider" db:"provider"`
	Model             string    `json:"model" db:"model"`
	PromptCostPer1M   float64   `json:"prompt_cost_per_1m" db:"prompt_cost_per_1m"`
	CompletionCostPer1M float64 `json:"completion_cost_per_1m" db:"completion_cost_per_1m"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Permission is the multi-tenant admin access level attached to an actor for
// an organization. Levels are ordered weakest to strongest; comparisons use
// Allows.
type Permission string

const (
	PermissionRead     Permission = "read"
	PermissionWrite     Permission = "write"
	PermissionOwner    Permission = "owner"
	PermissionOrgAdmin Permission = "org_admin"
)

var permissionRank = map[Permission]int{
	PermissionRead:     0,
	PermissionWrite:     1,
	PermissionOwner:    2,
	PermissionOrgAdmin: 3,
}

// Allows reports whether p grants at least the access level required.
func (p Permission) Allows(required Permission) bool {
	return permissionRank[p] >= permissionRank[required]
}

// Organization is the top-level tenant boundary every other admin entity is
// scoped under. Owner is an owner-only field: the admin layer only mutates
// it when the acting permission is itself PermissionOwner (spec §4.7
// "field-level write gating").
type Organization struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Owner     string    `json:"owner" db:"owner"` // user id
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// User is an authenticatable actor. It carries no credential fields;
// issuing and verifying credentials is left to the external collaborator
// per spec §4.7 — this type only carries what admin CRUD and actor-id
// resolution need.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name,omitempty" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Role grants a Permission to a User within an Organization; an actor's
// effective permission for an org is PermissionOwner when it is the org's
// Owner, otherwise the highest Permission among the Roles naming it (spec
// §4.7 "actor_ids[] (user id + role ids)").
type Role struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	UserID         string     `json:"user_id" db:"user_id"`
	Permission     Permission `json:"permission" db:"permission"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
