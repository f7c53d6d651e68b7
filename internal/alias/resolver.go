// Package alias expands a caller-supplied model name or models[] list into
// the ordered (provider, model, api_key_ref) attempt list the dispatcher
// walks. It generalizes the rule-table routing the gateway's policy.Router
// did for a single static rule list into the four-rule, org-scoped,
// rotation-aware resolution spec'd for aliases.
package alias

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// Store looks up a named alias for a tenant. Implementations read from the
// storage layer's chronicle_aliases/chronicle_alias_providers tables.
type Store interface {
	Lookup(ctx context.Context, orgID, name string) (*domain.Alias, bool, error)
}

// PrefixRule maps a model-name prefix to a provider when no alias matches.
// Order matters: the first matching prefix wins.
type PrefixRule struct {
	Prefix   string
	Provider string
}

// DefaultPrefixRules mirrors the common model-name conventions of the
// providers chronicle ships codecs for.
var DefaultPrefixRules = []PrefixRule{
	{Prefix: "claude-", Provider: "anthropic"},
	{Prefix: "gpt-", Provider: "openai"},
	{Prefix: "o1", Provider: "openai"},
	{Prefix: "o3", Provider: "openai"},
	{Prefix: "llama", Provider: "ollama"},
	{Prefix: "mistral", Provider: "ollama"},
}

// Resolver implements the four alias-resolution rules plus random_choice.
type Resolver struct {
	store   Store
	prefix  []PrefixRule
	intn    func(n int) int
}

type Option func(*Resolver)

// WithPrefixRules overrides DefaultPrefixRules.
func WithPrefixRules(rules []PrefixRule) Option {
	return func(r *Resolver) { r.prefix = rules }
}

// WithRandSource overrides the rotation-start chooser, for deterministic tests.
func WithRandSource(intn func(n int) int) Option {
	return func(r *Resolver) { r.intn = intn }
}

func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, prefix: DefaultPrefixRules, intn: rand.Intn}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve expands req.Model / req.Options.Models into an ordered attempt
// list per rules 1-4. orgID scopes rule 3's alias-table lookup.
func (r *Resolver) Resolve(ctx context.Context, orgID string, req *domain.CanonicalRequest) ([]domain.ModelAttempt, error) {
	// Rule 1: models[] provided verbatim, aliases not followed.
	if len(req.Options.Models) > 0 {
		attempts := aliasModelsToAttempts(req.Options.Models)
		if req.Options.RandomChoice {
			rotate(attempts, r.intn(len(attempts)))
		}
		return attempts, nil
	}

	model := req.Model
	if model == "" {
		return nil, fmt.Errorf("alias: request has no model and no models[]")
	}

	// Rule 2: "<provider>/<model>" shorthand.
	if provider, bareModel, ok := strings.Cut(model, "/"); ok && provider != "" && bareModel != "" {
		return []domain.ModelAttempt{{Provider: provider, Model: bareModel}}, nil
	}

	// Rule 3: alias-table lookup for this org.
	if r.store != nil {
		if al, ok, err := r.store.Lookup(ctx, orgID, model); err != nil {
			return nil, fmt.Errorf("alias: lookup %q: %w", model, err)
		} else if ok {
			sorted := sortedAliasModels(al.Models)
			attempts := aliasModelsToAttempts(sorted)
			if al.RandomOrder {
				rotate(attempts, r.intn(len(attempts)))
			}
			return attempts, nil
		}
	}

	// Rule 4: global provider-prefix default.
	for _, rule := range r.prefix {
		if strings.HasPrefix(model, rule.Prefix) {
			return []domain.ModelAttempt{{Provider: rule.Provider, Model: model}}, nil
		}
	}

	return nil, fmt.Errorf("alias: no provider resolvable for model %q", model)
}

func aliasModelsToAttempts(models []domain.AliasModel) []domain.ModelAttempt {
	attempts := make([]domain.ModelAttempt, len(models))
	for i, m := range models {
		attempts[i] = domain.ModelAttempt{Provider: m.Provider, Model: m.Model, APIKeyName: m.APIKeyName}
	}
	return attempts
}

func sortedAliasModels(models []domain.AliasModel) []domain.AliasModel {
	sorted := make([]domain.AliasModel, len(models))
	copy(sorted, models)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Sort < sorted[j-1].Sort; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}

// rotate picks start as the new first element and wraps the remainder
// around it in place, implementing "uniform random starting index, wraps".
func rotate(attempts []domain.ModelAttempt, start int) {
	n := len(attempts)
	if n < 2 || start == 0 {
		return
	}
	rotated := make([]domain.ModelAttempt, n)
	for i := 0; i < n; i++ {
		rotated[i] = attempts[(start+i)%n]
	}
	copy(attempts, rotated)
}
