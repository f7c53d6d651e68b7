// Package providers implements dispatcher.ProviderResolver: it maps a
// provider name produced by alias resolution to the upstream endpoint the
// dispatcher calls, covering both the four builtin providers (openai,
// anthropic, bedrock, ollama) and operator-registered
// domain.CustomProvider rows. Grounded on the teacher's
// internal/provider/registry.ProviderFactory lookup-by-type shape,
// generalized from a provider-instance factory to the (base URL, codec
// name, static headers) triple dispatcher.ProviderEndpoint needs.
package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chronicle-run/chronicle/internal/dispatcher"
	"github.com/chronicle-run/chronicle/internal/domain"
)

// builtinDefaults are the base URLs Chronicle dials when an operator
// hasn't overridden a builtin provider's endpoint in config: OpenAI's
// public API base URL, internal/api/anthropic's defaultBaseURL constant,
// and Ollama's own documented default local port.
var builtinDefaults = map[string]dispatcher.ProviderEndpoint{
	"openai":    {BaseURL: "https://api.openai.com/v1", Codec: "openai"},
	"anthropic": {BaseURL: "https://api.anthropic.com", Codec: "anthropic"},
	"ollama":    {BaseURL: "http://localhost:11434", Codec: "ollama"},
	// bedrock has no single default base URL — it is region-specific
	// (bedrock-runtime.<region>.amazonaws.com) and must be configured.
}

// Store looks up an organization's custom providers, implementing the
// non-builtin half of resolution.
type Store interface {
	GetCustomProvider(ctx context.Context, orgID, name string) (*domain.CustomProvider, bool, error)
}

// Resolver implements dispatcher.ProviderResolver.
type Resolver struct {
	store Store
	orgID func(ctx context.Context) string

	mu       sync.RWMutex
	builtins map[string]dispatcher.ProviderEndpoint
}

// New builds a Resolver seeded with builtinDefaults. store may be nil
// (custom-provider lookups then always miss); orgIDFn extracts the calling
// organization id from context (internal/server stashes it there via
// TenantMiddleware).
func New(store Store, orgIDFn func(ctx context.Context) string) *Resolver {
	builtins := make(map[string]dispatcher.ProviderEndpoint, len(builtinDefaults))
	for name, ep := range builtinDefaults {
		builtins[name] = ep
	}
	return &Resolver{store: store, orgID: orgIDFn, builtins: builtins}
}

// Override replaces a builtin provider's endpoint (base URL and/or static
// headers) with an operator-configured one, e.g. a self-hosted OpenAI-
// compatible gateway or a region-specific Bedrock endpoint. format selects
// which codec handles the wire translation; an empty format keeps name's
// existing codec.
func (r *Resolver) Override(name, baseURL, format string, headers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := r.builtins[name]
	ep.BaseURL = baseURL
	if format != "" {
		ep.Codec = format
	} else if ep.Codec == "" {
		ep.Codec = name
	}
	ep.Headers = headers
	r.builtins[name] = ep
}

// Resolve implements dispatcher.ProviderResolver. Builtin/overridden
// providers are checked first; anything unrecognized falls through to a
// custom-provider lookup scoped to the calling organization.
func (r *Resolver) Resolve(ctx context.Context, provider string) (dispatcher.ProviderEndpoint, error) {
	name := strings.ToLower(provider)

	r.mu.RLock()
	ep, ok := r.builtins[name]
	r.mu.RUnlock()
	if ok {
		if ep.BaseURL == "" {
			return dispatcher.ProviderEndpoint{}, fmt.Errorf("providers: %q has no configured base URL", provider)
		}
		return ep, nil
	}

	if r.store == nil || r.orgID == nil {
		return dispatcher.ProviderEndpoint{}, fmt.Errorf("providers: unknown provider %q", provider)
	}

	orgID := r.orgID(ctx)
	cp, found, err := r.store.GetCustomProvider(ctx, orgID, provider)
	if err != nil {
		return dispatcher.ProviderEndpoint{}, fmt.Errorf("providers: lookup custom provider %q: %w", provider, err)
	}
	if !found {
		return dispatcher.ProviderEndpoint{}, fmt.Errorf("providers: unknown provider %q", provider)
	}

	return dispatcher.ProviderEndpoint{
		BaseURL: cp.URL,
		Codec:   cp.Format,
		Headers: cp.Headers,
	}, nil
}

var _ dispatcher.ProviderResolver = (*Resolver)(nil)
