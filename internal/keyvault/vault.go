// Package keyvault resolves the named API-key references an alias or
// request attaches to a provider attempt (ProviderApiKey.Name) into the
// actual credential value. Keys loaded from config take precedence, then
// an optional fast-path cache, then the database's chronicle_api_keys
// table; a key whose Source is "env" names an environment variable whose
// value is used.
package keyvault

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// Store reads named provider API keys from persistence.
type Store interface {
	LookupAPIKey(ctx context.Context, provider, name string) (*domain.ProviderApiKey, bool, error)
}

// Cache is a fast-path tier in front of Store; implementations (e.g. the
// Redis-backed one from NewRedisCache) avoid a DB round trip on the hot
// path.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// Vault resolves (provider, api_key_name) pairs to literal credentials.
// Static entries (loaded from config at startup) take precedence over the
// database, and an "env:" source value is dereferenced against the process
// environment rather than treated as a literal.
type Vault struct {
	store Store
	cache Cache
	ttl   time.Duration

	mu     sync.RWMutex
	static map[string]string // "<provider>/<name>" -> resolved value
}

type Option func(*Vault)

func WithCache(c Cache, ttl time.Duration) Option {
	return func(v *Vault) { v.cache = c; v.ttl = ttl }
}

func New(store Store, opts ...Option) *Vault {
	v := &Vault{store: store, static: make(map[string]string)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// LoadStatic registers config-supplied keys; config always wins over the DB.
func (v *Vault) LoadStatic(provider string, keys []domain.ProviderApiKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, k := range keys {
		v.static[cacheKey(provider, k.Name)] = dereference(k.Source, k.Value)
	}
}

// Resolve returns the literal credential for a (provider, name) reference.
// An empty name resolves to the empty string (callers treat that as "no
// auth header for this attempt", e.g. a locally-hosted Ollama).
func (v *Vault) Resolve(ctx context.Context, provider, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	key := cacheKey(provider, name)

	v.mu.RLock()
	if val, ok := v.static[key]; ok {
		v.mu.RUnlock()
		return val, nil
	}
	v.mu.RUnlock()

	if v.cache != nil {
		if val, ok := v.cache.Get(ctx, key); ok {
			return val, nil
		}
	}

	if v.store == nil {
		return "", fmt.Errorf("keyvault: no api key named %q for provider %q", name, provider)
	}
	rec, ok, err := v.store.LookupAPIKey(ctx, provider, name)
	if err != nil {
		return "", fmt.Errorf("keyvault: lookup %q/%q: %w", provider, name, err)
	}
	if !ok {
		return "", fmt.Errorf("keyvault: no api key named %q for provider %q", name, provider)
	}

	val := dereference(rec.Source, rec.Value)
	if v.cache != nil {
		v.cache.Set(ctx, key, val, v.ttl)
	}
	return val, nil
}

func dereference(source, value string) string {
	if source == "env" {
		return os.Getenv(value)
	}
	return value
}

func cacheKey(provider, name string) string {
	return strings.ToLower(provider) + "/" + name
}
