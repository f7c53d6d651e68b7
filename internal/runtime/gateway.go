// Package runtime assembles every package this repository builds into one
// embeddable Gateway: configuration, storage, keyvault, alias resolution,
// provider endpoints, the dispatcher, the event-ingestion pipeline, the
// chat/events HTTP surface, and the admin CRUD surface mounted under
// /admin. Generalizes the teacher's internal/runtime.Gateway (functional
// options over a lazily-built dependency graph, Start/Shutdown lifecycle)
// from the gateway's single hardcoded provider pair to Chronicle's
// alias/keyvault/codec-registry driven dispatch.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/chronicle-run/chronicle/internal/admin"
	"github.com/chronicle-run/chronicle/internal/alias"
	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/codec/anthropic"
	"github.com/chronicle-run/chronicle/internal/codec/bedrock"
	"github.com/chronicle-run/chronicle/internal/codec/ollama"
	"github.com/chronicle-run/chronicle/internal/codec/openai"
	"github.com/chronicle-run/chronicle/internal/config"
	"github.com/chronicle-run/chronicle/internal/dispatcher"
	"github.com/chronicle-run/chronicle/internal/domain"
	"github.com/chronicle-run/chronicle/internal/eventqueue"
	"github.com/chronicle-run/chronicle/internal/keyvault"
	"github.com/chronicle-run/chronicle/internal/providers"
	"github.com/chronicle-run/chronicle/internal/retryflow"
	"github.com/chronicle-run/chronicle/internal/server"
	"github.com/chronicle-run/chronicle/internal/storage/sqlstore"
	"github.com/chronicle-run/chronicle/internal/telemetry"
)

// Gateway wires and runs Chronicle's HTTP surface. It is safe to embed in
// a larger process via New/Start/Shutdown, or run standalone from
// cmd/chronicle.
type Gateway struct {
	configPath string
	logger     *slog.Logger
	httpClient *http.Client

	cfg              *config.Config
	store            *sqlstore.Store
	keys             *keyvault.Vault
	aliasResolver    *alias.Resolver
	providerResolver *providers.Resolver
	codecs           *codec.Registry
	eventManager     *eventqueue.Manager
	dispatch         *dispatcher.Dispatcher
	chatServer       *server.Server
	adminServer      *admin.Server

	tracerShutdown func(context.Context) error
	httpServer     *http.Server
}

// Option configures a Gateway before Start builds its dependency graph.
type Option func(*Gateway) error

// New applies opts and returns an unstarted Gateway. Call Start to load
// configuration, open storage, and begin serving.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		logger:     slog.Default(),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	return g, nil
}

// Start loads configuration, opens storage, registers the builtin codecs,
// and begins serving HTTP on cfg.Server.Port. It returns as soon as
// ListenAndServe has been started in a background goroutine, without
// waiting for the listener; a listen error is only logged. This matches the
// teacher's startServer/background-goroutine split.
func (g *Gateway) Start(ctx context.Context) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g.cfg = cfg

	tracerShutdown, err := telemetry.InitTracer(cfg.Telemetry, g.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	g.tracerShutdown = tracerShutdown

	store, err := sqlstore.New(sqlstore.Config{Driver: cfg.Storage.Driver, DSN: storageDSN(cfg.Storage)})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	g.store = store

	g.keys = keyvault.New(store, g.keyvaultOptions(cfg)...)
	for _, k := range cfg.APIKeys {
		g.keys.LoadStatic(k.Provider, []domain.ProviderApiKey{{
			Name:     k.Name,
			Provider: k.Provider,
			Source:   k.Source,
			Value:    k.Value,
		}})
	}

	g.aliasResolver = alias.NewResolver(store)

	g.codecs = codec.NewRegistry()
	g.codecs.Register(openai.New())
	g.codecs.Register(anthropic.New())
	g.codecs.Register(bedrock.New())
	g.codecs.Register(ollama.New())

	g.providerResolver = providers.New(store, func(ctx context.Context) string {
		orgID, _ := server.OrganizationIDFromContext(ctx)
		return orgID
	})
	for _, p := range cfg.Providers {
		g.providerResolver.Override(p.Name, p.BaseURL, p.Format, p.Headers)
	}

	g.eventManager = eventqueue.NewManager(
		eventqueue.WithHTTPClient(g.httpClient),
		eventqueue.WithLogger(g.logger),
	)
	sink := eventqueue.NewSink(g.eventManager, cfg.Events.Endpoint)

	g.dispatch = dispatcher.New(g.codecs, g.providerResolver, g.aliasResolver, g.keys, sink)
	g.dispatch.BasePolicy = retryflow.Merge(retryflow.DefaultPolicy(), domain.RetryOptions{
		MaxTries:                         cfg.Retry.MaxTries,
		InitialBackoffMS:                 cfg.Retry.InitialBackoffMS,
		MaxBackoffMS:                     cfg.Retry.MaxBackoffMS,
		JitterMS:                         cfg.Retry.JitterMS,
		GrowthKind:                       cfg.Retry.Growth,
		GrowthMultiplier:                 cfg.Retry.GrowthMultiplier,
		GrowthAmountMS:                   cfg.Retry.GrowthAmountMS,
		FailIfRateLimitExceedsMaxBackoff: cfg.Retry.FailIfRateLimitExceedsMaxBackoff,
	})
	g.dispatch.HTTPClient = g.httpClient
	g.dispatch.Logger = g.logger

	g.chatServer = server.New(cfg.Server.Port, g.dispatch, store, nil, g.logger)
	g.adminServer = admin.NewServer(store, nil)
	g.chatServer.Router.Mount("/admin", g.adminServer)

	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: g.chatServer.Router,
	}

	go func() {
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	g.logger.Info("chronicle started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage_driver", cfg.Storage.Driver))
	return nil
}

// Shutdown gracefully stops the HTTP listener, closes the event writers
// (events still buffered are discarded, not posted), closes storage, and
// shuts down the tracer.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down chronicle")

	if g.httpServer != nil {
		if err := g.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}
	if g.eventManager != nil {
		g.eventManager.Close()
	}
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}
	if g.tracerShutdown != nil {
		if err := g.tracerShutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Config returns the configuration Start loaded, or nil before Start runs.
func (g *Gateway) Config() *config.Config { return g.cfg }

// Store returns the storage layer Start opened, or nil before Start runs.
func (g *Gateway) Store() *sqlstore.Store { return g.store }

func (g *Gateway) keyvaultOptions(cfg *config.Config) []keyvault.Option {
	if cfg.Keyvault.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Keyvault.Redis.Addr})
	cache := keyvault.NewRedisCache(client, cfg.Keyvault.Redis.Prefix)
	return []keyvault.Option{keyvault.WithCache(cache, cfg.Keyvault.Redis.ParsedTTL())}
}

func storageDSN(cfg config.StorageConfig) string {
	if cfg.Driver == "postgres" {
		return cfg.DSN
	}
	return cfg.SQLite.Path
}
