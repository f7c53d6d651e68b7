// Package server is Chronicle's chat/events HTTP surface: POST /chat (JSON
// or SSE), POST /events and POST /event (the ingestion pipeline's public
// face), and GET /healthz and GET / for liveness checks. Grounded on the
// teacher's internal/server.New (chi router, RequestID/Logging/Recoverer/
// otelhttp middleware chain) generalized from a single-tenant gateway to
// Chronicle's organization-scoped dispatch.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// Dispatcher is the subset of dispatcher.Dispatcher the chat handler calls.
type Dispatcher interface {
	Chat(ctx context.Context, orgID string, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error)
	ChatStream(ctx context.Context, orgID string, req *domain.CanonicalRequest) (<-chan domain.StreamChunk, error)
}

// EventStore is the subset of sqlstore.Store the events handlers call.
type EventStore interface {
	ApplyEvents(ctx context.Context, orgID string, events []domain.Event) ([]string, error)
}

// Server wraps chi.Mux with Chronicle's middleware chain and routes.
type Server struct {
	Router     *chi.Mux
	Port       int
	dispatcher Dispatcher
	events     EventStore
	resolver   TenantResolver
	logger     *slog.Logger
}

// New builds a Server. resolver defaults to NewBearerTenantResolver if nil.
func New(port int, dispatcher Dispatcher, events EventStore, resolver TenantResolver, logger *slog.Logger) *Server {
	if resolver == nil {
		resolver = NewBearerTenantResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Router:     chi.NewRouter(),
		Port:       port,
		dispatcher: dispatcher,
		events:     events,
		resolver:   resolver,
		logger:     logger,
	}

	s.Router.Use(RequestIDMiddleware)
	s.Router.Use(LoggingMiddleware(logger))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "chronicle")
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Get("/", s.handleHealthz)
	s.Router.Get("/healthz", s.handleHealthz)

	s.Router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware(s.resolver))
		r.Post("/chat", s.handleChat)
		r.Post("/events", s.handleEvents)
		r.Post("/event", s.handleEvent)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return http.ListenAndServe(fmt.Sprintf(":%d", s.Port), s.Router)
}
