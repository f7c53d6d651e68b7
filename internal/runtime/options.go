package runtime

import (
	"net/http"

	"log/slog"
)

// WithConfigPath points Start at the config.yaml/config.toml file to load
// (file.Provider layered under CHRONICLE_-prefixed env vars). An empty path
// is valid: Start then relies on environment variables and the baked-in
// defaults alone.
func WithConfigPath(path string) Option {
	return func(g *Gateway) error {
		g.configPath = path
		return nil
	}
}

// WithLogger sets the logger Start's subsystems (dispatcher, eventqueue,
// http server) log through. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithHTTPClient sets the client the dispatcher uses to call upstream
// providers and the eventqueue uses to POST batches. Defaults to
// &http.Client{}; callers needing custom timeouts or transport pooling
// should set one before Start.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) error {
		g.httpClient = client
		return nil
	}
}
