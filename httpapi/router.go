package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(svc ProductService, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AppName == "" {
		opts.AppName = "Dispatch"
	}
	prefix := strings.TrimRight(opts.APIPrefix, "/")
	app := &App{svc: svc, appName: opts.AppName}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", app.rootHandler)
	mux.HandleFunc("GET /health", app.healthHandler)
	mux.HandleFunc("GET "+prefix+"/providers", app.providersHandler)
	mux.HandleFunc("GET "+prefix+"/products", RequireAPIKey(opts.APIKeys, app.productsHandler))
	mux.HandleFunc("GET "+prefix+"/products/cached", RequireAPIKey(opts.APIKeys, app.cachedProductsHandler))

	var h http.Handler = mux
	h = WithRateLimit(opts.Limiter, h)
	h = WithCORS(opts.AllowedOrigins, h)
	h = WithLogging(opts.Logger, opts.Metrics, h)
	return WithRequestID(h)
}
