package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/ratelimit"
	"github.com/aluiziolira/go-dispatch/service"
)

// ProductService is the query surface the API serves.
type ProductService interface {
	ListProviders() []string
	QueryProducts(ctx context.Context, req service.QueryRequest) (map[string][]models.Product, error)
	QueryCachedProducts(ctx context.Context, provider string, limit int) ([]models.Product, error)
}

// Options configures the router.
type Options struct {
	AppName        string
	APIPrefix      string
	APIKeys        []string
	AllowedOrigins []string
	Limiter        *ratelimit.Limiter
	Logger         *slog.Logger
	Metrics        *Metrics
}

type App struct {
	svc     ProductService
	appName string
}

func (a *App) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": a.appName,
		"message": a.appName + " API is online.",
	})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) providersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"providers": a.svc.ListProviders()})
}

func (a *App) productsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}

	results, err := a.svc.QueryProducts(r.Context(), service.QueryRequest{
		Providers: splitProviders(q["providers"]),
		Query:     strings.TrimSpace(q.Get("query")),
		Limit:     limit,
		Client:    ClientHost(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": results})
}

func (a *App) cachedProductsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}

	products, err := a.svc.QueryCachedProducts(r.Context(), strings.TrimSpace(q.Get("provider")), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

// parseLimit returns zero for an absent limit. A present limit must be a
// positive integer; upper bounds are enforced by the service.
func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		WriteJSONError(w, http.StatusUnprocessableEntity, "invalid_limit", "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

// splitProviders accepts both repeated and comma separated values.
func splitProviders(values []string) []string {
	var out []string
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
