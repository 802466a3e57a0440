// Package service implements the product query operations shared by the
// HTTP API and the command line.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/scraper"
	"github.com/aluiziolira/go-dispatch/telemetry"
)

const (
	MaxLiveLimit       = 100
	MaxCachedLimit     = 500
	DefaultCachedLimit = 100
	anonymousClient    = "anonymous"
)

// ErrInvalidLimit is returned when a requested limit is outside the allowed range.
var ErrInvalidLimit = errors.New("invalid limit")

// Collector fans a query out to providers.
type Collector interface {
	Collect(ctx context.Context, providers []string, query string, limit int) (map[string][]models.Product, error)
}

// Catalog lists the registered provider names.
type Catalog interface {
	Providers() []string
	Has(name string) bool
}

// Reader reads cached products.
type Reader interface {
	List(ctx context.Context, provider string, limit int) ([]models.Product, error)
}

// Submitter queues products for persistence without waiting.
type Submitter interface {
	Submit(products []models.Product) error
}

// Deps are the collaborators of a Service. Cache, Recorder and Logger are
// optional.
type Deps struct {
	Collector Collector
	Catalog   Catalog
	Store     Reader
	Pipeline  Submitter
	Cache     ResultCache
	Recorder  telemetry.Recorder
	Logger    *slog.Logger
	Metrics   *Metrics
}

// QueryRequest is one live product query.
type QueryRequest struct {
	Providers []string
	Query     string
	// Limit caps results per provider; zero means no limit.
	Limit  int
	Client string
}

// Service answers product queries.
type Service struct {
	deps Deps
}

// New builds a Service.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// ListProviders returns the registered provider names in sorted order.
func (s *Service) ListProviders() []string {
	return s.deps.Catalog.Providers()
}

// QueryProducts collects live results from the requested providers. Failing
// providers are left out of the result. Successful results are also handed
// to the persistence pipeline.
func (s *Service) QueryProducts(ctx context.Context, req QueryRequest) (map[string][]models.Product, error) {
	if req.Limit < 0 || req.Limit > MaxLiveLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidLimit, MaxLiveLimit)
	}

	selected, err := s.selectProviders(req.Providers)
	if err != nil {
		return nil, err
	}
	client := req.Client
	if client == "" {
		client = anonymousClient
	}

	key := cacheKey(selected, req.Query, req.Limit)
	if s.deps.Cache != nil {
		if results, ok := s.deps.Cache.Get(ctx, key); ok {
			s.deps.Metrics.IncCache("hit")
			s.emitQuery(selected, req.Query, client, results)
			return results, nil
		}
		s.deps.Metrics.IncCache("miss")
	}

	results, err := s.deps.Collector.Collect(ctx, selected, req.Query, req.Limit)
	if err != nil {
		return nil, err
	}

	if s.deps.Pipeline != nil {
		if err := s.deps.Pipeline.Submit(flatten(selected, results)); err != nil {
			s.deps.Logger.Warn("queue query results", "error", err)
		}
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(ctx, key, results)
	}

	s.emitQuery(selected, req.Query, client, results)
	return results, nil
}

// QueryCachedProducts reads persisted products, most recently seen first.
// An empty provider reads every provider; a zero limit uses the default.
func (s *Service) QueryCachedProducts(ctx context.Context, provider string, limit int) ([]models.Product, error) {
	if limit == 0 {
		limit = DefaultCachedLimit
	}
	if limit < 1 || limit > MaxCachedLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidLimit, MaxCachedLimit)
	}
	if provider != "" && !s.deps.Catalog.Has(provider) {
		return nil, &scraper.UnknownProviderError{Name: provider}
	}
	return s.deps.Store.List(ctx, provider, limit)
}

func (s *Service) selectProviders(names []string) ([]string, error) {
	if len(names) == 0 {
		return s.deps.Catalog.Providers(), nil
	}
	seen := make(map[string]struct{}, len(names))
	selected := make([]string, 0, len(names))
	for _, name := range names {
		if !s.deps.Catalog.Has(name) {
			return nil, &scraper.UnknownProviderError{Name: name}
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		selected = append(selected, name)
	}
	return selected, nil
}

func (s *Service) emitQuery(selected []string, query, client string, results map[string][]models.Product) {
	count := 0
	for _, products := range results {
		count += len(products)
	}
	telemetry.Emit(s.deps.Recorder, "api.products", map[string]any{
		"providers": selected,
		"query":     query,
		"count":     count,
		"client":    client,
	})
}

func flatten(order []string, results map[string][]models.Product) []models.Product {
	var out []models.Product
	for _, name := range order {
		out = append(out, results[name]...)
	}
	return out
}

func cacheKey(providers []string, query string, limit int) string {
	sorted := append([]string(nil), providers...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",") + "|" + query + "|" + strconv.Itoa(limit)
}
