package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/scraper"
	"github.com/aluiziolira/go-dispatch/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCatalog []string

func (c fakeCatalog) Providers() []string {
	out := append([]string(nil), c...)
	sort.Strings(out)
	return out
}

func (c fakeCatalog) Has(name string) bool {
	for _, n := range c {
		if n == name {
			return true
		}
	}
	return false
}

type fakeCollector struct {
	mu        sync.Mutex
	calls     int
	providers []string
	limit     int
	results   map[string][]models.Product
}

func (f *fakeCollector) Collect(ctx context.Context, providers []string, query string, limit int) (map[string][]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.providers = providers
	f.limit = limit
	out := make(map[string][]models.Product)
	for _, p := range providers {
		if products, ok := f.results[p]; ok {
			out[p] = products
		}
	}
	return out, nil
}

type fakeStore struct {
	provider string
	limit    int
	err      error
}

func (f *fakeStore) List(ctx context.Context, provider string, limit int) ([]models.Product, error) {
	f.provider = provider
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []models.Product{{Provider: "goat", Name: "x", URL: "u"}}, nil
}

type fakeSubmitter struct {
	submitted []models.Product
}

func (f *fakeSubmitter) Submit(products []models.Product) error {
	f.submitted = append(f.submitted, products...)
	return nil
}

func newTestService(cache ResultCache) (*Service, *fakeCollector, *fakeStore, *fakeSubmitter, *telemetry.Client) {
	collector := &fakeCollector{results: map[string][]models.Product{
		"complexshop": {{Provider: "complexshop", Name: "Tee", URL: "https://cs.test/tee"}},
		"goat":        {{Provider: "goat", Name: "Dunk", URL: "https://goat.test/dunk"}, {Provider: "goat", Name: "AJ1", URL: "https://goat.test/aj1"}},
	}}
	store := &fakeStore{}
	submitter := &fakeSubmitter{}
	recorder := telemetry.NewClient(telemetry.Options{})
	svc := New(Deps{
		Collector: collector,
		Catalog:   fakeCatalog{"goat", "complexshop", "universalstore"},
		Store:     store,
		Pipeline:  submitter,
		Cache:     cache,
		Recorder:  recorder,
	})
	return svc, collector, store, submitter, recorder
}

func TestListProviders(t *testing.T) {
	svc, _, _, _, _ := newTestService(nil)
	got := svc.ListProviders()
	want := []string{"complexshop", "goat", "universalstore"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("providers = %v, want %v", got, want)
		}
	}
}

func TestQueryProductsDefaultsToAllProviders(t *testing.T) {
	svc, collector, _, submitter, recorder := newTestService(nil)

	results, err := svc.QueryProducts(context.Background(), QueryRequest{Query: "dunk", Limit: 5})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(collector.providers) != 3 || collector.limit != 5 {
		t.Fatalf("collector got providers=%v limit=%d", collector.providers, collector.limit)
	}
	if len(results["goat"]) != 2 || len(results["complexshop"]) != 1 {
		t.Fatalf("unexpected results: %v", results)
	}
	if len(submitter.submitted) != 3 {
		t.Fatalf("submitted = %d, want 3", len(submitter.submitted))
	}

	var events []telemetry.Event
	for _, ev := range recorder.Snapshot() {
		if ev.Name == "api.products" {
			events = append(events, ev)
		}
	}
	if len(events) != 1 {
		t.Fatalf("api.products events = %d, want 1", len(events))
	}
	attrs := events[0].Attributes
	if attrs["count"] != 3 || attrs["query"] != "dunk" || attrs["client"] != "anonymous" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestQueryProductsValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr func(error) bool
	}{
		{
			name:    "limit too large",
			req:     QueryRequest{Limit: 101},
			wantErr: func(err error) bool { return errors.Is(err, ErrInvalidLimit) },
		},
		{
			name:    "negative limit",
			req:     QueryRequest{Limit: -1},
			wantErr: func(err error) bool { return errors.Is(err, ErrInvalidLimit) },
		},
		{
			name: "unknown provider",
			req:  QueryRequest{Providers: []string{"goat", "ebay"}},
			wantErr: func(err error) bool {
				var unknown *scraper.UnknownProviderError
				return errors.As(err, &unknown) && unknown.Name == "ebay"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, collector, _, _, _ := newTestService(nil)
			_, err := svc.QueryProducts(context.Background(), tt.req)
			if !tt.wantErr(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if collector.calls != 0 {
				t.Fatalf("collector should not run on invalid input")
			}
		})
	}
}

func TestQueryProductsDedupesProviders(t *testing.T) {
	svc, collector, _, _, _ := newTestService(nil)
	if _, err := svc.QueryProducts(context.Background(), QueryRequest{Providers: []string{"goat", "goat"}}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(collector.providers) != 1 {
		t.Fatalf("providers = %v, want [goat]", collector.providers)
	}
}

func TestQueryProductsUsesResultCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc, collector, _, submitter, _ := newTestService(NewLRUCache(8, time.Minute))
	svc.deps.Metrics = metrics

	req := QueryRequest{Providers: []string{"goat", "complexshop"}, Query: "q", Limit: 10}
	if _, err := svc.QueryProducts(context.Background(), req); err != nil {
		t.Fatalf("first query: %v", err)
	}
	req.Providers = []string{"complexshop", "goat"}
	results, err := svc.QueryProducts(context.Background(), req)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if collector.calls != 1 {
		t.Fatalf("collector calls = %d, want 1 with a warm cache", collector.calls)
	}
	if len(results["goat"]) != 2 {
		t.Fatalf("cached results = %v", results)
	}
	if len(submitter.submitted) != 3 {
		t.Fatalf("cache hits should not be resubmitted, submitted=%d", len(submitter.submitted))
	}
	if got := testutil.ToFloat64(metrics.CacheLookupsTotal.WithLabelValues("hit")); got != 1 {
		t.Fatalf("cache hits = %v, want 1", got)
	}

	req.Limit = 11
	if _, err := svc.QueryProducts(context.Background(), req); err != nil {
		t.Fatalf("third query: %v", err)
	}
	if collector.calls != 2 {
		t.Fatalf("a different limit must miss the cache")
	}
}

func TestQueryCachedProducts(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		limit     int
		wantLimit int
		wantErr   error
		unknown   bool
	}{
		{name: "default limit", limit: 0, wantLimit: DefaultCachedLimit},
		{name: "explicit limit", provider: "goat", limit: 500, wantLimit: 500},
		{name: "limit too large", limit: 501, wantErr: ErrInvalidLimit},
		{name: "negative limit", limit: -5, wantErr: ErrInvalidLimit},
		{name: "unknown provider", provider: "ebay", limit: 10, unknown: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, store, _, _ := newTestService(nil)
			products, err := svc.QueryCachedProducts(context.Background(), tt.provider, tt.limit)
			switch {
			case tt.unknown:
				var unknown *scraper.UnknownProviderError
				if !errors.As(err, &unknown) {
					t.Fatalf("expected UnknownProviderError, got %v", err)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("query cached: %v", err)
				}
				if store.limit != tt.wantLimit || store.provider != tt.provider {
					t.Fatalf("store got provider=%q limit=%d", store.provider, store.limit)
				}
				if len(products) != 1 {
					t.Fatalf("products = %v", products)
				}
			}
		})
	}
}

func TestLRUCacheExpires(t *testing.T) {
	cache := NewLRUCache(4, 20*time.Millisecond)
	ctx := context.Background()
	cache.Set(ctx, "k", map[string][]models.Product{"goat": {}})
	if _, ok := cache.Get(ctx, "k"); !ok {
		t.Fatalf("expected a fresh entry")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestCacheKeyIgnoresProviderOrder(t *testing.T) {
	a := cacheKey([]string{"goat", "complexshop"}, "q", 1)
	b := cacheKey([]string{"complexshop", "goat"}, "q", 1)
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a == cacheKey([]string{"goat", "complexshop"}, "q2", 1) {
		t.Fatalf("query must be part of the key")
	}
}

func TestRedisCacheFailuresAreMisses(t *testing.T) {
	if _, err := NewRedisCache("not a url", time.Minute, nil); err == nil {
		t.Fatalf("expected parse error")
	}

	cache, err := NewRedisCache("redis://127.0.0.1:1/0", time.Minute, nil)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cache.Set(ctx, "k", map[string][]models.Product{})
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Fatalf("unreachable redis must behave as a miss")
	}
}
