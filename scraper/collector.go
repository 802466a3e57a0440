package scraper

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/telemetry"
)

// Collector runs several adapters concurrently. One provider failing never
// affects the others.
type Collector struct {
	registry *Registry
	recorder telemetry.Recorder
	metrics  *Metrics
}

// NewCollector wires a collector over registry.
func NewCollector(registry *Registry, recorder telemetry.Recorder, metrics *Metrics) *Collector {
	return &Collector{
		registry: registry,
		recorder: recorder,
		metrics:  metrics,
	}
}

// Registry exposes the registry the collector resolves names against.
func (c *Collector) Registry() *Registry {
	return c.registry
}

type outcome struct {
	provider string
	products []models.Product
	err      error
}

// Collect invokes the named providers in parallel (all providers when names
// is empty) and waits for every one of them. Unknown names are rejected
// before any adapter runs. Failed providers are omitted from the result and
// reported through telemetry.
func (c *Collector) Collect(ctx context.Context, providers []string, query string, limit int) (map[string][]models.Product, error) {
	adapters, err := c.registry.Resolve(providers)
	if err != nil {
		return nil, err
	}
	c.metrics.IncFanout()

	outcomes := make([]outcome, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = c.run(ctx, a, query, limit)
		}()
	}
	wg.Wait()

	results := make(map[string][]models.Product, len(outcomes))
	names := make([]string, 0, len(outcomes))
	failed := 0
	total := 0
	for _, o := range outcomes {
		names = append(names, o.provider)
		if o.err != nil {
			failed++
			slog.Warn("provider failed",
				slog.String("provider", o.provider),
				slog.Any("error", o.err),
			)
			telemetry.Emit(c.recorder, "scraper.error", map[string]any{
				"provider":   o.provider,
				"error":      o.err.Error(),
				"error_type": errorTypeLabel(o.err),
			})
			continue
		}
		if o.products == nil {
			o.products = []models.Product{}
		}
		results[o.provider] = o.products
		total += len(o.products)
	}

	telemetry.Emit(c.recorder, "collector.summary", map[string]any{
		"providers": names,
		"succeeded": len(results),
		"failed":    failed,
		"count":     total,
	})
	return results, nil
}

func (c *Collector) run(ctx context.Context, a Adapter, query string, limit int) (o outcome) {
	o.provider = a.Name()
	defer func() {
		if r := recover(); r != nil {
			o.products = nil
			o.err = &ScrapeError{Provider: o.provider, Err: errPanic{value: r}}
			c.metrics.IncError(o.provider, "panic")
		}
	}()
	o.products, o.err = a.Collect(ctx, query, limit)
	return o
}
