// Package scheduler refreshes the product cache on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/telemetry"
)

// Collector gathers products from a set of providers.
type Collector interface {
	Collect(ctx context.Context, providers []string, query string, limit int) (map[string][]models.Product, error)
}

// Persister writes a batch and reports how many rows it touched.
type Persister interface {
	Persist(ctx context.Context, products []models.Product) (int, error)
}

// Options configures a Scheduler.
type Options struct {
	// Providers refreshed each cycle. Empty means every registered provider.
	Providers []string
	Interval  time.Duration
	Recorder  telemetry.Recorder
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Scheduler runs collect, persist and report cycles one after another.
type Scheduler struct {
	collector Collector
	persister Persister
	providers []string
	interval  time.Duration
	recorder  telemetry.Recorder
	logger    *slog.Logger
	metrics   *Metrics
}

// New builds a scheduler. A non-positive interval defaults to fifteen minutes.
func New(collector Collector, persister Persister, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	providers := make([]string, len(opts.Providers))
	copy(providers, opts.Providers)
	return &Scheduler{
		collector: collector,
		persister: persister,
		providers: providers,
		interval:  opts.Interval,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Run repeats cycles until ctx is cancelled. Failed cycles never stop the
// loop; the next cycle is the retry.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval.String())
	defer s.logger.Info("scheduler stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.RunOnce(ctx)
		timer.Reset(s.interval)
	}
}

// RunOnce performs a single cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (result models.CycleResult) {
	result.StartTime = time.Now()
	result.Providers = s.providers

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("cycle panic: %v", r)
			s.report("cycle", result.Err)
		}
		result.EndTime = time.Now()
		s.metrics.ObserveCycle(result.Err, result.Duration())
		s.logger.Info("refresh cycle finished",
			"succeeded", len(result.Succeeded),
			"failed", len(result.Failed),
			"collected", result.CollectedCount,
			"stored", result.StoredCount,
			"duration", result.Duration().String(),
		)
	}()

	results, err := s.collector.Collect(ctx, s.providers, "", 0)
	if err != nil {
		result.Err = err
		s.report("collect", err)
		return result
	}

	if len(result.Providers) == 0 {
		result.Providers = providerNames(results)
	}
	var batch []models.Product
	for _, name := range result.Providers {
		products, ok := results[name]
		if !ok {
			result.Failed = append(result.Failed, name)
			continue
		}
		result.Succeeded = append(result.Succeeded, name)
		batch = append(batch, products...)
	}
	result.CollectedCount = len(batch)

	stored, err := s.persister.Persist(ctx, batch)
	if err != nil {
		result.Err = err
		s.report("store", err)
	} else {
		result.StoredCount = stored
	}

	durationMS := float64(time.Since(result.StartTime).Microseconds()) / 1000
	telemetry.Emit(s.recorder, "scheduler.cycle", map[string]any{
		"providers":    result.Providers,
		"stored_count": result.StoredCount,
		"failed":       result.Failed,
		"duration_ms":  durationMS,
	})
	return result
}

func (s *Scheduler) report(stage string, err error) {
	s.logger.Error("refresh cycle failed", "stage", stage, "error", err)
	telemetry.Emit(s.recorder, "scheduler.error", map[string]any{
		"stage": stage,
		"error": err.Error(),
	})
}

func providerNames(results map[string][]models.Product) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
