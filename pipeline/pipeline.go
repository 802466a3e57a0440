package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/parser"
)

var (
	// ErrPipelineClosed is returned when Persist or Submit is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when queued batches do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 30 * time.Second

// Upserter is the write side of the product store.
type Upserter interface {
	Upsert(ctx context.Context, products []models.Product) (int, error)
}

// Options tunes a Pipeline. Zero values fall back to defaults.
type Options struct {
	QueueSize int
	Logger    *slog.Logger
	Metrics   *Metrics
}

type outcome struct {
	n   int
	err error
}

type job struct {
	ctx      context.Context
	products []models.Product
	done     chan outcome
}

// Pipeline validates and de-duplicates product batches and hands them to
// the store from a single writer goroutine, so at most one upsert
// transaction is open at a time.
type Pipeline struct {
	store   Upserter
	jobs    chan job
	logger  *slog.Logger
	prom    *Metrics
	metrics metrics

	wg sync.WaitGroup

	mu      sync.Mutex // guards closed/started
	closed  bool
	started bool

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline in front of store.
func NewPipeline(store Upserter, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		jobs:     make(chan job, opts.QueueSize),
		logger:   opts.Logger,
		prom:     opts.Metrics,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Start launches the writer goroutine. Calling it twice is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.closed || p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.writer()
}

// Persist writes products and waits for the result. The returned count is
// the number of rows the store reported as inserted or updated.
func (p *Pipeline) Persist(ctx context.Context, products []models.Product) (int, error) {
	batch := p.prepare(products)
	if len(batch) == 0 {
		return 0, nil
	}

	done := make(chan outcome, 1)
	if err := p.enqueue(ctx, job{ctx: ctx, products: batch, done: done}); err != nil {
		return 0, err
	}

	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Submit queues products without waiting. Write failures are logged.
func (p *Pipeline) Submit(products []models.Product) error {
	batch := p.prepare(products)
	if len(batch) == 0 {
		return nil
	}
	return p.enqueue(context.Background(), job{ctx: context.Background(), products: batch})
}

// Close stops intake and waits for queued batches to be written.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.jobs)
	})

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(drainTimeout):
		return ErrPipelineCloseTimeout
	}
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				p.logger.Info("pipeline progress",
					"processed_products", m["processed_products"],
					"stored_rows", m["stored_rows"],
					"validation_errors", m["validation_errors"],
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) writer() {
	defer p.wg.Done()

	for j := range p.jobs {
		start := time.Now()
		n, err := p.store.Upsert(j.ctx, j.products)
		p.prom.ObserveBatch(err, n, time.Since(start))
		if err != nil {
			p.metrics.addFailure()
			if j.done == nil {
				p.logger.Error("persist batch failed", "products", len(j.products), "error", err)
			}
		} else {
			p.metrics.addStored(n)
			p.logger.Debug("persisted batch", "products", len(j.products), "rows", n)
		}
		if j.done != nil {
			j.done <- outcome{n: n, err: err}
		}
	}
}

// prepare drops invalid records and collapses repeated (provider, url) pairs,
// keeping the copy with the latest LastSeen at the position it first appeared.
func (p *Pipeline) prepare(products []models.Product) []models.Product {
	out := make([]models.Product, 0, len(products))
	index := make(map[string]int, len(products))

	for _, product := range products {
		if err := parser.ValidateProduct(&product); err != nil {
			p.metrics.addValidation("invalid_record")
			continue
		}
		key := product.Key()
		if i, ok := index[key]; ok {
			p.metrics.addValidation("duplicate_key")
			if product.LastSeen.After(out[i].LastSeen) {
				out[i] = product
			}
			continue
		}
		index[key] = len(out)
		out = append(out, product)
	}

	p.metrics.addProcessed(int64(len(out)))
	return out
}

func (p *Pipeline) enqueue(ctx context.Context, j job) (err error) {
	if p.isClosed() {
		return ErrPipelineClosed
	}
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- j:
		return nil
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	stored     int64
	failures   int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) addProcessed(n int64) {
	m.mu.Lock()
	m.processed += n
	m.mu.Unlock()
}

func (m *metrics) addStored(n int) {
	m.mu.Lock()
	m.stored += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addFailure() {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_products": m.processed,
		"stored_rows":        m.stored,
		"failed_batches":     m.failures,
		"validation_errors":  copyValidation,
	}
}
