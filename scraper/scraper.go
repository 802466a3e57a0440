// Package scraper holds the provider adapters, the registry that names them
// and the collector that fans out across them.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/telemetry"
	"github.com/gocolly/colly/v2"
)

// Adapter fetches and normalizes products from one provider. An empty query
// means "no query" and a non-positive limit means "no limit".
type Adapter interface {
	Name() string
	Collect(ctx context.Context, query string, limit int) ([]models.Product, error)
}

// Options configures the HTTP client shared by all adapters.
type Options struct {
	Timeout        time.Duration
	UserAgent      string
	MaxConnections int
	Transport      http.RoundTripper
	Recorder       telemetry.Recorder
	Metrics        *Metrics
}

func newBaseCollector(opts Options) (*colly.Collector, error) {
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}

	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(opts.Timeout)

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxConnsPerHost:     maxConns,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	collector.WithTransport(transport)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: maxConns,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}
	return collector, nil
}

// fetcher is embedded by adapters. It owns the per-call collector clone,
// error classification and the fetch telemetry event.
type fetcher struct {
	provider  string
	collector *colly.Collector
	recorder  telemetry.Recorder
	metrics   *Metrics
}

func newFetcher(provider string, collector *colly.Collector, opts Options) fetcher {
	return fetcher{
		provider:  provider,
		collector: collector,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
	}
}

// visit issues a single GET on a fresh clone of the shared collector. setup
// registers the adapter's parsing callbacks on the clone.
func (f *fetcher) visit(ctx context.Context, target string, setup func(c *colly.Collector)) error {
	if err := ctx.Err(); err != nil {
		return &ScrapeError{Provider: f.provider, Err: err}
	}

	c := f.collector.Clone()
	c.Context = ctx

	var (
		statusCode  int
		callbackErr error
	)
	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		f.metrics.IncRequest(f.provider, "started")
	})
	c.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			f.metrics.ObserveDuration(f.provider, time.Since(start))
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		if callbackErr == nil {
			callbackErr = err
		}
	})
	setup(c)

	err := c.Visit(target)
	if err == nil {
		err = callbackErr
	}
	if err != nil {
		return f.fail(classifyError(err, statusCode), target)
	}
	f.metrics.IncRequest(f.provider, "completed")
	return nil
}

func (f *fetcher) fail(err error, target string) error {
	category := errorTypeLabel(err)
	slog.Error("provider request error",
		slog.String("provider", f.provider),
		slog.String("url", target),
		slog.String("category", category),
		slog.Any("error", err),
	)
	f.metrics.IncError(f.provider, category)
	return &ScrapeError{Provider: f.provider, Err: err}
}

// finish emits the fetch event with the pre-truncation count and applies
// the limit.
func (f *fetcher) finish(query string, products []models.Product, limit int) []models.Product {
	telemetry.Emit(f.recorder, "scraper.fetch", map[string]any{
		"provider": f.provider,
		"count":    len(products),
		"query":    query,
	})
	f.metrics.AddItems(f.provider, len(products))
	slog.Debug("provider fetch complete",
		slog.String("provider", f.provider),
		slog.Int("count", len(products)),
		slog.String("query", query),
	)
	return Truncate(products, limit)
}

// Truncate returns at most limit products, preserving order. A
// non-positive limit returns the input unchanged.
func Truncate(products []models.Product, limit int) []models.Product {
	if limit > 0 && len(products) > limit {
		return products[:limit]
	}
	return products
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusMultipleChoices:
			return ErrStatus{StatusCode: statusCode, Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
