package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-dispatch/config"
	"github.com/aluiziolira/go-dispatch/httpapi"
	"github.com/aluiziolira/go-dispatch/models"
	"github.com/aluiziolira/go-dispatch/pipeline"
	"github.com/aluiziolira/go-dispatch/ratelimit"
	"github.com/aluiziolira/go-dispatch/scheduler"
	"github.com/aluiziolira/go-dispatch/scraper"
	"github.com/aluiziolira/go-dispatch/service"
	"github.com/aluiziolira/go-dispatch/store"
	"github.com/aluiziolira/go-dispatch/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usage = `usage: dispatch [serve|refresh|export] [flags]

  serve     run the HTTP API and the background refresh loop (default)
  refresh   run one refresh cycle and print a summary
  export    write cached products to CSV, JSONL or both
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "Optional YAML config file")
	verbose := fs.Bool("v", false, "Enable verbose logging")
	httpAddr := fs.String("addr", "", "HTTP listen address (serve)")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus metrics listen address, empty keeps the configured value")
	format := fs.String("format", "csv", "Export format: csv, json, or dual (export)")
	output := fs.String("output", "products.csv", "Export file path (export)")
	provider := fs.String("provider", "", "Only export this provider (export)")
	limit := fs.Int("limit", 0, "Maximum rows to export, 0 for all (export)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "refresh":
		err = refresh(ctx, cfg, logger)
	case "export":
		err = export(ctx, cfg, *format, *output, *provider, *limit)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	if err != nil {
		slog.Error(command+" failed", slog.Any("error", err))
		return 1
	}
	return 0
}

// app holds the components shared by serve and refresh.
type app struct {
	cfg       *config.Config
	registry  *prometheus.Registry
	recorder  *telemetry.Client
	store     store.Store
	pipeline  *pipeline.Pipeline
	providers *scraper.Registry
	collector *scraper.Collector
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder := telemetry.NewClient(telemetry.Options{
		Endpoint:   cfg.TelemetryEndpoint,
		BufferSize: cfg.TelemetryBufferSize,
		Logger:     logger,
		Metrics:    telemetry.NewMetrics(reg),
	})

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	scraperMetrics := scraper.NewMetrics(reg)
	adapters, err := scraper.DefaultAdapters(scraper.Options{
		Timeout:        cfg.Timeout,
		UserAgent:      cfg.UserAgent,
		MaxConnections: cfg.MaxConnections,
		Recorder:       recorder,
		Metrics:        scraperMetrics,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build adapters: %w", err)
	}
	providers, err := scraper.NewRegistry(adapters...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build registry: %w", err)
	}
	collector := scraper.NewCollector(providers, recorder, scraperMetrics)

	p := pipeline.NewPipeline(st, pipeline.Options{
		Logger:  logger,
		Metrics: pipeline.NewMetrics(reg),
	})
	p.Start()

	sched := scheduler.New(collector, p, scheduler.Options{
		Providers: providers.Providers(),
		Interval:  cfg.RefreshInterval,
		Recorder:  recorder,
		Logger:    logger,
		Metrics:   scheduler.NewMetrics(reg),
	})

	return &app{
		cfg:       cfg,
		registry:  reg,
		recorder:  recorder,
		store:     st,
		pipeline:  p,
		providers: providers,
		collector: collector,
		scheduler: sched,
	}, nil
}

func (a *app) close() {
	if err := a.pipeline.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
	}
	if err := a.store.Close(); err != nil {
		slog.Error("store close failed", slog.Any("error", err))
	}
	a.recorder.Stop()
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	a.recorder.Start(context.Background())
	telemetry.Emit(a.recorder, "app.startup", map[string]any{"environment": cfg.Environment})

	var cache service.ResultCache
	switch {
	case cfg.QueryCacheTTL <= 0:
	case cfg.RedisURL != "":
		rc, err := service.NewRedisCache(cfg.RedisURL, cfg.QueryCacheTTL, logger)
		if err != nil {
			return err
		}
		defer rc.Close()
		cache = rc
	default:
		cache = service.NewLRUCache(cfg.QueryCacheSize, cfg.QueryCacheTTL)
	}

	svc := service.New(service.Deps{
		Collector: a.collector,
		Catalog:   a.providers,
		Store:     a.store,
		Pipeline:  a.pipeline,
		Cache:     cache,
		Recorder:  a.recorder,
		Logger:    logger,
		Metrics:   service.NewMetrics(a.registry),
	})

	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow, ratelimit.WithRegisterer(a.registry))
	router := httpapi.NewRouter(svc, httpapi.Options{
		AppName:        cfg.AppName,
		APIPrefix:      cfg.APIPrefix,
		APIKeys:        cfg.APIKeys,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		Logger:         logger,
		Metrics:        httpapi.NewMetrics(a.registry),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr), slog.Bool("auth", cfg.AuthEnabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	if cfg.Verbose {
		a.pipeline.StartMetricsReporting(time.Minute)
	}

	schedCtx, cancelSched := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		a.scheduler.Run(schedCtx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	case err = <-serverErr:
		slog.Error("http server failed", slog.Any("error", err))
	}

	cancelSched()
	<-schedDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}

	telemetry.Emit(a.recorder, "app.shutdown", nil)
	return err
}

func refresh(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	a.recorder.Start(context.Background())

	result := a.scheduler.RunOnce(ctx)
	printSummary(result, a.pipeline.GetMetrics())
	return result.Err
}

func export(ctx context.Context, cfg *config.Config, format, output, provider string, limit int) error {
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	products, err := st.List(ctx, provider, limit)
	if err != nil {
		return err
	}

	writer, err := pipeline.OpenWriter(format, output)
	if err != nil {
		return err
	}
	if err := writer.Write(products); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Validate(); err != nil {
		slog.Warn("export is empty", slog.String("provider", provider), slog.Any("error", err))
	}
	if err := writer.Close(); err != nil {
		return err
	}

	slog.Info("export complete",
		slog.Int("products", len(products)),
		slog.String("format", format),
		slog.String("output", output),
	)
	return nil
}

func printSummary(result models.CycleResult, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Refresh complete")

	fmt.Printf("  Providers:     %s\n", strings.Join(result.Providers, ", "))
	fmt.Printf("  Succeeded:     %d\n", len(result.Succeeded))
	if len(result.Failed) > 0 {
		fmt.Printf("  Failed:        %s\n", strings.Join(result.Failed, ", "))
	}
	fmt.Printf("  Collected:     %d\n", result.CollectedCount)
	fmt.Printf("  Stored:        %d\n", result.StoredCount)
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	if result.Err != nil {
		fmt.Printf("  Error:         %v\n", result.Err)
	}
	fmt.Printf("  Duration:      %v\n", result.Duration().Round(time.Millisecond))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
