// Package main runs the token harvester service:
// - Collector (continuous): adaptive sampling, snapshot collection, buffered writes
// - Discovery (continuous): new-token websocket feed into the watch list
// - Quality and drift checks (scheduled): dataset audits and retraining signals
// - HTTP: health, metrics, status, reports and the watch list API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"token-harvester/internal/collector"
	"token-harvester/internal/config"
	"token-harvester/internal/discovery"
	"token-harvester/internal/drift"
	"token-harvester/internal/events"
	"token-harvester/internal/logging"
	"token-harvester/internal/observability"
	"token-harvester/internal/provider"
	"token-harvester/internal/quality"
	"token-harvester/internal/sampler"
	"token-harvester/internal/schedule"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default $"+config.EnvConfigPath+")")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL and ClickHouse")
	metricsAddr := flag.String("metrics-addr", "", "HTTP listen address, overrides http.addr")
	flag.Parse()

	loadEnvFile()

	cfg, err := config.Load(*configPath)
	if *useMemory && errors.Is(err, config.ErrInvalid) {
		// The flag can rescue a config that only lacks database DSNs.
		cfg, err = loadWithMemory(*configPath)
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *useMemory {
		cfg.Storage.UseMemory = true
	}
	if *metricsAddr != "" {
		cfg.HTTP.Addr = *metricsAddr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("harvester stopped with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// loadWithMemory retries Load with storage forced to memory.
func loadWithMemory(path string) (*config.Config, error) {
	if err := os.Setenv(config.EnvPrefix+"STORAGE__USE_MEMORY", "true"); err != nil {
		return nil, err
	}
	return config.Load(path)
}

// Server holds every component of the running service.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	stores   *allStores
	bus      *events.Bus

	collector *collector.Collector
	quality   *quality.Checker
	drift     *drift.Monitor
	feed      *discovery.Feed
	jobs      []*schedule.Periodic

	startedAt time.Time
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer()

	stores, cleanup, err := createStores(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	s, err := newServer(cfg, stores, logger)
	if err != nil {
		return err
	}

	if cfg.Kafka.Enabled() {
		events.InstallSaramaLogger(logger)
		producer, err := events.NewSyncProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		sink := events.NewKafkaSink(producer, cfg.Kafka.Topic, logger)
		defer func() { _ = sink.Close() }()
		unsubscribe := s.bus.Subscribe(sink.Handle)
		defer unsubscribe()
		logger.Info("forwarding events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(cfg.HTTP.ShutdownTimeout):
			logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("timeout", cfg.HTTP.ShutdownTimeout))
			os.Exit(1)
		case <-done:
		}
	}()

	return s.Run(ctx)
}

func newServer(cfg *config.Config, stores *allStores, logger *zap.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("harvester", registry)
	bus := events.NewBus(logger)

	dex := provider.NewDexScreener(cfg.Providers.DexScreener, metrics, logger)
	var (
		secondary  provider.MarketDataProvider
		smartMoney provider.SmartMoneyProvider
	)
	if !cfg.Providers.DisableGMGN {
		gmgn := provider.NewGMGN(cfg.Providers.GMGN, metrics, logger)
		secondary, smartMoney = gmgn, gmgn
	}

	col, err := collector.New(collector.Options{
		Config:      cfg.Collector,
		Sampler:     sampler.New(cfg.Sampler),
		Primary:     dex,
		Secondary:   secondary,
		SmartMoney:  smartMoney,
		Snapshots:   stores.snapshots,
		TrainingRow: stores.rows,
		WatchList:   stores.watchList,
		Events:      bus,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create collector: %w", err)
	}

	checker := quality.New(quality.Options{
		Config:  cfg.Quality,
		Rows:    stores.rows,
		Reports: stores.reports,
		Events:  bus,
		Metrics: metrics,
		Logger:  logger,
	})
	monitor, err := drift.New(drift.Options{
		Config:    cfg.Drift,
		Rows:      stores.rows,
		Baselines: stores.baselines,
		Reports:   stores.reports,
		Events:    bus,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create drift monitor: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		metrics:   metrics,
		stores:    stores,
		bus:       bus,
		collector: col,
		quality:   checker,
		drift:     monitor,
		startedAt: time.Now(),
	}
	if cfg.Discovery.URL != "" {
		s.feed = discovery.NewFeed(cfg.Discovery, s.onNewToken, logger)
	}

	s.jobs = []*schedule.Periodic{
		schedule.New(schedule.Options{
			Name:     "quality",
			Interval: checker.Config().Interval,
			Timeout:  checker.Config().Interval / 2,
			Logger:   logger,
		}, checker.Run),
		schedule.New(schedule.Options{
			Name:     "drift",
			Interval: monitor.Config().Interval,
			Timeout:  monitor.Config().Interval / 2,
			Logger:   logger,
		}, monitor.Run),
	}
	return s, nil
}

// onNewToken feeds discovered tokens into the watch list.
func (s *Server) onNewToken(ctx context.Context, t discovery.NewToken) error {
	res, err := s.collector.AddToken(ctx, collector.TokenRequest{
		Mint:   t.Mint,
		Symbol: t.Symbol,
		Source: "discovery",
	})
	if err != nil {
		return err
	}
	if res.Added {
		s.logger.Debug("tracking discovered token", zap.String("mint", t.Mint), zap.String("symbol", t.Symbol))
	}
	return nil
}

// Run starts every component and blocks until ctx is done, then drains them.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting token harvester", zap.String("addr", s.cfg.HTTP.Addr),
		zap.Bool("memory_storage", s.cfg.Storage.UseMemory))

	if err := s.collector.Start(ctx); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}
	for _, j := range s.jobs {
		if err := j.Start(ctx); err != nil {
			return fmt.Errorf("start %s job: %w", j.Name(), err)
		}
	}

	errCh := make(chan error, 2)
	if s.feed != nil {
		go func() {
			if err := s.feed.Run(ctx); err != nil {
				errCh <- fmt.Errorf("discovery: %w", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: s.cfg.HTTP.ReadHeaderTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	for _, j := range s.jobs {
		j.Stop()
	}
	if err := s.collector.Stop(shutdownCtx); err != nil {
		s.logger.Error("collector stop", zap.Error(err))
	}
	return runErr
}

// loadEnvFile loads .env from the working directory if it exists.
// Variables already set in the environment win.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, strings.TrimSpace(value))
		}
	}
}
