package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-flows/internal/api"
	"github.com/miradorstack/mirador-flows/internal/cache"
	"github.com/miradorstack/mirador-flows/internal/config"
	"github.com/miradorstack/mirador-flows/internal/engine"
	"github.com/miradorstack/mirador-flows/internal/flowstore"
	"github.com/miradorstack/mirador-flows/internal/metrics"
	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/playback"
	"github.com/miradorstack/mirador-flows/internal/repo"
	"github.com/miradorstack/mirador-flows/internal/scheduler"
	"github.com/miradorstack/mirador-flows/internal/services"
	"github.com/miradorstack/mirador-flows/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-flows", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
			PoolSize:     cfg.Cache.PoolSize,
			KeyPrefix:    cfg.Cache.KeyPrefix,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	telemetry := repo.NewTelemetryClient(repo.TelemetryOptions{
		BaseURL:           cfg.Clients.Telemetry.BaseURL,
		SearchPath:        cfg.Clients.Telemetry.SearchPath,
		EntityStatusPath:  cfg.Clients.Telemetry.EntityStatusPath,
		ConditionsPath:    cfg.Clients.Telemetry.ConditionsPath,
		IssuesPath:        cfg.Clients.Telemetry.IssuesPath,
		IncidentsPath:     cfg.Clients.Telemetry.IncidentsPath,
		Timeout:           cfg.Clients.Telemetry.Timeout,
		RequestsPerSecond: cfg.Clients.Telemetry.RequestsPerSecond,
		Burst:             cfg.Clients.Telemetry.Burst,
		Cache:             cacheProvider,
		ConditionTTL:      cfg.Cache.ConditionTTL,
		Logger:            logger,
	})

	limits := engine.Limits{
		Step: engine.Quota{Entity: cfg.Limits.MaxEntitiesInStep.Entity, Alert: cfg.Limits.MaxEntitiesInStep.Alert},
		Flow: engine.Quota{Entity: cfg.Limits.MaxEntitiesInFlow.Entity, Alert: cfg.Limits.MaxEntitiesInFlow.Alert},
	}
	pipeline := engine.NewPipeline(
		logger,
		engine.NewResolver(telemetry, logger),
		engine.NewClassifier(limits, cfg.Logging.Debug, logger),
		engine.NewFetcher(telemetry, cfg.Limits.MaxParamsInQuery, logger),
		engine.PipelineOptions{TimeRange: cfg.Polling.TimeRange},
	)

	poller := scheduler.New(pipeline.Refresh, scheduler.Options{
		Interval:    cfg.Polling.RefreshInterval,
		MinInterval: cfg.Polling.MinRefreshInterval,
		Logger:      logger,
	})
	if !poller.PollingEnabled() {
		logger.Info("polling disabled; status refreshes only on input changes",
			slog.Duration("refresh_interval", cfg.Polling.RefreshInterval),
			slog.Duration("min_refresh_interval", cfg.Polling.MinRefreshInterval),
		)
	}

	flowService := services.NewFlowStatusService(logger, pipeline, poller, nil)
	player := playback.NewController(pipeline, poller, flowService, playback.NewCache(), playback.Options{
		Concurrency: cfg.Playback.Concurrency,
		Logger:      logger,
	})
	flowService.SetPlayer(player)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := flowstore.New(cfg.Flow.Path, logger)
	flow, err := store.Load()
	if err != nil {
		logger.Error("failed to load flow document", slog.String("path", cfg.Flow.Path), slog.Any("error", err))
		os.Exit(1)
	}
	flowService.SetInputs(ctx, flow, cfg.Flow.Accounts)
	if cfg.Flow.Watch {
		go func() {
			if err := store.Watch(ctx, func(updated models.Flow) { flowService.SetFlow(ctx, updated) }); err != nil {
				logger.Warn("flow watcher stopped", slog.Any("error", err))
			}
		}()
	}

	server, err := api.NewServer(cfg.Server, flowService, logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)
	if err := poller.Stop(shutdownCtx); err != nil {
		logger.Warn("status cycle still running at shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-flows stopped")
}
