package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/modelguard/drift-engine/internal/alerting"
	"github.com/modelguard/drift-engine/internal/api"
	"github.com/modelguard/drift-engine/internal/baseline"
	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/drift"
	"github.com/modelguard/drift-engine/internal/metrics"
	"github.com/modelguard/drift-engine/internal/notification"
	"github.com/modelguard/drift-engine/internal/storage"
	"github.com/modelguard/drift-engine/internal/worker"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	logger := initLogger()
	defer logger.Sync()

	logger.Info("Starting drift engine", zap.String("config_path", configPath))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Environment))

	db, err := storage.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	stores := storage.NewStores(db)
	thresholds := drift.ThresholdsFromConfig(&cfg.Drift)

	baselines := baseline.NewStore(&cfg.Baseline, stores.Baselines, logger)
	alerts := alerting.NewManager(&cfg.Alerting, thresholds, stores.Alerts, stores.Retrains, logger)

	registry := prometheus.NewRegistry()
	exporter := metrics.NewExporter(registry)

	var channels []notification.Channel
	if cfg.Kafka.Enabled {
		channels = append(channels, notification.NewKafkaChannel(&cfg.Kafka))
	}
	if cfg.Notification.WebhookURL != "" {
		channels = append(channels, notification.NewWebhookChannel(cfg.Notification.WebhookURL, cfg.Notification.HTTPTimeout))
	}
	dispatcher := notification.NewDispatcher(cfg.Notification.QueueSize, channels, logger)

	var locker worker.Locker = worker.NewProcessLocker()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		defer client.Close()
		locker = worker.NewRedisLocker(client, cfg.Redis.LockTTL)
		logger.Info("Cross-process cycle lock enabled",
			zap.String("redis", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)))
	}

	driftWorker := worker.New(
		&cfg.Worker, &cfg.Retention, thresholds,
		baselines, stores, alerts, exporter, dispatcher, locker, logger,
	)

	router := api.SetupRouter(cfg, logger, stores, baselines, alerts, driftWorker, registry, db.Health)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runCycles(ctx, driftWorker, cfg, logger)

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("Notification dispatcher shutdown failed", zap.Error(err))
	}
	logger.Info("Drift engine stopped")
}

// runCycles drives the streaming and batch sweeps over every model that
// has a baseline. The batch sweep also prunes old snapshots and alerts.
func runCycles(ctx context.Context, w *worker.Worker, cfg *config.Config, logger *zap.Logger) {
	streaming := time.NewTicker(cfg.Worker.StreamingInterval)
	defer streaming.Stop()
	batch := time.NewTicker(cfg.Worker.BatchInterval)
	defer batch.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-streaming.C:
			sweep(ctx, w, worker.ModeStreaming, logger)
		case <-batch.C:
			sweep(ctx, w, worker.ModeBatch, logger)
		}
	}
}

func sweep(ctx context.Context, w *worker.Worker, mode worker.Mode, logger *zap.Logger) {
	results, err := w.RunAll(ctx, mode)
	if err != nil {
		logger.Error("Drift sweep finished with errors",
			zap.String("mode", string(mode)),
			zap.Error(err))
	}
	completed, skipped, failed := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case worker.CycleCompleted:
			completed++
		case worker.CycleSkipped:
			skipped++
		case worker.CycleFailed:
			failed++
		}
	}
	logger.Info("Drift sweep finished",
		zap.String("mode", string(mode)),
		zap.Int("completed", completed),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
}

// initLogger initializes the application logger.
func initLogger() *zap.Logger {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	var logger *zap.Logger
	var err error

	if env == "production" {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		logger, err = config.Build()
	} else {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		logger, err = config.Build()
	}

	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	return logger
}
