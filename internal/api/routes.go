// Package api exposes the read/admin HTTP surface of the drift engine.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/modelguard/drift-engine/internal/alerting"
	"github.com/modelguard/drift-engine/internal/baseline"
	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/storage"
	"github.com/modelguard/drift-engine/internal/worker"
)

// SetupRouter wires the engine's HTTP surface.
func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	stores *storage.Stores,
	baselines *baseline.Store,
	alerts *alerting.Manager,
	drift *worker.Worker,
	registry *prometheus.Registry,
	health func() error,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(logger))

	handler := NewHandler(cfg, logger, stores, baselines, alerts, drift, health)

	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		models := v1.Group("/models")
		{
			models.GET("/:id/snapshots", handler.ListSnapshots)
			models.GET("/:id/alerts", handler.ListAlerts)
			models.GET("/:id/status", handler.ModelStatus)
			models.POST("/:id/retrain-requests", handler.CreateRetrainRequest)
			models.GET("/:id/retrain-requests", handler.ListRetrainRequests)
			models.PUT("/:id/baseline", handler.PutBaseline)
			models.GET("/:id/baseline/export", handler.ExportBaseline)
			models.POST("/:id/cycles", handler.TriggerCycle)
		}

		v1.POST("/alerts/:id/resolve", handler.ResolveAlert)
		v1.POST("/baselines/import", handler.ImportBaseline)
	}

	return router
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
