package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelguard/drift-engine/internal/alerting"
	"github.com/modelguard/drift-engine/internal/baseline"
	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/models"
	"github.com/modelguard/drift-engine/internal/storage"
	"github.com/modelguard/drift-engine/internal/worker"
)

// Handler contains all API handlers.
type Handler struct {
	config    *config.Config
	logger    *zap.Logger
	stores    *storage.Stores
	baselines *baseline.Store
	alerts    *alerting.Manager
	worker    *worker.Worker
	health    func() error
}

// NewHandler creates a new API handler.
func NewHandler(
	cfg *config.Config,
	logger *zap.Logger,
	stores *storage.Stores,
	baselines *baseline.Store,
	alerts *alerting.Manager,
	drift *worker.Worker,
	health func() error,
) *Handler {
	return &Handler{
		config:    cfg,
		logger:    logger,
		stores:    stores,
		baselines: baselines,
		alerts:    alerts,
		worker:    drift,
		health:    health,
	}
}

// Health returns service health status.
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if h.health != nil {
		if err := h.health(); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			h.logger.Error("Health check failed", zap.Error(err))
		}
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// ListSnapshots returns recent drift snapshots for a model, newest first.
func (h *Handler) ListSnapshots(c *gin.Context) {
	modelID := c.Param("id")

	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid hours parameter"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	snapshots, err := h.stores.Snapshots.List(c.Request.Context(), modelID, since, limit)
	if err != nil {
		h.logger.Error("Failed to list snapshots", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve snapshots"})
		return
	}
	if snapshots == nil {
		snapshots = []*models.DriftSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

// ListAlerts returns alerts for a model with optional severity and
// resolution filters.
func (h *Handler) ListAlerts(c *gin.Context) {
	modelID := c.Param("id")

	var filter storage.AlertFilter
	if raw := c.Query("severity"); raw != "" {
		severity := models.Severity(raw)
		if severity != models.SeverityStable && severity != models.SeverityWarning && severity != models.SeverityCritical {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid severity parameter"})
			return
		}
		filter.Severity = &severity
	}
	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid resolved parameter"})
			return
		}
		filter.Resolved = &resolved
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}
	filter.Limit = limit

	alerts, err := h.stores.Alerts.List(c.Request.Context(), modelID, filter)
	if err != nil {
		h.logger.Error("Failed to list alerts", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alerts"})
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// ResolveAlert marks an alert resolved with an optional note.
func (h *Handler) ResolveAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert ID"})
		return
	}

	var req struct {
		Note string `json:"note"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	alert, err := h.alerts.Resolve(c.Request.Context(), id, req.Note)
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	case errors.Is(err, models.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "Alert already resolved", "alert": alert})
		return
	case err != nil:
		h.logger.Error("Failed to resolve alert", zap.String("alert_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve alert"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

// ModelStatus summarizes the latest drift position of a model.
func (h *Handler) ModelStatus(c *gin.Context) {
	modelID := c.Param("id")
	ctx := c.Request.Context()

	snapshot, err := h.stores.Snapshots.Latest(ctx, modelID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		h.logger.Error("Failed to load latest snapshot", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve status"})
		return
	}

	openCounts, err := h.stores.Alerts.CountOpen(ctx, modelID)
	if err != nil {
		h.logger.Error("Failed to count open alerts", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve status"})
		return
	}

	status := gin.H{
		"model_id":    modelID,
		"open_alerts": openCounts,
	}
	if snapshot != nil {
		status["latest_snapshot"] = snapshot
		status["overall_status"] = snapshot.OverallStatus
		status["needs_retraining"] = snapshot.NeedsRetraining
	} else {
		status["overall_status"] = models.SeverityStable
		status["needs_retraining"] = false
	}
	if base, berr := h.baselines.Get(ctx, modelID); berr == nil {
		status["baseline_age_days"] = time.Since(base.CreatedAt).Hours() / 24
	}

	c.JSON(http.StatusOK, status)
}

// CreateRetrainRequest files a manual retraining request.
func (h *Handler) CreateRetrainRequest(c *gin.Context) {
	modelID := c.Param("id")

	var req struct {
		Reason      string `json:"reason" binding:"required"`
		RequestedBy string `json:"requested_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	request := &models.RetrainRequest{
		ModelID:     modelID,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
		RequestedAt: time.Now().UTC(),
		Status:      models.RetrainStatusPending,
	}
	if err := h.stores.Retrains.Create(c.Request.Context(), request); err != nil {
		h.logger.Error("Failed to create retrain request", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create retrain request"})
		return
	}
	c.JSON(http.StatusCreated, request)
}

// ListRetrainRequests returns recent retraining requests for a model.
func (h *Handler) ListRetrainRequests(c *gin.Context) {
	modelID := c.Param("id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}

	requests, err := h.stores.Retrains.List(c.Request.Context(), modelID, limit)
	if err != nil {
		h.logger.Error("Failed to list retrain requests", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve retrain requests"})
		return
	}
	if requests == nil {
		requests = []*models.RetrainRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"retrain_requests": requests})
}

// PutBaseline creates or replaces the baseline for a model from a set
// of reference samples.
func (h *Handler) PutBaseline(c *gin.Context) {
	modelID := c.Param("id")

	var req struct {
		FeatureNames        []string                   `json:"feature_names" binding:"required"`
		ProtectedAttributes []string                   `json:"protected_attributes"`
		FeatureImportance   map[string]float64         `json:"feature_importance"`
		Samples             []*models.EvaluationRecord `json:"samples" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	base, err := h.baselines.CreateOrReplace(c.Request.Context(), baseline.CreateOrReplaceParams{
		ModelID:             modelID,
		Samples:             req.Samples,
		FeatureNames:        req.FeatureNames,
		ProtectedAttributes: req.ProtectedAttributes,
		FeatureImportance:   req.FeatureImportance,
	})
	switch {
	case errors.Is(err, models.ErrInsufficientData):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to create baseline", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create baseline"})
		return
	}
	c.JSON(http.StatusOK, base)
}

// ExportBaseline returns the baseline document for backup or migration.
func (h *Handler) ExportBaseline(c *gin.Context) {
	modelID := c.Param("id")

	doc, err := h.baselines.Export(c.Request.Context(), modelID)
	switch {
	case errors.Is(err, models.ErrBaselineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Baseline not found"})
		return
	case err != nil:
		h.logger.Error("Failed to export baseline", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export baseline"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// ImportBaseline restores a previously exported baseline document.
func (h *Handler) ImportBaseline(c *gin.Context) {
	doc, err := c.GetRawData()
	if err != nil || len(doc) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing baseline document"})
		return
	}

	base, err := h.baselines.Import(c.Request.Context(), doc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, base)
}

// TriggerCycle runs one drift evaluation cycle synchronously.
func (h *Handler) TriggerCycle(c *gin.Context) {
	modelID := c.Param("id")

	var req struct {
		Mode string `json:"mode"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	mode := worker.ModeStreaming
	switch req.Mode {
	case "", string(worker.ModeStreaming):
	case string(worker.ModeBatch):
		mode = worker.ModeBatch
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mode parameter"})
		return
	}

	result, err := h.worker.RunCycle(c.Request.Context(), modelID, mode)
	if err != nil {
		if errors.Is(err, models.ErrBaselineNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No baseline for model"})
			return
		}
		h.logger.Error("Manual cycle failed", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cycle failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
