package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/tracking"
)

// staleCutoff is how old a non-terminal batch must be to count as stale.
const staleCutoff = 24 * time.Hour

type BatchHandler struct {
	svc        *tracking.Service
	dispatcher *tracking.FileDispatcher
	logger     logger.Logger
}

func NewBatchHandler(svc *tracking.Service, dispatcher *tracking.FileDispatcher, log logger.Logger) *BatchHandler {
	return &BatchHandler{
		svc:        svc,
		dispatcher: dispatcher,
		logger:     log,
	}
}

type dispatchRequest struct {
	TaskName string `json:"task_name"`
	FilePath string `json:"file_path" binding:"required"`
}

// Dispatch fans a tracking spreadsheet out into a new batch.
func (h *BatchHandler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body",
			logger.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	var kind pipeline.Kind
	if req.TaskName != "" {
		parsed, err := pipeline.Parse(req.TaskName)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown task name", "details": err.Error()})
			return
		}
		kind = parsed
	}

	batch, importErrs, err := h.dispatcher.DispatchFile(c.Request.Context(), kind, req.FilePath)
	if err != nil {
		if errors.Is(err, tracking.ErrBatchInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "Batch already in flight for this file"})
			return
		}
		h.logger.Error("Failed to dispatch batch",
			logger.String("file_path", req.FilePath),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to dispatch batch"})
		return
	}

	h.logger.Info("Batch dispatched",
		logger.String("batch_uuid", batch.BatchUUID.String()),
		logger.String("file_path", req.FilePath),
		logger.Int("total_jobs", batch.TotalJobs),
	)

	c.JSON(http.StatusCreated, gin.H{
		"batch":         batch,
		"import_errors": importErrs,
	})
}

// GetByToken resolves a batch by full UUID or 8-character short token.
func (h *BatchHandler) GetByToken(c *gin.Context) {
	token := c.Param("token")

	batch, err := h.svc.GetBatch(c.Request.Context(), token)
	if err != nil {
		h.logger.Debug("Batch not found",
			logger.String("token", token),
			logger.Error(err),
		)
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}

	c.JSON(http.StatusOK, batch)
}

// Summary returns the progress projection for a batch, including pending and
// failed custom ids.
func (h *BatchHandler) Summary(c *gin.Context) {
	token := c.Param("token")

	summary, err := h.svc.Summarize(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		h.logger.Error("Failed to summarize batch",
			logger.String("token", token),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize batch"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// List returns batches, optionally filtered by task_name, status and since.
func (h *BatchHandler) List(c *gin.Context) {
	var filter repository.ListFilter

	if taskName := c.Query("task_name"); taskName != "" {
		kind, err := pipeline.Parse(taskName)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown task name", "details": err.Error()})
			return
		}
		filter.Kind = kind
	}
	if status := c.Query("status"); status != "" {
		filter.Status = models.BatchStatus(status)
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = t
	}

	batches, err := h.svc.ListBatches(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list batches",
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list batches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"count":   len(batches),
	})
}

// ListStale returns batches that have sat non-terminal for too long.
func (h *BatchHandler) ListStale(c *gin.Context) {
	batches, err := h.svc.ListStaleBatches(c.Request.Context(), staleCutoff)
	if err != nil {
		h.logger.Error("Failed to list stale batches",
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list stale batches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"count":   len(batches),
	})
}
