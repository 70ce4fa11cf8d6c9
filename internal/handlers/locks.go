package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
)

type LockHandler struct {
	repo   *repository.LockRepository
	logger logger.Logger
}

func NewLockHandler(repo *repository.LockRepository, log logger.Logger) *LockHandler {
	return &LockHandler{
		repo:   repo,
		logger: log,
	}
}

type acquireRequest struct {
	WorkerName           string `json:"worker_name" binding:"required"`
	TrackingNumberEmpty  bool   `json:"tracking_number_empty"`
	ShippedAtEmpty       bool   `json:"shipped_at_empty"`
	DeliveryStatusEquals string `json:"delivery_status_equals"`
	NotUpdatedWithinSecs int    `json:"not_updated_within_seconds"`
}

// Acquire leases one matching purchase order to the calling worker. An empty
// queue returns 204, not an error.
func (h *LockHandler) Acquire(c *gin.Context) {
	var req acquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	filter := repository.LockFilter{
		TrackingNumberEmpty:  req.TrackingNumberEmpty,
		ShippedAtEmpty:       req.ShippedAtEmpty,
		DeliveryStatusEquals: req.DeliveryStatusEquals,
		NotUpdatedWithin:     time.Duration(req.NotUpdatedWithinSecs) * time.Second,
	}

	order, err := h.repo.Acquire(c.Request.Context(), req.WorkerName, filter)
	if err != nil {
		h.logger.Error("Failed to acquire record lock",
			logger.String("worker", req.WorkerName),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to acquire lock"})
		return
	}
	if order == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, order)
}

type releaseRequest struct {
	WorkerName string `json:"worker_name" binding:"required"`
	OrderID    int64  `json:"order_id" binding:"required"`
}

// Release returns a lease. released=false means the lease had already
// expired and another worker reclaimed the record.
func (h *LockHandler) Release(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	released, err := h.repo.Release(c.Request.Context(), req.OrderID, req.WorkerName)
	if err != nil {
		h.logger.Error("Failed to release record lock",
			logger.String("worker", req.WorkerName),
			logger.Int64("order_id", req.OrderID),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to release lock"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": released})
}
