package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
)

type AuditHandler struct {
	repo   *repository.AuditRepository
	logger logger.Logger
}

func NewAuditHandler(repo *repository.AuditRepository, log logger.Logger) *AuditHandler {
	return &AuditHandler{
		repo:   repo,
		logger: log,
	}
}

// List returns audit entries, optionally filtered by operation, success and
// since.
func (h *AuditHandler) List(c *gin.Context) {
	var filter repository.AuditFilter

	if op := c.Query("operation"); op != "" {
		filter.Operation = models.AuditOperation(op)
	}
	if success := c.Query("success"); success != "" {
		v := success == "true"
		filter.Success = &v
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = t
	}

	entries, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list audit entries",
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit entries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
