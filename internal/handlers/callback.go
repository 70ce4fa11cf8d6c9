package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/tracking"
)

type CallbackHandler struct {
	svc    *tracking.Service
	logger logger.Logger
}

func NewCallbackHandler(svc *tracking.Service, log logger.Logger) *CallbackHandler {
	return &CallbackHandler{
		svc:    svc,
		logger: log,
	}
}

// Receive ingests one scrape-provider webhook. Duplicate deliveries get the
// same 200 as the first; the provider must not retry them.
func (h *CallbackHandler) Receive(c *gin.Context) {
	var cb tracking.Callback
	if err := c.ShouldBindJSON(&cb); err != nil {
		h.logger.Debug("Invalid callback body",
			logger.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.svc.HandleCallback(c.Request.Context(), cb); err != nil {
		if errors.Is(err, tracking.ErrUnresolvedCallback) {
			h.logger.Warn("Callback matches no job",
				logger.String("custom_id", cb.CustomID),
				logger.String("job_id", cb.ProviderJobID),
			)
			c.JSON(http.StatusNotFound, gin.H{"error": "Callback matches no job"})
			return
		}
		h.logger.Error("Failed to process callback",
			logger.String("custom_id", cb.CustomID),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process callback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
