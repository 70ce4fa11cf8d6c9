package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/handlers"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/tracking"
)

const (
	corsMaxAgeHours = 12
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Tracking    *tracking.Service
	Dispatcher  *tracking.FileDispatcher
	Locks       *repository.LockRepository
	Audit       *repository.AuditRepository
	CORSOrigins []string
	Logger      logger.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	// CORS middleware - must be first
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Content-Length", "Accept-Encoding",
			"X-CSRF-Token", "Authorization", "accept", "origin",
			"Cache-Control", "X-Requested-With",
		},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeHours * time.Hour,
	}))

	// Middleware
	router.Use(ginLogger(deps.Logger))
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1
	v1 := router.Group("/api/v1")
	batchHandler := handlers.NewBatchHandler(deps.Tracking, deps.Dispatcher, deps.Logger)
	callbackHandler := handlers.NewCallbackHandler(deps.Tracking, deps.Logger)
	lockHandler := handlers.NewLockHandler(deps.Locks, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.Audit, deps.Logger)

	// Batch endpoints
	batches := v1.Group("/batches")
	batches.POST("", batchHandler.Dispatch)
	batches.GET("", batchHandler.List)
	batches.GET("/stale", batchHandler.ListStale)
	batches.GET("/:token", batchHandler.GetByToken)
	batches.GET("/:token/summary", batchHandler.Summary)

	// Scrape-provider webhook
	v1.POST("/callbacks", callbackHandler.Receive)

	// Record lock endpoints for background workers
	locks := v1.Group("/locks")
	locks.POST("/acquire", lockHandler.Acquire)
	locks.POST("/release", lockHandler.Release)

	// Audit trail
	v1.GET("/audit", auditHandler.List)

	return router
}

func ginLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.Info("HTTP request",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", statusCode),
			logger.String("client_ip", c.ClientIP()),
			logger.Duration("duration", duration),
		)
	}
}
