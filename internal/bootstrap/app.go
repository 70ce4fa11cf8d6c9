// Package bootstrap handles application initialization and lifecycle
// management for the tracking coordination service.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/api"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/intake"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/scheduler"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/tracking"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/webdav"
)

const version = "dev"

const shutdownTimeout = 10 * time.Second

// Start initializes and starts the tracking API service.
func Start() error {
	// Phase 1: Load config and create logger
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := CreateLogger(cfg, "tracking-api", version)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// Phase 2: Setup database
	db, err := SetupDatabase(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Failed to close database", logger.Error(closeErr))
		}
	}()

	// Phase 3: Setup event publisher (optional)
	publisher := SetupEventPublisher(cfg, log)

	// Phase 4: Setup task scheduler
	sched := scheduler.NewAsynqScheduler(cfg.Redis, log)
	defer func() {
		if closeErr := sched.Close(); closeErr != nil {
			log.Error("Failed to close scheduler", logger.Error(closeErr))
		}
	}()

	// Phase 5: Wire the tracking core
	batchRepo := repository.NewBatchRepository(db.DB(), log)
	jobRepo := repository.NewJobRepository(db.DB(), log)
	auditRepo := repository.NewAuditRepository(db.DB(), log)
	lockRepo := repository.NewLockRepository(db.DB(), cfg.Tracking.LockLeaseTimeout, log)

	var events tracking.EventPublisher
	if publisher != nil {
		events = publisher
	}
	svc := tracking.NewService(batchRepo, jobRepo, auditRepo, sched, events, cfg.Tracking, log)

	davClient := webdav.NewClient(cfg.WebDAV, log)
	dispatcher := tracking.NewFileDispatcher(svc, davClient, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Phase 6: Optional intake watcher
	if cfg.Intake.Enabled {
		watcher := intake.NewWatcher(cfg.Intake.Dir, dispatcher, log)
		go func() {
			if watchErr := watcher.Run(ctx); watchErr != nil && ctx.Err() == nil {
				log.Error("Intake watcher stopped", logger.Error(watchErr))
			}
		}()
	}

	// Phase 7: Run HTTP server
	router := api.NewRouter(api.Deps{
		Tracking:    svc,
		Dispatcher:  dispatcher,
		Locks:       lockRepo,
		Audit:       auditRepo,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server",
			logger.String("host", cfg.Server.Host),
			logger.Int("port", cfg.Server.Port),
		)
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case serveErr := <-errCh:
		log.Error("Server error", logger.Error(serveErr))
		return fmt.Errorf("server error: %w", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("server shutdown: %w", shutdownErr)
	}

	log.Info("Server exited")
	return nil
}
