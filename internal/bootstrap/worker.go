package bootstrap

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/scheduler"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/tracking"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/webdav"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/writeback"
)

// StartWorker initializes and runs the task queue worker: writeback and
// publish task handlers plus the periodic lock sweep.
func StartWorker() error {
	// Phase 1: Load config and create logger
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := CreateLogger(cfg, "tracking-worker", version)
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

	// Phase 4: Wire the tracking core and writeback coordinator
	sched := scheduler.NewAsynqScheduler(cfg.Redis, log)
	defer func() {
		if closeErr := sched.Close(); closeErr != nil {
			log.Error("Failed to close scheduler", logger.Error(closeErr))
		}
	}()

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
	coordinator := writeback.NewCoordinator(batchRepo, jobRepo, auditRepo, davClient, cfg.Tracking, log)
	provider := tracking.NewHTTPProvider(cfg.Tracking, log)

	handlers := scheduler.Handlers{
		Writeback: func(ctx context.Context, payload scheduler.WritebackPayload) error {
			batchUUID, parseErr := uuid.Parse(payload.BatchUUID)
			if parseErr != nil {
				return fmt.Errorf("parse batch uuid %q: %w", payload.BatchUUID, parseErr)
			}
			_, wbErr := coordinator.WritebackBatch(ctx, batchUUID, payload.Final)
			return wbErr
		},
		Publish: func(ctx context.Context, payload scheduler.PublishPayload) error {
			return svc.Publish(ctx, provider, payload)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Phase 5: Periodic lock sweep
	go runLockSweep(ctx, lockRepo, cfg.Tracking.SweepInterval, log)

	// Phase 6: Run the queue worker
	server := scheduler.NewServer(cfg, handlers, log)
	go func() {
		<-ctx.Done()
		log.Info("Shutdown signal received")
		server.Shutdown()
	}()

	if runErr := server.Run(); runErr != nil {
		return fmt.Errorf("worker error: %w", runErr)
	}

	log.Info("Worker exited")
	return nil
}

// runLockSweep clears expired record leases on a fixed interval until the
// context is cancelled.
func runLockSweep(ctx context.Context, locks *repository.LockRepository, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleared, err := locks.SweepExpired(ctx)
			if err != nil {
				log.Error("Lock sweep failed", logger.Error(err))
				continue
			}
			if cleared > 0 {
				log.Info("Lock sweep cleared expired leases", logger.Int64("cleared", cleared))
			}
		}
	}
}
