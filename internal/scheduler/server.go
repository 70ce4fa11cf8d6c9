package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
)

// Handlers are the worker-side functions the queue dispatches into.
type Handlers struct {
	Writeback func(ctx context.Context, payload WritebackPayload) error
	Publish   func(ctx context.Context, payload PublishPayload) error
}

// Server consumes queued tasks. Errors returned by handlers feed asynq's
// own retry and dead-letter policy; the reducer relies on that for its
// fail-loud contract.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger logger.Logger
}

func NewServer(cfg *config.Config, handlers Handlers, log logger.Logger) *Server {
	server := asynq.NewServer(RedisOpt(cfg.Redis), asynq.Config{
		Concurrency: cfg.Tracking.WorkerConcurrency,
		Queues:      map[string]int{"default": 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeWriteback, func(ctx context.Context, t *asynq.Task) error {
		var payload WritebackPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode writeback payload: %w", err)
		}
		return handlers.Writeback(ctx, payload)
	})
	mux.HandleFunc(TypePublish, func(ctx context.Context, t *asynq.Task) error {
		var payload PublishPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode publish payload: %w", err)
		}
		return handlers.Publish(ctx, payload)
	})

	return &Server{
		server: server,
		mux:    mux,
		logger: log,
	}
}

// Run blocks until Shutdown.
func (s *Server) Run() error {
	s.logger.Info("Starting task queue worker")
	if err := s.server.Run(s.mux); err != nil {
		return fmt.Errorf("run task queue worker: %w", err)
	}
	return nil
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}
