// Package intake watches the WebDAV-synced drop directory and dispatches a
// batch whenever a pipeline's tracking spreadsheet lands in it.
package intake

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/tracking"
)

// settleDelay lets the sync client finish writing before the file is read.
const settleDelay = 2 * time.Second

// Watcher dispatches batches for spreadsheets dropped into a local mirror of
// the WebDAV tree. The file's path relative to the watch root doubles as its
// WebDAV path, so writebacks land on the same remote document.
type Watcher struct {
	dir        string
	dispatcher *tracking.FileDispatcher
	log        logger.Logger
}

func NewWatcher(dir string, dispatcher *tracking.FileDispatcher, log logger.Logger) *Watcher {
	return &Watcher{
		dir:        dir,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Run watches the drop directory until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("intake watcher started", logger.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.handleFile(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("intake watcher error", logger.Error(err))
		}
	}
}

func (w *Watcher) handleFile(ctx context.Context, path string) {
	name := filepath.Base(path)
	if !strings.HasSuffix(strings.ToLower(name), ".xlsx") || strings.HasPrefix(name, "~") {
		return
	}
	kind, ok := pipeline.KindForPath(name)
	if !ok {
		w.log.Debug("intake ignoring file, no pipeline claims it",
			logger.String("file", name))
		return
	}

	// The sync client may still be flushing the file.
	select {
	case <-ctx.Done():
		return
	case <-time.After(settleDelay):
	}

	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		rel = name
	}
	remotePath := filepath.ToSlash(rel)

	batch, importErrs, err := w.dispatcher.DispatchFile(ctx, kind, remotePath)
	if err != nil {
		if errors.Is(err, tracking.ErrBatchInFlight) {
			w.log.Debug("intake skipping file, batch already in flight",
				logger.String("file", remotePath))
			return
		}
		w.log.Error("intake dispatch failed",
			logger.String("file", remotePath),
			logger.Error(err))
		return
	}
	w.log.Info("intake dispatched batch",
		logger.String("file", remotePath),
		logger.String("batch", batch.ShortID()),
		logger.Int("jobs", batch.TotalJobs),
		logger.Int("rejected_rows", len(importErrs)))
}
