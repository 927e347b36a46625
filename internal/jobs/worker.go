// Package jobs runs recurring work such as periodic re-ingestion.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner performs one pass of recurring work.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) RunOnce(ctx context.Context) error { return f(ctx) }

// Worker runs a Runner once on start and then every interval. Passes never
// overlap: a pass that outlasts the interval delays the next one.
type Worker struct {
	name     string
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(name string, runner Runner, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		name:     name,
		runner:   runner,
		interval: interval,
		logger:   logger.With("worker", name),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called. Pass errors are
// logged and do not stop the worker.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneChan)

	w.logger.Info("worker.started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	pass := 0
	for {
		pass++
		w.runPass(ctx, pass)

		select {
		case <-ctx.Done():
			w.logger.Info("worker.stopped", "reason", "context cancelled")
			return
		case <-w.stopChan:
			w.logger.Info("worker.stopped", "reason", "stop signal")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) runPass(ctx context.Context, pass int) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := w.runner.RunOnce(ctx); err != nil {
		w.logger.Error("worker.pass_failed", "pass", pass, "duration", time.Since(start), "error", err)
		return
	}
	w.logger.Info("worker.pass_done", "pass", pass, "duration", time.Since(start))
}

// Stop gracefully stops the worker and waits for the current pass.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
}
