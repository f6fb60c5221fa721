package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/tollgate/internal/metrics"
)

// Worker runs registered tasks on their own intervals.
type Worker struct {
	tasks  map[string]Task
	config Config
	logger *slog.Logger

	// Synchronization
	wg     sync.WaitGroup
	stopCh chan struct{}
	cancel context.CancelFunc
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		tasks:  make(map[string]Task),
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Register adds a task to the worker.
// The task's Name() must be unique. Call this before Start().
func (w *Worker) Register(task Task) error {
	name := task.Name()
	if task.Interval() <= 0 {
		return fmt.Errorf("task %s: interval must be positive, got %v", name, task.Interval())
	}
	if _, exists := w.tasks[name]; exists {
		w.logger.Warn("Overwriting existing task", "task", name)
	}
	w.tasks[name] = task
	w.logger.Debug("Registered task", "task", name, "interval", task.Interval())
	return nil
}

// Start launches one goroutine per registered task.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for _, task := range w.tasks {
		w.wg.Add(1)
		go w.runTask(ctx, task)
	}

	w.logger.Info("Worker started", "tasks", len(w.tasks))
}

// Stop signals all tasks to stop and waits for them to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopCh)

	// Wait for tasks with timeout
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, canceling running tasks")
	}

	if w.cancel != nil {
		w.cancel()
	}
}

// runTask is the main loop for a task goroutine.
// It runs the task on every tick until stopCh is closed.
func (w *Worker) runTask(ctx context.Context, task Task) {
	defer w.wg.Done()

	logger := w.logger.With("task", task.Name())
	logger.Debug("Task loop started")

	if w.config.RunOnStart {
		if stop := w.execute(ctx, task, logger); stop {
			return
		}
	}

	ticker := time.NewTicker(task.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			logger.Debug("Task loop stopping")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := w.execute(ctx, task, logger); stop {
				return
			}
		}
	}
}

// execute runs the task once with a timeout context.
// It returns true if the task must not be scheduled again.
func (w *Worker) execute(ctx context.Context, task Task, logger *slog.Logger) bool {
	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := task.Run(taskCtx)
	if err == nil {
		metrics.TaskCompleted(task.Name(), time.Since(start))
		logger.Debug("Task completed", "duration", time.Since(start))
		return false
	}

	metrics.TaskFailed(task.Name())
	if IsPermanent(err) {
		logger.Error("Task failed with permanent error, will not run again", "error", err)
		return true
	}
	logger.Error("Task failed", "error", err)
	return false
}
