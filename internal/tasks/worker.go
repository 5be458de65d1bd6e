package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/rotator/internal/scheduler"
	"github.com/desertthunder/rotator/internal/shared"
)

// JobFunc is the body of a background job.
type JobFunc func(ctx context.Context) error

// Worker runs due scheduler jobs. A job never runs twice at the same time.
type Worker struct {
	scheduler *scheduler.Scheduler
	tick      time.Duration
	logger    *log.Logger
	now       func() time.Time

	mu      sync.Mutex
	jobs    map[string]JobFunc
	running map[string]bool
	lastErr map[string]error
	wg      sync.WaitGroup
}

// NewWorker creates a Worker polling s every tick.
func NewWorker(s *scheduler.Scheduler, tick time.Duration, logger *log.Logger) *Worker {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Worker{
		scheduler: s,
		tick:      tick,
		logger:    logger,
		now:       time.Now,
		jobs:      make(map[string]JobFunc),
		running:   make(map[string]bool),
		lastErr:   make(map[string]error),
	}
}

// Register attaches fn to the scheduler job name.
func (w *Worker) Register(name string, fn JobFunc) error {
	if _, err := w.scheduler.Get(name); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs[name] = fn
	return nil
}

// Scheduler returns the scheduler the worker polls.
func (w *Worker) Scheduler() *scheduler.Scheduler {
	return w.scheduler
}

// Run polls the scheduler until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "tick", w.tick, "jobs", len(w.jobs))

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	w.Dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("worker stopped")
			return nil
		case <-ticker.C:
			w.Dispatch(ctx)
		}
	}
}

// Dispatch starts every due job that is not already running and returns the names started.
func (w *Worker) Dispatch(ctx context.Context) []string {
	var started []string
	now := w.now()
	for _, job := range w.scheduler.Due(now) {
		fn, ok := w.claim(job.Name)
		if !ok {
			continue
		}
		// a run that finished since Due was read has already moved NextRun
		if current, err := w.scheduler.Get(job.Name); err != nil || current.NextRun.After(now) {
			w.release(job.Name)
			continue
		}

		started = append(started, job.Name)
		w.wg.Add(1)
		go func(name string) {
			defer w.wg.Done()
			_ = w.execute(ctx, name, fn)
		}(job.Name)
	}
	return started
}

// RunOnce starts the due jobs and waits for them to finish.
func (w *Worker) RunOnce(ctx context.Context) []string {
	started := w.Dispatch(ctx)
	w.wg.Wait()
	return started
}

// RunNow runs the named job synchronously regardless of its due time or enabled state.
func (w *Worker) RunNow(ctx context.Context, name string) error {
	if _, err := w.scheduler.Get(name); err != nil {
		return err
	}

	w.mu.Lock()
	_, registered := w.jobs[name]
	w.mu.Unlock()
	if !registered {
		return fmt.Errorf("%w: %s", shared.ErrJobNotRegistered, name)
	}

	fn, ok := w.claim(name)
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrJobRunning, name)
	}
	return w.execute(ctx, name, fn)
}

// Running reports whether the named job is in flight.
func (w *Worker) Running(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running[name]
}

// LastError returns the error of the named job's latest run, or nil.
func (w *Worker) LastError(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr[name]
}

// claim marks a registered job as running.
func (w *Worker) claim(name string) (JobFunc, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fn, ok := w.jobs[name]
	if !ok {
		w.logger.Debug("due job has no handler", "job", name)
		return nil, false
	}
	if w.running[name] {
		return nil, false
	}
	w.running[name] = true
	return fn, true
}

func (w *Worker) release(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running[name] = false
}

func (w *Worker) execute(ctx context.Context, name string, fn JobFunc) error {
	logger := shared.WithLogger(w.logger, "job", name)
	logger.Debug("job started")

	start := w.now()
	err := w.safeCall(ctx, fn)
	took := w.now().Sub(start)

	// the next run time must be in place before the job can be claimed again
	if recordErr := w.scheduler.RecordRun(name, took); recordErr != nil {
		logger.Error("failed to record run", "error", recordErr)
	}

	w.mu.Lock()
	w.running[name] = false
	w.lastErr[name] = err
	w.mu.Unlock()

	if err != nil {
		logger.Error("job failed", "duration", took, "error", err)
		return err
	}
	logger.Info("job finished", "duration", took)
	return nil
}

func (w *Worker) safeCall(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
