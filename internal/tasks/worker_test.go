package tasks

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/rotator/internal/scheduler"
	"github.com/desertthunder/rotator/internal/shared"
)

var start = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWorker(t *testing.T) (*Worker, *clock) {
	t.Helper()
	c := &clock{now: start}
	s := scheduler.NewWithClock(c.Now,
		scheduler.Definition{Name: scheduler.JobReshuffleDue, Cadence: time.Hour, Enabled: true},
		scheduler.Definition{Name: scheduler.JobRefreshTokens, Cadence: 30 * time.Minute, Enabled: true},
		scheduler.Definition{Name: scheduler.JobScaling, Cadence: 24 * time.Hour, Enabled: false},
	)
	w := NewWorker(s, time.Millisecond, shared.NewLogger(io.Discard))
	w.now = c.Now
	return w, c
}

func counter(n *atomic.Int32) JobFunc {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestWorker(t *testing.T) {
	t.Run("Register", func(t *testing.T) {
		w, _ := newTestWorker(t)

		if err := w.Register("nope", counter(new(atomic.Int32))); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		if err := w.Register(scheduler.JobReshuffleDue, counter(new(atomic.Int32))); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	})

	t.Run("RunOnce", func(t *testing.T) {
		t.Run("runs nothing before the first due time", func(t *testing.T) {
			w, _ := newTestWorker(t)
			var n atomic.Int32
			_ = w.Register(scheduler.JobReshuffleDue, counter(&n))

			if started := w.RunOnce(context.Background()); len(started) != 0 {
				t.Errorf("expected no jobs, got %v", started)
			}
			if n.Load() != 0 {
				t.Errorf("expected 0 runs, got %d", n.Load())
			}
		})

		t.Run("runs due jobs and records the run", func(t *testing.T) {
			w, c := newTestWorker(t)
			var sweeps, tokens atomic.Int32
			_ = w.Register(scheduler.JobReshuffleDue, counter(&sweeps))
			_ = w.Register(scheduler.JobRefreshTokens, counter(&tokens))

			c.Advance(45 * time.Minute)
			started := w.RunOnce(context.Background())
			if len(started) != 1 || started[0] != scheduler.JobRefreshTokens {
				t.Fatalf("expected only the token job, got %v", started)
			}
			if tokens.Load() != 1 || sweeps.Load() != 0 {
				t.Errorf("expected tokens=1 sweeps=0, got %d %d", tokens.Load(), sweeps.Load())
			}

			job, _ := w.Scheduler().Get(scheduler.JobRefreshTokens)
			if job.Runs != 1 {
				t.Errorf("expected 1 recorded run, got %d", job.Runs)
			}
			if want := c.Now().Add(30 * time.Minute); !job.NextRun.Equal(want) {
				t.Errorf("expected next run %v, got %v", want, job.NextRun)
			}

			c.Advance(15 * time.Minute)
			started = w.RunOnce(context.Background())
			if len(started) != 1 || started[0] != scheduler.JobReshuffleDue {
				t.Errorf("expected the sweep at the hour, got %v", started)
			}
		})

		t.Run("skips disabled jobs", func(t *testing.T) {
			w, _ := newTestWorker(t)
			var n atomic.Int32
			_ = w.Register(scheduler.JobScaling, counter(&n))
			_ = w.Scheduler().Trigger(scheduler.JobScaling)

			w.RunOnce(context.Background())
			if n.Load() != 0 {
				t.Errorf("expected disabled job to be skipped, ran %d times", n.Load())
			}
		})

		t.Run("skips due jobs without a handler", func(t *testing.T) {
			w, _ := newTestWorker(t)
			_ = w.Scheduler().Trigger(scheduler.JobReshuffleDue)

			if started := w.RunOnce(context.Background()); len(started) != 0 {
				t.Errorf("expected no jobs, got %v", started)
			}
		})

		t.Run("records failed runs", func(t *testing.T) {
			w, _ := newTestWorker(t)
			boom := errors.New("boom")
			_ = w.Register(scheduler.JobReshuffleDue, func(context.Context) error { return boom })
			_ = w.Scheduler().Trigger(scheduler.JobReshuffleDue)

			w.RunOnce(context.Background())
			if err := w.LastError(scheduler.JobReshuffleDue); !errors.Is(err, boom) {
				t.Errorf("expected boom, got %v", err)
			}
			job, _ := w.Scheduler().Get(scheduler.JobReshuffleDue)
			if job.Runs != 1 || job.LastRun == nil {
				t.Errorf("expected the failed run to be recorded, got %+v", job)
			}
		})

		t.Run("recovers from panics", func(t *testing.T) {
			w, _ := newTestWorker(t)
			_ = w.Register(scheduler.JobReshuffleDue, func(context.Context) error { panic("bad state") })
			_ = w.Scheduler().Trigger(scheduler.JobReshuffleDue)

			w.RunOnce(context.Background())
			err := w.LastError(scheduler.JobReshuffleDue)
			if err == nil || !strings.Contains(err.Error(), "bad state") {
				t.Errorf("expected panic to become an error, got %v", err)
			}
			if w.Running(scheduler.JobReshuffleDue) {
				t.Error("expected job to be released after panic")
			}
		})
	})

	t.Run("never runs a job twice at once", func(t *testing.T) {
		w, _ := newTestWorker(t)
		release := make(chan struct{})
		entered := make(chan struct{}, 2)
		var n atomic.Int32
		_ = w.Register(scheduler.JobReshuffleDue, func(context.Context) error {
			n.Add(1)
			entered <- struct{}{}
			<-release
			return nil
		})
		_ = w.Scheduler().Trigger(scheduler.JobReshuffleDue)

		first := w.Dispatch(context.Background())
		<-entered
		second := w.Dispatch(context.Background())

		if len(first) != 1 || len(second) != 0 {
			t.Errorf("expected one dispatch, got %v then %v", first, second)
		}
		if !w.Running(scheduler.JobReshuffleDue) {
			t.Error("expected job to be running")
		}
		if err := w.RunNow(context.Background(), scheduler.JobReshuffleDue); !errors.Is(err, shared.ErrJobRunning) {
			t.Errorf("expected ErrJobRunning, got %v", err)
		}

		close(release)
		w.wg.Wait()
		if n.Load() != 1 {
			t.Errorf("expected 1 run, got %d", n.Load())
		}
	})

	t.Run("finished job is not due again while being released", func(t *testing.T) {
		for range 50 {
			w, _ := newTestWorker(t)
			var n atomic.Int32
			_ = w.Register(scheduler.JobReshuffleDue, counter(&n))
			_ = w.Scheduler().Trigger(scheduler.JobReshuffleDue)

			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range 100 {
						w.Dispatch(context.Background())
					}
				}()
			}
			wg.Wait()
			w.wg.Wait()

			if n.Load() != 1 {
				t.Fatalf("expected a single run, got %d", n.Load())
			}
		}
	})

	t.Run("RunNow", func(t *testing.T) {
		t.Run("runs disabled jobs synchronously", func(t *testing.T) {
			w, _ := newTestWorker(t)
			var n atomic.Int32
			_ = w.Register(scheduler.JobScaling, counter(&n))

			if err := w.RunNow(context.Background(), scheduler.JobScaling); err != nil {
				t.Fatalf("RunNow failed: %v", err)
			}
			if n.Load() != 1 {
				t.Errorf("expected 1 run, got %d", n.Load())
			}
			job, _ := w.Scheduler().Get(scheduler.JobScaling)
			if job.Runs != 1 {
				t.Errorf("expected recorded run, got %d", job.Runs)
			}
		})

		t.Run("returns the job error", func(t *testing.T) {
			w, _ := newTestWorker(t)
			boom := errors.New("boom")
			_ = w.Register(scheduler.JobRefreshTokens, func(context.Context) error { return boom })

			if err := w.RunNow(context.Background(), scheduler.JobRefreshTokens); !errors.Is(err, boom) {
				t.Errorf("expected boom, got %v", err)
			}
		})

		t.Run("unknown and unregistered jobs", func(t *testing.T) {
			w, _ := newTestWorker(t)

			if err := w.RunNow(context.Background(), "nope"); !errors.Is(err, shared.ErrJobNotFound) {
				t.Errorf("expected ErrJobNotFound, got %v", err)
			}
			if err := w.RunNow(context.Background(), scheduler.JobReshuffleDue); !errors.Is(err, shared.ErrJobNotRegistered) {
				t.Errorf("expected ErrJobNotRegistered, got %v", err)
			}
		})
	})

	t.Run("Run stops on cancel", func(t *testing.T) {
		w, _ := newTestWorker(t)
		var n atomic.Int32
		_ = w.Register(scheduler.JobReshuffleDue, counter(&n))
		_ = w.Scheduler().Trigger(scheduler.JobReshuffleDue)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		deadline := time.After(2 * time.Second)
		for n.Load() == 0 {
			select {
			case <-deadline:
				t.Fatal("job never ran")
			case <-time.After(time.Millisecond):
			}
		}
		cancel()

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("expected nil on shutdown, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
		}
	})
}
