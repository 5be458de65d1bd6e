package tasks

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/rotation"
	"github.com/desertthunder/rotator/internal/scheduler"
	"github.com/desertthunder/rotator/internal/shared"
)

type fakeSweeper struct {
	result *rotation.BulkResult
	err    error
	calls  int
}

func (f *fakeSweeper) ReshuffleDue(context.Context) (*rotation.BulkResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeScaler struct {
	target, step int
	calls        int
	result       *rotation.ScaleResult
	err          error
}

func (f *fakeScaler) TopUp(_ context.Context, target, step int) (*rotation.ScaleResult, error) {
	f.calls++
	f.target, f.step = target, step
	return f.result, f.err
}

type fakeRefresher struct {
	window time.Duration
	n      int
	err    error
}

func (f *fakeRefresher) RefreshExpiring(_ context.Context, window time.Duration) (int, error) {
	f.window = window
	return f.n, f.err
}

type fakeSnapshotter struct {
	at  time.Time
	err error
}

func (f *fakeSnapshotter) Snapshot(_ context.Context, now time.Time) (*models.MetricSnapshot, error) {
	f.at = now
	if f.err != nil {
		return nil, f.err
	}
	return &models.MetricSnapshot{CreatedAt: now, Playlists: 3}, nil
}

func TestJobs(t *testing.T) {
	logger := shared.NewLogger(io.Discard)
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("ReshuffleJob", func(t *testing.T) {
		t.Run("partial failure succeeds", func(t *testing.T) {
			s := &fakeSweeper{result: &rotation.BulkResult{
				Reshuffled: []*models.Playlist{{ID: "p1"}},
				Failed:     []rotation.BulkFailure{{PlaylistID: "p2", Err: boom}},
			}}
			if err := ReshuffleJob(s, logger)(ctx); err != nil {
				t.Errorf("expected nil, got %v", err)
			}
		})

		t.Run("total failure fails", func(t *testing.T) {
			s := &fakeSweeper{result: &rotation.BulkResult{
				Failed: []rotation.BulkFailure{{PlaylistID: "p1", Err: boom}, {PlaylistID: "p2", Err: shared.ErrRemoteSync}},
			}}
			err := ReshuffleJob(s, logger)(ctx)
			if !errors.Is(err, boom) || !errors.Is(err, shared.ErrRemoteSync) {
				t.Errorf("expected joined failures, got %v", err)
			}
		})

		t.Run("empty sweep succeeds", func(t *testing.T) {
			s := &fakeSweeper{result: &rotation.BulkResult{}}
			if err := ReshuffleJob(s, logger)(ctx); err != nil {
				t.Errorf("expected nil, got %v", err)
			}
		})

		t.Run("sweep error", func(t *testing.T) {
			s := &fakeSweeper{err: boom}
			if err := ReshuffleJob(s, logger)(ctx); !errors.Is(err, boom) {
				t.Errorf("expected boom, got %v", err)
			}
		})
	})

	t.Run("TokenRefreshJob", func(t *testing.T) {
		r := &fakeRefresher{n: 2}
		if err := TokenRefreshJob(r, 45*time.Minute, logger)(ctx); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if r.window != 45*time.Minute {
			t.Errorf("expected 45m window, got %s", r.window)
		}

		r.err = shared.ErrRefreshFailed
		if err := TokenRefreshJob(r, time.Hour, logger)(ctx); !errors.Is(err, shared.ErrRefreshFailed) {
			t.Errorf("expected ErrRefreshFailed, got %v", err)
		}
	})

	t.Run("MetricsJob", func(t *testing.T) {
		s := &fakeSnapshotter{}
		if err := MetricsJob(s, func() time.Time { return start }, logger)(ctx); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if !s.at.Equal(start) {
			t.Errorf("expected snapshot at %v, got %v", start, s.at)
		}

		s.err = boom
		if err := MetricsJob(s, time.Now, logger)(ctx); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})

	t.Run("ScalingJob", func(t *testing.T) {
		t.Run("no target is a no-op", func(t *testing.T) {
			s := &fakeScaler{}
			if err := ScalingJob(s, 0, 2, logger)(ctx); err != nil {
				t.Errorf("expected nil, got %v", err)
			}
			if s.calls != 0 {
				t.Errorf("expected no TopUp, got %d calls", s.calls)
			}
		})

		t.Run("passes target and step", func(t *testing.T) {
			s := &fakeScaler{result: &rotation.ScaleResult{Created: map[string]int{"a": 2}}}
			if err := ScalingJob(s, 10, 2, logger)(ctx); err != nil {
				t.Errorf("expected nil, got %v", err)
			}
			if s.target != 10 || s.step != 2 {
				t.Errorf("expected 10/2, got %d/%d", s.target, s.step)
			}
		})

		t.Run("returns partial errors", func(t *testing.T) {
			s := &fakeScaler{result: &rotation.ScaleResult{Created: map[string]int{}}, err: boom}
			if err := ScalingJob(s, 10, 2, logger)(ctx); !errors.Is(err, boom) {
				t.Errorf("expected boom, got %v", err)
			}
		})
	})

	t.Run("RegisterJobs", func(t *testing.T) {
		t.Run("registers jobs with dependencies", func(t *testing.T) {
			w, _ := newTestWorker(t)
			sweeper := &fakeSweeper{result: &rotation.BulkResult{}}
			err := RegisterJobs(w, Jobs{Sweeper: sweeper, Tokens: &fakeRefresher{}, TokenWindow: time.Hour})
			if err != nil {
				t.Fatalf("RegisterJobs failed: %v", err)
			}

			if err := w.RunNow(ctx, scheduler.JobReshuffleDue); err != nil {
				t.Errorf("sweep: %v", err)
			}
			if sweeper.calls != 1 {
				t.Errorf("expected sweeper to run once, got %d", sweeper.calls)
			}
			if err := w.RunNow(ctx, scheduler.JobScaling); !errors.Is(err, shared.ErrJobNotRegistered) {
				t.Errorf("expected scaling to stay unregistered, got %v", err)
			}
		})

		t.Run("reports jobs missing from the scheduler", func(t *testing.T) {
			w, _ := newTestWorker(t)
			err := RegisterJobs(w, Jobs{Metrics: &fakeSnapshotter{}})
			if !errors.Is(err, shared.ErrJobNotFound) {
				t.Errorf("expected ErrJobNotFound, got %v", err)
			}
		})
	})
}

func TestReshuffleProgress(t *testing.T) {
	ch := make(chan ProgressUpdate, 2)
	progress := ReshuffleProgress(ch)

	progress(1, 2, &models.Playlist{Name: "Random Rotation 1"}, nil)
	progress(2, 2, &models.Playlist{Name: "Random Rotation 2"}, shared.ErrRemoteSync)
	progress(2, 2, &models.Playlist{Name: "dropped"}, nil)

	ok := <-ch
	if ok.Phase != Reshuffle || ok.Step != 1 || ok.Total != 2 || ok.Err != nil {
		t.Errorf("unexpected update %+v", ok)
	}
	failed := <-ch
	if !errors.Is(failed.Err, shared.ErrRemoteSync) {
		t.Errorf("expected ErrRemoteSync, got %v", failed.Err)
	}
	select {
	case u := <-ch:
		t.Errorf("expected full channel to drop updates, got %+v", u)
	default:
	}

	ReshuffleProgress(nil)(1, 1, &models.Playlist{}, nil)
}
