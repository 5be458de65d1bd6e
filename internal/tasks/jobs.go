package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/rotation"
	"github.com/desertthunder/rotator/internal/scheduler"
)

// Sweeper runs the due-playlist sweep.
type Sweeper interface {
	ReshuffleDue(ctx context.Context) (*rotation.BulkResult, error)
}

// Scaler grows accounts toward a playlist target.
type Scaler interface {
	TopUp(ctx context.Context, target, step int) (*rotation.ScaleResult, error)
}

// TokenRefresher refreshes tokens close to expiry.
type TokenRefresher interface {
	RefreshExpiring(ctx context.Context, window time.Duration) (int, error)
}

// Snapshotter records metric snapshots.
type Snapshotter interface {
	Snapshot(ctx context.Context, now time.Time) (*models.MetricSnapshot, error)
}

// ReshuffleJob runs the sweep. Per-playlist failures are logged by the manager and only fail
// the job when every playlist failed.
func ReshuffleJob(s Sweeper, logger *log.Logger) JobFunc {
	return func(ctx context.Context) error {
		result, err := s.ReshuffleDue(ctx)
		if err != nil {
			return err
		}
		if len(result.Failed) > 0 {
			logger.Warn("sweep had failures", "failed", len(result.Failed), "reshuffled", len(result.Reshuffled))
			if len(result.Reshuffled)+len(result.Synced) == 0 {
				errs := make([]error, len(result.Failed))
				for i, f := range result.Failed {
					errs[i] = fmt.Errorf("playlist %s: %w", f.PlaylistID, f.Err)
				}
				return errors.Join(errs...)
			}
		}
		return nil
	}
}

// TokenRefreshJob refreshes every token expiring within window.
func TokenRefreshJob(r TokenRefresher, window time.Duration, logger *log.Logger) JobFunc {
	return func(ctx context.Context) error {
		n, err := r.RefreshExpiring(ctx, window)
		if n > 0 {
			logger.Info("refreshed tokens", "count", n)
		}
		return err
	}
}

// MetricsJob records a snapshot using now as the timestamp source.
func MetricsJob(s Snapshotter, now func() time.Time, logger *log.Logger) JobFunc {
	return func(ctx context.Context) error {
		snap, err := s.Snapshot(ctx, now())
		if err != nil {
			return err
		}
		logger.Debug("metrics snapshot", "playlists", snap.Playlists, "reshuffles", snap.ReshufflesLast24h)
		return nil
	}
}

// ScalingJob tops up accounts toward target playlists, at most step per account per run.
func ScalingJob(s Scaler, target, step int, logger *log.Logger) JobFunc {
	return func(ctx context.Context) error {
		if target <= 0 {
			return nil
		}
		result, err := s.TopUp(ctx, target, step)
		if result != nil {
			total := 0
			for _, n := range result.Created {
				total += n
			}
			logger.Info("scaling finished", "created", total, "skipped", len(result.Skipped))
		}
		return err
	}
}

// Jobs bundles the dependencies of the standard job set.
type Jobs struct {
	Sweeper       Sweeper
	Tokens        TokenRefresher
	TokenWindow   time.Duration
	Metrics       Snapshotter
	Scaler        Scaler
	ScalingTarget int
	ScalingStep   int
	Now           func() time.Time
}

// RegisterJobs attaches every job whose dependency is set.
func RegisterJobs(w *Worker, j Jobs) error {
	now := j.Now
	if now == nil {
		now = time.Now
	}

	var errs []error
	register := func(name string, fn JobFunc) {
		if err := w.Register(name, fn); err != nil {
			errs = append(errs, err)
		}
	}

	if j.Sweeper != nil {
		register(scheduler.JobReshuffleDue, ReshuffleJob(j.Sweeper, w.logger))
	}
	if j.Tokens != nil {
		register(scheduler.JobRefreshTokens, TokenRefreshJob(j.Tokens, j.TokenWindow, w.logger))
	}
	if j.Metrics != nil {
		register(scheduler.JobMetrics, MetricsJob(j.Metrics, now, w.logger))
	}
	if j.Scaler != nil {
		register(scheduler.JobScaling, ScalingJob(j.Scaler, j.ScalingTarget, j.ScalingStep, w.logger))
	}
	return errors.Join(errs...)
}
