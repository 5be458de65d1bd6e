package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/rotator/internal/scheduler"
	"github.com/desertthunder/rotator/internal/server"
	"github.com/desertthunder/rotator/internal/shared"
	"github.com/desertthunder/rotator/internal/tasks"
)

// newWorker builds the scheduler and a worker with every job whose dependency is available.
func (r *Runner) newWorker() (*tasks.Worker, error) {
	store, err := r.Store()
	if err != nil {
		return nil, err
	}
	manager, err := r.Manager()
	if err != nil {
		return nil, err
	}

	logger := shared.WithLogger(r.logger, "component", "worker")
	w := tasks.NewWorker(scheduler.New(scheduler.DefaultDefinitions(r.config)...), r.config.Scheduler.Tick(), logger)

	jobs := tasks.Jobs{
		Sweeper:       manager,
		Metrics:       store.Metrics,
		Scaler:        manager,
		ScalingTarget: r.config.Scaling.TargetPlaylistsPerAccount,
		ScalingStep:   r.config.Scaling.DailyStep,
		TokenWindow:   time.Duration(r.config.Scheduler.TokenRefreshWindowMinutes) * time.Minute,
	}
	if r.tokens != nil {
		jobs.Tokens = r.tokens
	}
	if err := tasks.RegisterJobs(w, jobs); err != nil {
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}
	return w, nil
}

// Worker runs the background scheduler and serves the jobs API until interrupted. With --once
// it runs every enabled job a single time and exits.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	w, err := r.newWorker()
	if err != nil {
		return err
	}

	if cmd.Bool("once") {
		return r.runJobsOnce(ctx, w)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(ctx)
	})

	if !cmd.Bool("no-api") {
		logger := shared.WithLogger(r.logger, "component", "api")
		router := server.NewBasicRouter()
		router.Use(server.Recover(logger), server.Logging(logger))
		router.Handler(server.NewJobsHandler(w))

		addr := r.config.Server.Addr()
		r.logger.Info("jobs API listening", "addr", addr, "routes", router.Routes())
		g.Go(func() error {
			return server.Serve(ctx, addr, router, logger)
		})
	}

	return g.Wait()
}

func (r *Runner) runJobsOnce(ctx context.Context, w *tasks.Worker) error {
	s := w.Scheduler()
	for _, job := range s.List() {
		if job.Enabled {
			if err := s.Trigger(job.Name); err != nil {
				return err
			}
		}
	}

	ran := w.RunOnce(ctx)
	failed := 0
	for _, name := range ran {
		if err := w.LastError(name); err != nil {
			failed++
			r.writePlain("✗ %s: %v\n", name, err)
			continue
		}
		r.writePlain("✓ %s\n", name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(ran))
	}
	return contextDone(ctx)
}
