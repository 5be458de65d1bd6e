package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rotator/internal/server"
	"github.com/desertthunder/rotator/internal/shared"
)

func (r *Runner) jobsClient(cmd *cli.Command) *server.JobsClient {
	url := cmd.String("url")
	if url == "" {
		url = "http://" + r.config.Server.Addr()
	}
	return server.NewJobsClient(url, r.httpClient)
}

// JobsList prints the job table of a running worker.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	jobs, err := r.jobsClient(cmd).List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs (is the worker running?): %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(jobs, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Background jobs")
	for _, j := range jobs {
		r.writePlain("%s [%s]\n", j.Name, j.Status())
		r.writePlain("  Every: %s  Runs: %d\n", j.Cadence, j.Runs)
		if j.LastRun != nil {
			r.writePlain("  Last run: %s (%s)\n", j.LastRun.Local().Format("2006-01-02 15:04:05"), j.LastDuration)
		}
		r.writePlain("  Next run: %s\n", j.NextRun.Local().Format("2006-01-02 15:04:05"))
		if j.Running {
			r.writePlain("  Running now\n")
		}
		if j.LastError != "" {
			r.writePlain("  Last error: %s\n", j.LastError)
		}
	}
	return nil
}

// JobsEnable turns a job on.
func (r *Runner) JobsEnable(ctx context.Context, cmd *cli.Command) error {
	return r.setJobEnabled(ctx, cmd, true)
}

// JobsDisable turns a job off. A run already in progress finishes.
func (r *Runner) JobsDisable(ctx context.Context, cmd *cli.Command) error {
	return r.setJobEnabled(ctx, cmd, false)
}

func (r *Runner) setJobEnabled(ctx context.Context, cmd *cli.Command, enabled bool) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: job name", shared.ErrMissingArgument)
	}

	job, err := r.jobsClient(cmd).SetEnabled(ctx, name, enabled)
	if err != nil {
		return err
	}
	r.writePlain("Job %s %s, next run %s\n", job.Name, job.Status(), job.NextRun.Local().Format("2006-01-02 15:04:05"))
	return nil
}

// JobsRun runs a job immediately on the worker and waits for it to finish.
func (r *Runner) JobsRun(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: job name", shared.ErrMissingArgument)
	}

	job, err := r.jobsClient(cmd).Run(ctx, name)
	if err != nil {
		return err
	}
	r.writePlain("✓ %s finished in %s\n", job.Name, job.LastDuration)
	return nil
}
