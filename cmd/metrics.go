package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"
)

// MetricsOverview prints live totals and the health of the rotation pipeline.
func (r *Runner) MetricsOverview(ctx context.Context, cmd *cli.Command) error {
	store, err := r.Store()
	if err != nil {
		return err
	}

	overview, err := store.Metrics.Overview(ctx, time.Now())
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(overview, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Overview")
	r.writePlain("Accounts:          %d\n", overview.Accounts)
	r.writePlain("Active playlists:  %d\n", overview.Playlists)
	r.writePlain("Catalog tracks:    %d\n", overview.Tracks)
	r.writePlain("Reshuffles today:  %d\n", overview.ReshufflesToday)
	r.writePlain("Sync pending:      %d\n", overview.SyncPending)
	if overview.NextReshuffleAt != nil {
		r.writePlain("Next reshuffle:    %s\n", overview.NextReshuffleAt.Local().Format("2006-01-02 15:04"))
	}
	r.writePlain("Health:            %s\n", overview.Health)
	return nil
}

// MetricsHistory prints the snapshots recorded in the last --since hours.
func (r *Runner) MetricsHistory(ctx context.Context, cmd *cli.Command) error {
	store, err := r.Store()
	if err != nil {
		return err
	}

	since := time.Now().Add(-time.Duration(cmd.Int("since")) * time.Hour)
	snapshots, err := store.Metrics.History(ctx, since)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(snapshots, cmd.Bool("pretty"))
	}

	if len(snapshots) == 0 {
		r.writePlain("No snapshots since %s.\n", since.Local().Format("2006-01-02 15:04"))
		return nil
	}

	r.writePlain("%-17s %8s %9s %7s %10s %9s\n", "TIME", "ACCOUNTS", "PLAYLISTS", "TRACKS", "RESHUFFLES", "AVG SIZE")
	for _, s := range snapshots {
		r.writePlain("%-17s %8d %9d %7d %10d %9d\n",
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.Accounts, s.Playlists, s.Tracks, s.ReshufflesLast24h, s.AvgTracksPerPlaylist)
	}
	return nil
}

// MetricsSnapshot records a snapshot now, outside the worker's schedule.
func (r *Runner) MetricsSnapshot(ctx context.Context, cmd *cli.Command) error {
	store, err := r.Store()
	if err != nil {
		return err
	}

	snapshot, err := store.Metrics.Snapshot(ctx, time.Now())
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(snapshot, cmd.Bool("pretty"))
	}
	r.writePlain("Recorded snapshot %s: %d accounts, %d playlists, %d tracks\n",
		snapshot.ID, snapshot.Accounts, snapshot.Playlists, snapshot.Tracks)
	return nil
}
