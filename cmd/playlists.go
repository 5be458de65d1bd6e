package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rotator/internal/formatter"
	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/rotation"
	"github.com/desertthunder/rotator/internal/shared"
	"github.com/desertthunder/rotator/internal/tasks"
)

// PlaylistsCreate creates and populates new rotating playlists for an account.
func (r *Runner) PlaylistsCreate(ctx context.Context, cmd *cli.Command) error {
	accountID := cmd.String("account")
	if accountID == "" {
		return fmt.Errorf("%w: --account", shared.ErrMissingArgument)
	}

	manager, err := r.Manager()
	if err != nil {
		return err
	}

	opts := rotation.CreateOptions{
		Count:        int(cmd.Int("count")),
		NamePrefix:   cmd.String("prefix"),
		Size:         int(cmd.Int("size")),
		IntervalDays: int(cmd.Int("interval")),
		ArtistCap:    int(cmd.Int("artist-cap")),
	}
	if cmd.IsSet("cooldown") {
		cooldown := int(cmd.Int("cooldown"))
		opts.CooldownDays = &cooldown
	}

	r.logger.Info("creating playlists", "account", accountID, "count", opts.Count)
	playlists, err := manager.CreatePlaylists(ctx, accountID, opts)
	if err != nil && !errors.Is(err, shared.ErrRemoteSync) {
		return err
	}

	if cmd.Bool("json") {
		if err := r.writeJSON(playlists, cmd.Bool("pretty")); err != nil {
			return err
		}
	} else {
		r.writePlain("Created %d playlists:\n\n", len(playlists))
		r.printPlaylists(playlists)
	}

	if err != nil {
		r.writePlainln("⚠ Some playlists could not be pushed to Spotify and will be retried by the worker:")
		r.writePlain("  %v\n", err)
	}
	return nil
}

// PlaylistsList prints playlists with their schedule and sync state.
func (r *Runner) PlaylistsList(ctx context.Context, cmd *cli.Command) error {
	store, err := r.Store()
	if err != nil {
		return err
	}

	playlists, err := store.Playlists.List(ctx, models.PlaylistFilter{
		AccountID:       cmd.String("account"),
		IncludeArchived: cmd.Bool("archived"),
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}

	if len(playlists) == 0 {
		r.writePlain("No playlists found.\n")
		return nil
	}
	r.writePlain("Found %d playlists:\n\n", len(playlists))
	r.printPlaylists(playlists)
	return nil
}

func (r *Runner) printPlaylists(playlists []*models.Playlist) {
	for i, p := range playlists {
		r.writePlain("%d. %s\n", i+1, p.Name)
		r.writePlain("   ID: %s\n", p.ID)
		r.writePlain("   Size: %d  Interval: %dd  Artist cap: %d\n", p.TargetSize, p.IntervalDays, p.ArtistCap)
		if p.NextReshuffleAt != nil {
			r.writePlain("   Next reshuffle: %s\n", p.NextReshuffleAt.Local().Format("2006-01-02 15:04"))
		}
		switch {
		case p.Status != models.StatusActive:
			r.writePlain("   Status: %s\n", p.Status)
		case p.SyncPending:
			r.writePlain("   Status: sync pending\n")
		case p.ExternalURL != "":
			r.writePlain("   URL: %s\n", p.ExternalURL)
		}
		r.writePlain("\n")
	}
}

// PlaylistsReshuffle reshuffles one playlist now. Flags override its settings for this and later
// reshuffles.
func (r *Runner) PlaylistsReshuffle(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	manager, err := r.Manager()
	if err != nil {
		return err
	}

	opts := rotation.ReshuffleOptions{
		Size:         int(cmd.Int("size")),
		ArtistCap:    int(cmd.Int("artist-cap")),
		IntervalDays: int(cmd.Int("interval")),
	}
	if cmd.IsSet("cooldown") {
		cooldown := int(cmd.Int("cooldown"))
		opts.CooldownDays = &cooldown
	}

	p, err := manager.ReshuffleByID(ctx, id, opts)
	switch {
	case errors.Is(err, shared.ErrRemoteSync):
		r.writePlain("⚠ Reshuffled %s locally; Spotify update failed and will be retried: %v\n", p.Name, err)
		return nil
	case err != nil:
		return err
	}

	r.writePlain("✓ Reshuffled %s\n", p.Name)
	if p.NextReshuffleAt != nil {
		r.writePlain("  Next reshuffle: %s\n", p.NextReshuffleAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

// PlaylistsBulk reshuffles every playlist, one account's playlists, or a selection, printing
// progress as playlists finish.
func (r *Runner) PlaylistsBulk(ctx context.Context, cmd *cli.Command) error {
	all := cmd.Bool("all")
	accountID := cmd.String("account")
	ids := cmd.StringSlice("id")

	var mode rotation.BulkMode
	switch {
	case all && accountID == "" && len(ids) == 0:
		mode = rotation.BulkAll
	case !all && accountID != "" && len(ids) == 0:
		mode = rotation.BulkByAccount
	case !all && accountID == "" && len(ids) > 0:
		mode = rotation.BulkBySelection
	default:
		return fmt.Errorf("%w: exactly one of --all, --account or --id must be provided", shared.ErrInvalidArgument)
	}

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			r.writePlain("%s\n", update.Message)
		}
	}()

	manager, err := r.Manager(rotation.WithProgress(tasks.ReshuffleProgress(progressCh)))
	if err != nil {
		close(progressCh)
		<-done
		return err
	}

	r.writePlainHeader(fmt.Sprintf("Bulk reshuffle (%s)", mode))
	result, err := manager.ReshuffleBulk(ctx, mode, rotation.BulkTarget{AccountID: accountID, PlaylistIDs: ids})
	close(progressCh)
	<-done

	if result != nil {
		r.writePlain("\nReshuffled: %d  Failed: %d\n", len(result.Reshuffled), len(result.Failed))
		for _, f := range result.Failed {
			r.writePlain("  ✗ %s (%s): %v\n", f.Name, f.PlaylistID, f.Err)
		}
	}
	return err
}

// PlaylistsSync retries the Spotify push for one playlist, or for every playlist flagged as
// pending when no id is given.
func (r *Runner) PlaylistsSync(ctx context.Context, cmd *cli.Command) error {
	manager, err := r.Manager()
	if err != nil {
		return err
	}
	store, err := r.Store()
	if err != nil {
		return err
	}

	var playlists []*models.Playlist
	if id := cmd.StringArg("id"); id != "" {
		p, err := store.Playlists.Get(ctx, id)
		if err != nil {
			return err
		}
		playlists = append(playlists, p)
	} else if playlists, err = store.Playlists.ListSyncPending(ctx); err != nil {
		return err
	}

	if len(playlists) == 0 {
		r.writePlain("Nothing to sync.\n")
		return nil
	}

	var errs []error
	for _, p := range playlists {
		if err := contextDone(ctx); err != nil {
			return err
		}
		if err := manager.SyncPending(ctx, p); err != nil {
			r.writePlain("✗ %s: %v\n", p.Name, err)
			errs = append(errs, err)
			continue
		}
		r.writePlain("✓ %s\n", p.Name)
	}

	if len(errs) == len(playlists) {
		return errors.Join(errs...)
	}
	return nil
}

// PlaylistsArchive archives a playlist and frees its slot on the account.
func (r *Runner) PlaylistsArchive(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	store, err := r.Store()
	if err != nil {
		return err
	}
	if err := store.ArchivePlaylist(ctx, id); err != nil {
		return err
	}
	r.writePlain("Archived playlist %s\n", id)
	return nil
}

// PlaylistsHistory prints a playlist's ledger, newest batch first, or writes it to disk in the
// requested format.
func (r *Runner) PlaylistsHistory(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	store, err := r.Store()
	if err != nil {
		return err
	}

	p, err := store.Playlists.Get(ctx, id)
	if err != nil {
		return err
	}
	rows, err := store.PlaylistHistory(ctx, id, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	export := &formatter.HistoryExport{Playlist: *p, Entries: rows}

	if format := cmd.String("format"); format != "" {
		dir := cmd.String("output")
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		files, err := formatter.WriteExport(export, format, dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			r.writePlain("Wrote %s\n", f)
		}
		return nil
	}

	if cmd.Bool("json") {
		return r.writeJSON(export, cmd.Bool("pretty"))
	}

	text, err := formatter.ExportToText(export)
	if err != nil {
		return err
	}
	return r.writePlain("%s", text)
}

// PlaylistsExport writes the history of many playlists concurrently, with a manifest.
func (r *Runner) PlaylistsExport(ctx context.Context, cmd *cli.Command) error {
	store, err := r.Store()
	if err != nil {
		return err
	}

	ids := cmd.StringSlice("id")
	if len(ids) == 0 {
		playlists, err := store.Playlists.List(ctx, models.PlaylistFilter{
			AccountID:       cmd.String("account"),
			IncludeArchived: cmd.Bool("archived"),
		})
		if err != nil {
			return err
		}
		for _, p := range playlists {
			ids = append(ids, p.ID)
		}
	}

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			r.writePlain("%s\n", update.Message)
		}
	}()

	started := time.Now()
	result, err := tasks.BulkHistoryExport(ctx, progressCh, store, ids, tasks.BulkExportOpts{
		Format:     cmd.String("format"),
		OutputDir:  cmd.String("output"),
		NumWorkers: int(cmd.Int("workers")),
		Limit:      int(cmd.Int("limit")),
	})
	close(progressCh)
	<-done
	if err != nil {
		return err
	}

	r.writePlainln("Exported %d/%d playlists to %s in %s", result.SuccessfulExports, result.TotalPlaylists,
		result.OutputDirectory, time.Since(started).Round(time.Millisecond))
	if result.ManifestPath != "" {
		r.writePlain("Manifest: %s\n", result.ManifestPath)
	}
	if result.FailedExports > 0 {
		return fmt.Errorf("%d playlist exports failed", result.FailedExports)
	}
	return nil
}
