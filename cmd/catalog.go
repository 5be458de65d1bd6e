package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rotator/internal/formatter"
	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/repositories"
	"github.com/desertthunder/rotator/internal/shared"
)

// CatalogImport loads tracks from a JSON or CSV file, or from an existing Spotify playlist,
// into the catalog. Known tracks are refreshed rather than duplicated.
func (r *Runner) CatalogImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	playlistID := cmd.String("from-playlist")

	if path == "" && playlistID == "" {
		return fmt.Errorf("%w: either a catalog file or --from-playlist must be provided", shared.ErrMissingArgument)
	}
	if path != "" && playlistID != "" {
		return fmt.Errorf("%w: cannot import a file and a playlist at once", shared.ErrInvalidArgument)
	}

	var tracks []models.Track
	var err error
	if path != "" {
		tracks, err = r.readCatalogFile(path, cmd.String("format"))
	} else {
		tracks, err = r.readCatalogPlaylist(ctx, cmd.String("account"), playlistID)
	}
	if err != nil {
		return err
	}

	store, err := r.Store()
	if err != nil {
		return err
	}

	result, err := store.Tracks.Import(ctx, tracks)
	if err != nil {
		return err
	}

	r.logger.Info("catalog imported", "inserted", result.Inserted, "updated", result.Updated)
	if cmd.Bool("json") {
		return r.writeJSON(result, cmd.Bool("pretty"))
	}
	r.writePlain("Imported %d tracks (%d new, %d updated)\n", len(tracks), result.Inserted, result.Updated)
	return nil
}

func (r *Runner) readCatalogFile(path, format string) ([]models.Track, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	var parse func(io.Reader) ([]models.Track, error)
	switch format {
	case formatter.FormatJSON:
		parse = formatter.ParseCatalogJSON
	case formatter.FormatCSV:
		parse = formatter.ParseCatalogCSV
	default:
		return nil, fmt.Errorf("%w: unsupported catalog format %q (use json or csv)", shared.ErrInvalidArgument, format)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	r.logger.Debug("reading catalog", "path", path, "format", format)
	return parse(f)
}

func (r *Runner) readCatalogPlaylist(ctx context.Context, accountID, playlistID string) ([]models.Track, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: --account is required with --from-playlist", shared.ErrMissingArgument)
	}
	if err := r.requireSpotify(); err != nil {
		return nil, err
	}

	creds, err := r.Credentials()
	if err != nil {
		return nil, err
	}
	cred, err := creds.Credential(ctx, accountID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("fetching playlist tracks", "playlist_id", playlistID)
	remote, err := r.spotify.PlaylistTracks(ctx, cred, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist tracks: %w", err)
	}

	tracks := make([]models.Track, 0, len(remote))
	for _, st := range remote {
		if st.IsLocal || st.ID == "" {
			continue
		}
		t := st.CatalogTrack()
		if err := t.Validate(); err != nil {
			r.logger.Warn("skipping track", "id", st.ID, "error", err)
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// CatalogList prints catalog tracks, optionally filtered by artist or usability.
func (r *Runner) CatalogList(ctx context.Context, cmd *cli.Command) error {
	store, err := r.Store()
	if err != nil {
		return err
	}

	filter := repositories.TrackFilter{
		Artist: cmd.String("artist"),
		Limit:  int(cmd.Int("limit")),
	}
	switch {
	case cmd.Bool("usable"):
		usable := true
		filter.Usable = &usable
	case cmd.Bool("disabled"):
		usable := false
		filter.Usable = &usable
	}

	tracks, err := store.Tracks.List(ctx, filter)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(tracks, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d tracks:\n\n", len(tracks))
	for i, t := range tracks {
		marker := ""
		if !t.Usable {
			marker = " [disabled]"
		}
		r.writePlain("%d. %s - %s%s\n", i+1, t.Artist, t.Name, marker)
		r.writePlain("   ID: %s  Spotify: %s\n", t.ID, t.ExternalID)
		if t.LastUsedAt != nil {
			r.writePlain("   Last used: %s\n", t.LastUsedAt.Format("2006-01-02 15:04"))
		}
	}
	return nil
}

// CatalogDisable removes a track from future selections. History is kept.
func (r *Runner) CatalogDisable(ctx context.Context, cmd *cli.Command) error {
	return r.setUsable(ctx, cmd.StringArg("id"), false)
}

// CatalogEnable makes a disabled track selectable again.
func (r *Runner) CatalogEnable(ctx context.Context, cmd *cli.Command) error {
	return r.setUsable(ctx, cmd.StringArg("id"), true)
}

func (r *Runner) setUsable(ctx context.Context, id string, usable bool) error {
	if id == "" {
		return fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}

	store, err := r.Store()
	if err != nil {
		return err
	}
	if err := store.Tracks.SetUsable(ctx, id, usable); err != nil {
		return err
	}

	state := "disabled"
	if usable {
		state = "enabled"
	}
	r.writePlain("Track %s %s\n", id, state)
	return nil
}
