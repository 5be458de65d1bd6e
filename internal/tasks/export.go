package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/rotator/internal/formatter"
	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// HistorySource loads playlists and their ledger rows.
type HistorySource interface {
	GetPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	PlaylistHistory(ctx context.Context, playlistID string, limit int) ([]models.HistoryRow, error)
}

// BulkExportOpts contains configuration for bulk history exports.
type BulkExportOpts struct {
	Format     string // Export format: json, csv, markdown, txt
	OutputDir  string // Base output directory (default: rotation_history_{epoch})
	NumWorkers int    // Concurrent workers (default: 4)
	Limit      int    // Ledger rows per playlist, 0 for all
}

// PlaylistExportResult is the outcome of exporting one playlist.
type PlaylistExportResult struct {
	PlaylistID   string   `json:"playlist_id"`
	PlaylistName string   `json:"playlist_name"`
	Entries      int      `json:"entries"`
	Files        []string `json:"files"`
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
}

// BulkExportResult summarizes a bulk export and is written as the manifest.
type BulkExportResult struct {
	ExportedAt        time.Time              `json:"exported_at"`
	Format            string                 `json:"format"`
	TotalPlaylists    int                    `json:"total_playlists"`
	SuccessfulExports int                    `json:"successful_exports"`
	FailedExports     int                    `json:"failed_exports"`
	OutputDirectory   string                 `json:"output_directory"`
	ManifestPath      string                 `json:"-"`
	Results           []PlaylistExportResult `json:"results"`
}

// BulkHistoryExport exports the ledger of the given playlists concurrently.
//
// A pool of workers loads and writes one playlist at a time. Failures are recorded per playlist
// and the export continues; a manifest summarizing the results is written to the output directory.
func BulkHistoryExport(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	src HistorySource,
	ids []string,
	opts BulkExportOpts,
) (*BulkExportResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no playlists to export", shared.ErrMissingArgument)
	}
	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("rotation_history_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	opts.NumWorkers = min(opts.NumWorkers, len(ids), 10)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &BulkExportResult{
		ExportedAt:      time.Now().UTC(),
		Format:          opts.Format,
		TotalPlaylists:  len(ids),
		OutputDirectory: opts.OutputDir,
		Results:         make([]PlaylistExportResult, 0, len(ids)),
	}

	jobs := make(chan string)
	results := make(chan PlaylistExportResult, len(ids))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- exportOne(ctx, src, id, opts)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case <-ctx.Done():
				return
			case jobs <- id:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			sendProgress(prog, exportCompletedUpdate(completed, len(ids), res.PlaylistName, len(res.Files)))
		} else {
			result.FailedExports++
			sendProgress(prog, exportFailedUpdate(completed, len(ids), res.PlaylistName, fmt.Errorf("%s", res.Error)))
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := formatter.WriteManifest(result, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	return result, nil
}

func exportOne(ctx context.Context, src HistorySource, id string, opts BulkExportOpts) PlaylistExportResult {
	result := PlaylistExportResult{PlaylistID: id, PlaylistName: fmt.Sprintf("Unknown (%s)", id)}

	playlist, err := src.GetPlaylist(ctx, id)
	if err != nil {
		result.Error = fmt.Sprintf("failed to load playlist: %v", err)
		return result
	}
	result.PlaylistName = playlist.Name

	rows, err := src.PlaylistHistory(ctx, id, opts.Limit)
	if err != nil {
		result.Error = fmt.Sprintf("failed to load history: %v", err)
		return result
	}

	export := &formatter.HistoryExport{Playlist: *playlist, Entries: rows}
	files, err := formatter.WriteExport(export, opts.Format, opts.OutputDir)
	if err != nil {
		result.Error = fmt.Sprintf("%s export failed: %v", opts.Format, err)
		return result
	}

	result.Entries = len(rows)
	result.Files = files
	result.Success = true
	return result
}
