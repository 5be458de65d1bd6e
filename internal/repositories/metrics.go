package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// MetricRepository computes and stores aggregate counts.
type MetricRepository struct {
	db dbtx
}

// NewMetricRepository creates a new MetricRepository with the given database connection
func NewMetricRepository(db dbtx) *MetricRepository {
	return &MetricRepository{db: db}
}

// Overview computes the live summary as of now.
//
// Health is "degraded" while any playlist waits for a remote retry.
func (r *MetricRepository) Overview(ctx context.Context, now time.Time) (*models.Overview, error) {
	var (
		o    models.Overview
		next sql.NullString
	)

	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	query := `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM playlists WHERE status = ?),
			(SELECT COUNT(*) FROM tracks),
			(SELECT COUNT(DISTINCT playlist_id || '/' || batch_tag) FROM playlist_entries_history WHERE added_at >= ? AND added_at < ?),
			(SELECT COUNT(*) FROM playlists WHERE status = ? AND sync_pending = 1),
			(SELECT MIN(next_reshuffle_at) FROM playlists WHERE status = ? AND next_reshuffle_at IS NOT NULL)
	`
	err := r.db.QueryRowContext(ctx, query,
		models.StatusActive,
		day, day.Add(24*time.Hour),
		models.StatusActive,
		models.StatusActive,
	).Scan(&o.Accounts, &o.Playlists, &o.Tracks, &o.ReshufflesToday, &o.SyncPending, &next)
	if err != nil {
		return nil, fmt.Errorf("failed to compute overview: %w", err)
	}

	if next.Valid {
		if t, err := parseTimestamp(next.String); err == nil {
			o.NextReshuffleAt = &t
		}
	}

	o.Health = "stable"
	if o.SyncPending > 0 {
		o.Health = "degraded"
	}
	return &o, nil
}

// Snapshot records the current counts.
func (r *MetricRepository) Snapshot(ctx context.Context, now time.Time) (*models.MetricSnapshot, error) {
	s := models.MetricSnapshot{ID: shared.GenerateID(), CreatedAt: utc(now)}

	var avg sql.NullFloat64
	query := `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM playlists WHERE status = ?),
			(SELECT COUNT(*) FROM tracks),
			(SELECT COUNT(DISTINCT playlist_id || '/' || batch_tag) FROM playlist_entries_history WHERE added_at >= ?),
			(SELECT AVG(target_size) FROM playlists WHERE status = ?)
	`
	err := r.db.QueryRowContext(ctx, query, models.StatusActive, utc(now.Add(-24*time.Hour)), models.StatusActive).
		Scan(&s.Accounts, &s.Playlists, &s.Tracks, &s.ReshufflesLast24h, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute snapshot: %w", err)
	}
	if avg.Valid {
		s.AvgTracksPerPlaylist = int(avg.Float64 + 0.5)
	}

	insert := `
		INSERT INTO metric_snapshots (id, created_at, accounts_count, playlists_count, tracks_count, reshuffles_last_24h, avg_tracks_per_playlist)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, insert, s.ID, s.CreatedAt, s.Accounts, s.Playlists, s.Tracks, s.ReshufflesLast24h, s.AvgTracksPerPlaylist); err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return &s, nil
}

// History returns snapshots taken at or after since, oldest first.
func (r *MetricRepository) History(ctx context.Context, since time.Time) ([]models.MetricSnapshot, error) {
	query := `
		SELECT id, created_at, accounts_count, playlists_count, tracks_count, reshuffles_last_24h, avg_tracks_per_playlist
		FROM metric_snapshots
		WHERE created_at >= ?
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, utc(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.MetricSnapshot
	for rows.Next() {
		var s models.MetricSnapshot
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.Accounts, &s.Playlists, &s.Tracks, &s.ReshufflesLast24h, &s.AvgTracksPerPlaylist); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// parseTimestamp reads the text go-sqlite3 writes for time values when an aggregate loses the column type.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
