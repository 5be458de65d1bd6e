package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

const trackColumns = `id, external_id, name, artist, album, popularity, is_usable, last_used_at, created_at`

// TrackRepository persists the track catalog.
type TrackRepository struct {
	db dbtx
}

// TrackFilter narrows catalog listings. Zero values match everything.
type TrackFilter struct {
	Artist string
	Usable *bool
	Limit  int
}

// ImportResult counts the outcome of [TrackRepository.Import].
type ImportResult struct {
	Inserted int
	Updated  int
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db dbtx) *TrackRepository {
	return &TrackRepository{db: db}
}

// Import inserts new tracks and refreshes the metadata of known ones, keyed by external id.
// Usability and last-used time of existing tracks are left untouched.
func (r *TrackRepository) Import(ctx context.Context, tracks []models.Track) (ImportResult, error) {
	var result ImportResult
	for i := range tracks {
		if err := tracks[i].Validate(); err != nil {
			return result, fmt.Errorf("%w: track %d: %w", shared.ErrInvalidInput, i, err)
		}
	}

	err := withTx(ctx, r.db, func(tx dbtx) error {
		for i := range tracks {
			t := &tracks[i]

			var id string
			err := tx.QueryRowContext(ctx, `SELECT id FROM tracks WHERE external_id = ?`, t.ExternalID).Scan(&id)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if err := r.insert(ctx, tx, t); err != nil {
					return err
				}
				result.Inserted++
			case err != nil:
				return fmt.Errorf("failed to look up track: %w", err)
			default:
				query := `UPDATE tracks SET name = ?, artist = ?, album = ?, popularity = ? WHERE id = ?`
				if _, err := tx.ExecContext(ctx, query, t.Name, t.Artist, t.Album, nullInt(t.Popularity), id); err != nil {
					return fmt.Errorf("failed to update track: %w", err)
				}
				t.ID = id
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

// Create inserts a single track with generated ID and sequence
func (r *TrackRepository) Create(ctx context.Context, track *models.Track) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}
	return r.insert(ctx, r.db, track)
}

func (r *TrackRepository) insert(ctx context.Context, db dbtx, t *models.Track) error {
	sequence, err := NextSequence(ctx, db, "tracks")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	t.ID = shared.GenerateID()
	t.CreatedAt = utc(time.Now())
	t.Usable = true

	query := `
		INSERT INTO tracks (id, sequence, external_id, name, artist, album, popularity, is_usable, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query, t.ID, sequence, t.ExternalID, t.Name, t.Artist, t.Album,
		nullInt(t.Popularity), t.Usable, nullTime(t.LastUsedAt), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}
	return nil
}

// Get retrieves a track by ID
func (r *TrackRepository) Get(ctx context.Context, id string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByExternalID retrieves a track by its Spotify id
func (r *TrackRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE external_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, externalID))
}

// ListUsable returns every usable track. Ordering is left to the sampler.
func (r *TrackRepository) ListUsable(ctx context.Context) ([]models.Track, error) {
	usable := true
	return r.List(ctx, TrackFilter{Usable: &usable})
}

// List retrieves the catalog matching filter ordered by sequence
func (r *TrackRepository) List(ctx context.Context, filter TrackFilter) ([]models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE 1 = 1`
	args := []any{}

	if filter.Artist != "" {
		query += " AND artist = ?"
		args = append(args, filter.Artist)
	}

	if filter.Usable != nil {
		query += " AND is_usable = ?"
		args = append(args, *filter.Usable)
	}

	query += " ORDER BY sequence ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		track, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, *track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// SetUsable enables or disables a track for future selections.
func (r *TrackRepository) SetUsable(ctx context.Context, id string, usable bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE tracks SET is_usable = ? WHERE id = ? OR external_id = ?`, usable, id, id)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, id))
}

// Touch sets last_used_at on the given tracks.
func (r *TrackRepository) Touch(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, utc(at))
	for _, id := range ids {
		args = append(args, id)
	}

	query := `UPDATE tracks SET last_used_at = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to touch tracks: %w", err)
	}
	return nil
}

// scanOne scans a single row into a [models.Track]
func (r *TrackRepository) scanOne(row *sql.Row) (*models.Track, error) {
	track, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTrackNotFound
	}
	return track, err
}

func (r *TrackRepository) scan(s scanner) (*models.Track, error) {
	var (
		t          models.Track
		popularity sql.NullInt64
		lastUsedAt sql.NullTime
	)

	err := s.Scan(&t.ID, &t.ExternalID, &t.Name, &t.Artist, &t.Album, &popularity, &t.Usable, &lastUsedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	t.Popularity = intPtr(popularity)
	t.LastUsedAt = timePtr(lastUsedAt)
	return &t, nil
}
