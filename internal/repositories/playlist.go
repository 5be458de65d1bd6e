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

const playlistColumns = `id, account_id, display_index, name, prefix, description, target_size, cooldown_days, artist_cap,
	interval_days, last_reshuffled_at, next_reshuffle_at, remote_id, external_url, sync_pending, status, created_at, updated_at`

// PlaylistRepository persists rotating playlists.
//
// Playlists are never deleted; archiving flips their status and removes them from due sweeps.
type PlaylistRepository struct {
	db dbtx
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db dbtx) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Create inserts a new playlist into the database with generated ID and sequence
func (r *PlaylistRepository) Create(ctx context.Context, playlist *models.Playlist) error {
	if playlist.Status == "" {
		playlist.Status = models.StatusActive
	}
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	sequence, err := NextSequence(ctx, r.db, "playlists")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	now := utc(time.Now())

	query := `
		INSERT INTO playlists (id, sequence, account_id, display_index, name, prefix, description, target_size, cooldown_days,
			artist_cap, interval_days, last_reshuffled_at, next_reshuffle_at, remote_id, external_url, sync_pending, status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		id,
		sequence,
		playlist.AccountID,
		playlist.Index,
		playlist.Name,
		playlist.Prefix,
		playlist.Description,
		playlist.TargetSize,
		nullInt(playlist.CooldownDays),
		playlist.ArtistCap,
		playlist.IntervalDays,
		nullTime(playlist.LastReshuffledAt),
		nullTime(playlist.NextReshuffleAt),
		nullString(playlist.RemoteID),
		nullString(playlist.ExternalURL),
		playlist.SyncPending,
		playlist.Status,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}

	playlist.ID = id
	playlist.CreatedAt = now
	playlist.UpdatedAt = now
	return nil
}

// Get retrieves a playlist by ID, including archived ones
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// Update writes every mutable field of the playlist
func (r *PlaylistRepository) Update(ctx context.Context, playlist *models.Playlist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	playlist.UpdatedAt = utc(time.Now())
	query := `
		UPDATE playlists
		SET name = ?, prefix = ?, description = ?, target_size = ?, cooldown_days = ?, artist_cap = ?, interval_days = ?,
			last_reshuffled_at = ?, next_reshuffle_at = ?, remote_id = ?, external_url = ?, sync_pending = ?, status = ?,
			updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		playlist.Name,
		playlist.Prefix,
		playlist.Description,
		playlist.TargetSize,
		nullInt(playlist.CooldownDays),
		playlist.ArtistCap,
		playlist.IntervalDays,
		nullTime(playlist.LastReshuffledAt),
		nullTime(playlist.NextReshuffleAt),
		nullString(playlist.RemoteID),
		nullString(playlist.ExternalURL),
		playlist.SyncPending,
		playlist.Status,
		playlist.UpdatedAt,
		playlist.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlist.ID))
}

// Archive marks an active playlist archived and returns its account id.
func (r *PlaylistRepository) Archive(ctx context.Context, id string) (string, error) {
	query := `
		UPDATE playlists SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING account_id
	`
	var accountID string
	err := r.db.QueryRowContext(ctx, query, models.StatusArchived, utc(time.Now()), id, models.StatusActive).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s is missing or already archived", shared.ErrPlaylistNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to archive playlist: %w", err)
	}
	return accountID, nil
}

// List retrieves the playlists matching filter ordered by account and display index
func (r *PlaylistRepository) List(ctx context.Context, filter models.PlaylistFilter) ([]*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE 1 = 1`
	args := []any{}

	if !filter.IncludeArchived {
		query += " AND status = ?"
		args = append(args, models.StatusActive)
	}

	if filter.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}

	if len(filter.IDs) > 0 {
		query += " AND id IN (" + placeholders(len(filter.IDs)) + ")"
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	query += " ORDER BY sequence ASC"
	return r.query(ctx, query, args...)
}

// ListDue returns active playlists never reshuffled or due at or before now, oldest due first.
func (r *PlaylistRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists
		WHERE status = ? AND (next_reshuffle_at IS NULL OR next_reshuffle_at <= ?)
		ORDER BY next_reshuffle_at ASC, sequence ASC`
	return r.query(ctx, query, models.StatusActive, utc(now))
}

// ListSyncPending returns active playlists whose last remote push failed.
func (r *PlaylistRepository) ListSyncPending(ctx context.Context) ([]*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE status = ? AND sync_pending = 1 ORDER BY sequence ASC`
	return r.query(ctx, query, models.StatusActive)
}

func (r *PlaylistRepository) query(ctx context.Context, query string, args ...any) ([]*models.Playlist, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.Playlist
	for rows.Next() {
		playlist, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, playlist)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return playlists, nil
}

// scanOne scans a single row into a [models.Playlist]
func (r *PlaylistRepository) scanOne(row *sql.Row) (*models.Playlist, error) {
	playlist, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrPlaylistNotFound
	}
	return playlist, err
}

func (r *PlaylistRepository) scan(s scanner) (*models.Playlist, error) {
	var (
		p            models.Playlist
		cooldownDays sql.NullInt64
		lastAt       sql.NullTime
		nextAt       sql.NullTime
		remoteID     sql.NullString
		externalURL  sql.NullString
	)

	err := s.Scan(&p.ID, &p.AccountID, &p.Index, &p.Name, &p.Prefix, &p.Description, &p.TargetSize, &cooldownDays,
		&p.ArtistCap, &p.IntervalDays, &lastAt, &nextAt, &remoteID, &externalURL, &p.SyncPending, &p.Status,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}

	p.CooldownDays = intPtr(cooldownDays)
	p.LastReshuffledAt = timePtr(lastAt)
	p.NextReshuffleAt = timePtr(nextAt)
	p.RemoteID = remoteID.String
	p.ExternalURL = externalURL.String
	return &p, nil
}
