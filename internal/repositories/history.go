package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// HistoryRepository reads and appends the rotation ledger.
//
// Entries are only ever inserted. They go away solely when their playlist or track row is deleted.
type HistoryRepository struct {
	db dbtx
}

// NewHistoryRepository creates a new HistoryRepository with the given database connection
func NewHistoryRepository(db dbtx) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append records trackIDs, in order, as one batch for the playlist.
func (r *HistoryRepository) Append(ctx context.Context, playlistID string, trackIDs []string, batchTag string, at time.Time) ([]models.HistoryEntry, error) {
	if batchTag == "" {
		return nil, fmt.Errorf("%w: batch tag is required", shared.ErrInvalidInput)
	}

	entries := make([]models.HistoryEntry, 0, len(trackIDs))
	err := withTx(ctx, r.db, func(tx dbtx) error {
		query := `
			INSERT INTO playlist_entries_history (id, playlist_id, track_id, added_at, batch_tag, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		for i, trackID := range trackIDs {
			entry := models.HistoryEntry{
				ID:         shared.GenerateID(),
				PlaylistID: playlistID,
				TrackID:    trackID,
				AddedAt:    utc(at),
				BatchTag:   batchTag,
				Position:   i,
			}
			if _, err := tx.ExecContext(ctx, query, entry.ID, entry.PlaylistID, entry.TrackID, entry.AddedAt, entry.BatchTag, entry.Position); err != nil {
				return fmt.Errorf("failed to append history entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Since returns the playlist's entries added at or after since.
func (r *HistoryRepository) Since(ctx context.Context, playlistID string, since time.Time) ([]models.HistoryEntry, error) {
	query := `
		SELECT id, playlist_id, track_id, added_at, batch_tag, position
		FROM playlist_entries_history
		WHERE playlist_id = ? AND added_at >= ?
		ORDER BY added_at ASC, position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, playlistID, utc(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.PlaylistID, &e.TrackID, &e.AddedAt, &e.BatchTag, &e.Position); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// RecentTrackIDs returns the set of tracks placed in the playlist at or after since.
func (r *HistoryRepository) RecentTrackIDs(ctx context.Context, playlistID string, since time.Time) (map[string]struct{}, error) {
	entries, err := r.Since(ctx, playlistID, since)
	if err != nil {
		return nil, err
	}

	recent := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		recent[e.TrackID] = struct{}{}
	}
	return recent, nil
}

// LatestBatch returns the tag and the tracks, in position order, of the playlist's newest batch.
// An empty tag means the playlist has no history.
func (r *HistoryRepository) LatestBatch(ctx context.Context, playlistID string) (string, []models.Track, error) {
	var tag string
	query := `
		SELECT batch_tag FROM playlist_entries_history
		WHERE playlist_id = ?
		ORDER BY added_at DESC, batch_tag DESC
		LIMIT 1
	`
	rows, err := r.db.QueryContext(ctx, query, playlistID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query latest batch: %w", err)
	}
	if rows.Next() {
		if err := rows.Scan(&tag); err != nil {
			rows.Close()
			return "", nil, fmt.Errorf("failed to scan batch tag: %w", err)
		}
	}
	rows.Close()
	if tag == "" {
		return "", nil, nil
	}

	query = `
		SELECT ` + prefixed("t", trackColumns) + `
		FROM playlist_entries_history h
		JOIN tracks t ON t.id = h.track_id
		WHERE h.playlist_id = ? AND h.batch_tag = ?
		ORDER BY h.position ASC
	`
	rows, err = r.db.QueryContext(ctx, query, playlistID, tag)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query batch tracks: %w", err)
	}
	defer rows.Close()

	tracks := NewTrackRepository(r.db)
	var batch []models.Track
	for rows.Next() {
		t, err := tracks.scan(rows)
		if err != nil {
			return "", nil, err
		}
		batch = append(batch, *t)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tag, batch, nil
}

// List returns up to limit ledger rows of the playlist joined with their tracks, newest batch first.
func (r *HistoryRepository) List(ctx context.Context, playlistID string, limit int) ([]models.HistoryRow, error) {
	query := `
		SELECT h.id, h.playlist_id, h.track_id, h.added_at, h.batch_tag, h.position, t.name, t.artist, t.external_id
		FROM playlist_entries_history h
		JOIN tracks t ON t.id = h.track_id
		WHERE h.playlist_id = ?
		ORDER BY h.added_at DESC, h.batch_tag DESC, h.position ASC
	`
	args := []any{playlistID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryRow
	for rows.Next() {
		var h models.HistoryRow
		if err := rows.Scan(&h.ID, &h.PlaylistID, &h.TrackID, &h.AddedAt, &h.BatchTag, &h.Position, &h.TrackName, &h.Artist, &h.ExternalID); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}
