package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/desertthunder/rotator/internal/models"
)

// Store composes the repositories into the persistence layer used by the rotation manager.
type Store struct {
	db        *sql.DB
	Accounts  *AccountRepository
	Tracks    *TrackRepository
	Playlists *PlaylistRepository
	History   *HistoryRepository
	Metrics   *MetricRepository
}

// NewStore creates a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:        db,
		Accounts:  NewAccountRepository(db),
		Tracks:    NewTrackRepository(db),
		Playlists: NewPlaylistRepository(db),
		History:   NewHistoryRepository(db),
		Metrics:   NewMetricRepository(db),
	}
}

func (s *Store) LoadUsableTracks(ctx context.Context) ([]models.Track, error) {
	return s.Tracks.ListUsable(ctx)
}

func (s *Store) LoadRecentHistory(ctx context.Context, playlistID string, since time.Time) (map[string]struct{}, error) {
	return s.History.RecentTrackIDs(ctx, playlistID, since)
}

func (s *Store) AppendHistory(ctx context.Context, playlistID string, trackIDs []string, batchTag string, at time.Time) error {
	_, err := s.History.Append(ctx, playlistID, trackIDs, batchTag, at)
	return err
}

func (s *Store) LatestBatch(ctx context.Context, playlistID string) (string, []models.Track, error) {
	return s.History.LatestBatch(ctx, playlistID)
}

func (s *Store) TouchTracks(ctx context.Context, ids []string, at time.Time) error {
	return s.Tracks.Touch(ctx, ids, at)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.Accounts.Get(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.Accounts.List(ctx)
}

func (s *Store) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	return s.Playlists.Get(ctx, id)
}

func (s *Store) ListPlaylists(ctx context.Context, filter models.PlaylistFilter) ([]*models.Playlist, error) {
	return s.Playlists.List(ctx, filter)
}

func (s *Store) ListDuePlaylists(ctx context.Context, now time.Time) ([]*models.Playlist, error) {
	return s.Playlists.ListDue(ctx, now)
}

func (s *Store) ListSyncPending(ctx context.Context) ([]*models.Playlist, error) {
	return s.Playlists.ListSyncPending(ctx)
}

func (s *Store) CreatePlaylist(ctx context.Context, p *models.Playlist) error {
	return s.Playlists.Create(ctx, p)
}

func (s *Store) SavePlaylist(ctx context.Context, p *models.Playlist) error {
	return s.Playlists.Update(ctx, p)
}

func (s *Store) ReserveCapacity(ctx context.Context, accountID string, n int) (int, error) {
	return s.Accounts.ReserveCapacity(ctx, accountID, n)
}

func (s *Store) ReleaseCapacity(ctx context.Context, accountID string, n int) error {
	return s.Accounts.ReleaseCapacity(ctx, accountID, n)
}

// ArchivePlaylist archives the playlist and frees its account slot in one transaction.
func (s *Store) ArchivePlaylist(ctx context.Context, id string) error {
	return withTx(ctx, s.db, func(tx dbtx) error {
		accountID, err := NewPlaylistRepository(tx).Archive(ctx, id)
		if err != nil {
			return err
		}
		return NewAccountRepository(tx).ReleaseCapacity(ctx, accountID, 1)
	})
}

// PlaylistHistory returns ledger rows joined with their tracks, newest first.
func (s *Store) PlaylistHistory(ctx context.Context, playlistID string, limit int) ([]models.HistoryRow, error) {
	return s.History.List(ctx, playlistID, limit)
}
