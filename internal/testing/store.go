package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// MemoryStore is an in-memory test double for the rotation manager's persistence.
//
// Returned playlists and accounts are copies; changes only stick through the save methods.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]*models.Account
	tracks    []models.Track
	playlists map[string]*models.Playlist
	order     []string
	history   []models.HistoryEntry
	failures  map[string]error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*models.Account),
		playlists: make(map[string]*models.Playlist),
		failures:  make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *MemoryStore) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *MemoryStore) fail(method string) error {
	return s.failures[method]
}

// AddAccount stores a copy of a, filling in an id and active status when missing.
func (s *MemoryStore) AddAccount(a models.Account) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = shared.GenerateID()
	}
	if a.Status == "" {
		a.Status = models.StatusActive
	}
	s.accounts[a.ID] = &a
	c := a
	return &c
}

// AddTracks appends tracks to the catalog, filling in ids when missing.
func (s *MemoryStore) AddTracks(tracks ...models.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tracks {
		if t.ID == "" {
			t.ID = shared.GenerateID()
		}
		s.tracks = append(s.tracks, t)
	}
}

// AddPlaylist stores a copy of p without touching account capacity.
func (s *MemoryStore) AddPlaylist(p models.Playlist) *models.Playlist {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = shared.GenerateID()
	}
	if p.Status == "" {
		p.Status = models.StatusActive
	}
	s.playlists[p.ID] = &p
	s.order = append(s.order, p.ID)
	c := p
	return &c
}

// Account returns a copy of the stored account, or nil.
func (s *MemoryStore) Account(id string) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	c := *a
	return &c
}

// Playlist returns a copy of the stored playlist, or nil.
func (s *MemoryStore) Playlist(id string) *models.Playlist {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playlists[id]
	if !ok {
		return nil
	}
	c := *p
	return &c
}

// History returns the ledger entries of a playlist in insertion order.
func (s *MemoryStore) History(playlistID string) []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []models.HistoryEntry
	for _, e := range s.history {
		if e.PlaylistID == playlistID {
			entries = append(entries, e)
		}
	}
	return entries
}

// Batches returns the distinct batch tags of a playlist in insertion order.
func (s *MemoryStore) Batches(playlistID string) []string {
	var tags []string
	seen := make(map[string]struct{})
	for _, e := range s.History(playlistID) {
		if _, ok := seen[e.BatchTag]; !ok {
			seen[e.BatchTag] = struct{}{}
			tags = append(tags, e.BatchTag)
		}
	}
	return tags
}

// Track returns a copy of the catalog track with id, or nil.
func (s *MemoryStore) Track(id string) *models.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.ID == id {
			return &t
		}
	}
	return nil
}

func (s *MemoryStore) LoadUsableTracks(ctx context.Context) ([]models.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("LoadUsableTracks"); err != nil {
		return nil, err
	}
	var usable []models.Track
	for _, t := range s.tracks {
		if t.Usable {
			usable = append(usable, t)
		}
	}
	return usable, nil
}

func (s *MemoryStore) LoadRecentHistory(ctx context.Context, playlistID string, since time.Time) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("LoadRecentHistory"); err != nil {
		return nil, err
	}
	recent := make(map[string]struct{})
	for _, e := range s.history {
		if e.PlaylistID == playlistID && !e.AddedAt.Before(since) {
			recent[e.TrackID] = struct{}{}
		}
	}
	return recent, nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, playlistID string, trackIDs []string, batchTag string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AppendHistory"); err != nil {
		return err
	}
	if _, ok := s.playlists[playlistID]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
	}
	for i, id := range trackIDs {
		s.history = append(s.history, models.HistoryEntry{
			ID:         shared.GenerateID(),
			PlaylistID: playlistID,
			TrackID:    id,
			AddedAt:    at,
			BatchTag:   batchTag,
			Position:   i,
		})
	}
	return nil
}

func (s *MemoryStore) LatestBatch(ctx context.Context, playlistID string) (string, []models.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("LatestBatch"); err != nil {
		return "", nil, err
	}

	var latest *models.HistoryEntry
	for i := range s.history {
		e := &s.history[i]
		if e.PlaylistID != playlistID {
			continue
		}
		if latest == nil || e.AddedAt.After(latest.AddedAt) || (e.AddedAt.Equal(latest.AddedAt) && e.BatchTag > latest.BatchTag) {
			latest = e
		}
	}
	if latest == nil {
		return "", nil, nil
	}

	var entries []models.HistoryEntry
	for _, e := range s.history {
		if e.PlaylistID == playlistID && e.BatchTag == latest.BatchTag {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })

	tracks := make([]models.Track, 0, len(entries))
	for _, e := range entries {
		for _, t := range s.tracks {
			if t.ID == e.TrackID {
				tracks = append(tracks, t)
				break
			}
		}
	}
	return latest.BatchTag, tracks, nil
}

func (s *MemoryStore) TouchTracks(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TouchTracks"); err != nil {
		return err
	}
	touched := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		touched[id] = struct{}{}
	}
	for i := range s.tracks {
		if _, ok := touched[s.tracks[i].ID]; ok {
			used := at
			s.tracks[i].LastUsedAt = &used
		}
	}
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetAccount"); err != nil {
		return nil, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, id)
	}
	c := *a
	return &c, nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListAccounts"); err != nil {
		return nil, err
	}
	accounts := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		c := *a
		accounts = append(accounts, &c)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *MemoryStore) ReserveCapacity(ctx context.Context, accountID string, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReserveCapacity"); err != nil {
		return 0, err
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, accountID)
	}
	if a.PlaylistCount+n > a.CapacityCeiling {
		return 0, fmt.Errorf("%w: account %s has %d of %d playlists", shared.ErrCapacityExceeded, accountID, a.PlaylistCount, a.CapacityCeiling)
	}
	a.PlaylistCount += n
	a.PlaylistSeq += n
	return a.PlaylistSeq - n + 1, nil
}

func (s *MemoryStore) ReleaseCapacity(ctx context.Context, accountID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReleaseCapacity"); err != nil {
		return err
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrAccountNotFound, accountID)
	}
	a.PlaylistCount = max(a.PlaylistCount-n, 0)
	return nil
}

func (s *MemoryStore) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetPlaylist"); err != nil {
		return nil, err
	}
	p, ok := s.playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) ListPlaylists(ctx context.Context, filter models.PlaylistFilter) ([]*models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListPlaylists"); err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(filter.IDs))
	for _, id := range filter.IDs {
		ids[id] = struct{}{}
	}

	return s.collect(func(p *models.Playlist) bool {
		if !filter.IncludeArchived && p.Status != models.StatusActive {
			return false
		}
		if filter.AccountID != "" && p.AccountID != filter.AccountID {
			return false
		}
		if len(ids) > 0 {
			if _, ok := ids[p.ID]; !ok {
				return false
			}
		}
		return true
	}), nil
}

func (s *MemoryStore) ListDuePlaylists(ctx context.Context, now time.Time) ([]*models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListDuePlaylists"); err != nil {
		return nil, err
	}
	due := s.collect(func(p *models.Playlist) bool { return p.IsDue(now) })
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].NextReshuffleAt, due[j].NextReshuffleAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return due, nil
}

func (s *MemoryStore) ListSyncPending(ctx context.Context) ([]*models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListSyncPending"); err != nil {
		return nil, err
	}
	return s.collect(func(p *models.Playlist) bool { return p.Status == models.StatusActive && p.SyncPending }), nil
}

func (s *MemoryStore) collect(match func(*models.Playlist) bool) []*models.Playlist {
	var playlists []*models.Playlist
	for _, id := range s.order {
		if p := s.playlists[id]; match(p) {
			c := *p
			playlists = append(playlists, &c)
		}
	}
	return playlists
}

func (s *MemoryStore) CreatePlaylist(ctx context.Context, p *models.Playlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreatePlaylist"); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = models.StatusActive
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}
	now := time.Now()
	p.ID = shared.GenerateID()
	p.CreatedAt = now
	p.UpdatedAt = now
	c := *p
	s.playlists[p.ID] = &c
	s.order = append(s.order, p.ID)
	return nil
}

func (s *MemoryStore) SavePlaylist(ctx context.Context, p *models.Playlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SavePlaylist"); err != nil {
		return err
	}
	if _, ok := s.playlists[p.ID]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, p.ID)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}
	c := *p
	s.playlists[p.ID] = &c
	return nil
}

func (s *MemoryStore) ArchivePlaylist(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ArchivePlaylist"); err != nil {
		return err
	}
	p, ok := s.playlists[id]
	if !ok || p.Status != models.StatusActive {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	p.Status = models.StatusArchived
	if a, ok := s.accounts[p.AccountID]; ok {
		a.PlaylistCount = max(a.PlaylistCount-1, 0)
	}
	return nil
}

// PlaylistHistory returns the playlist's ledger rows newest batch first, positions ascending.
func (s *MemoryStore) PlaylistHistory(ctx context.Context, playlistID string, limit int) ([]models.HistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("PlaylistHistory"); err != nil {
		return nil, err
	}

	tracks := make(map[string]models.Track, len(s.tracks))
	for _, t := range s.tracks {
		tracks[t.ID] = t
	}

	var rows []models.HistoryRow
	for _, e := range s.history {
		if e.PlaylistID != playlistID {
			continue
		}
		t := tracks[e.TrackID]
		rows = append(rows, models.HistoryRow{HistoryEntry: e, TrackName: t.Name, Artist: t.Artist, ExternalID: t.ExternalID})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].AddedAt.Equal(rows[j].AddedAt) {
			return rows[i].AddedAt.After(rows[j].AddedAt)
		}
		if rows[i].BatchTag != rows[j].BatchTag {
			return rows[i].BatchTag > rows[j].BatchTag
		}
		return rows[i].Position < rows[j].Position
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}
