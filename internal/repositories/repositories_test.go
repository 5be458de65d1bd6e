package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func seedAccount(t *testing.T, store *Store, remoteUserID string, ceiling int) *models.Account {
	t.Helper()

	account := &models.Account{DisplayName: "Test " + remoteUserID, RemoteUserID: remoteUserID, CapacityCeiling: ceiling}
	if err := store.Accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return account
}

func seedTracks(t *testing.T, store *Store, n int) []models.Track {
	t.Helper()

	tracks := make([]models.Track, n)
	for i := range tracks {
		pop := 100 - i
		tracks[i] = models.Track{
			ExternalID: fmt.Sprintf("ext-%03d", i),
			Name:       fmt.Sprintf("Song %d", i),
			Artist:     fmt.Sprintf("Artist %d", i%3),
			Popularity: &pop,
		}
	}
	if _, err := store.Tracks.Import(context.Background(), tracks); err != nil {
		t.Fatalf("failed to import tracks: %v", err)
	}
	return tracks
}

func seedPlaylist(t *testing.T, store *Store, accountID string, index int) *models.Playlist {
	t.Helper()

	p := &models.Playlist{
		AccountID:    accountID,
		Index:        index,
		Name:         fmt.Sprintf("Vibe Collection • %03d", index),
		Prefix:       "Vibe Collection",
		TargetSize:   5,
		ArtistCap:    2,
		IntervalDays: 5,
	}
	if err := store.Playlists.Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create playlist: %v", err)
	}
	return p
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := NextSequence(ctx, db, "playlists")
		if err != nil {
			t.Fatalf("NextSequence failed: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}
}

func TestAccountRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)

		if account.ID == "" {
			t.Fatal("account ID should be set after creation")
		}

		got, err := store.Accounts.Get(ctx, account.ID)
		if err != nil {
			t.Fatalf("failed to get account: %v", err)
		}
		if got.RemoteUserID != "user-1" || got.CapacityCeiling != 10 || got.Status != models.StatusActive {
			t.Errorf("unexpected account %+v", got)
		}

		byRemote, err := store.Accounts.GetByRemoteUserID(ctx, "user-1")
		if err != nil || byRemote.ID != account.ID {
			t.Errorf("GetByRemoteUserID returned %v, %v", byRemote, err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)

		account.Prefix = "Late Night"
		account.CapacityCeiling = 20
		if err := store.Accounts.Update(ctx, account); err != nil {
			t.Fatalf("failed to update account: %v", err)
		}

		got, _ := store.Accounts.Get(ctx, account.ID)
		if got.Prefix != "Late Night" || got.CapacityCeiling != 20 {
			t.Errorf("update not persisted: %+v", got)
		}
	})

	t.Run("List", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		seedAccount(t, store, "user-1", 10)
		seedAccount(t, store, "user-2", 10)

		accounts, err := store.Accounts.List(ctx)
		if err != nil {
			t.Fatalf("failed to list accounts: %v", err)
		}
		if len(accounts) != 2 || accounts[0].RemoteUserID != "user-1" {
			t.Errorf("unexpected accounts %+v", accounts)
		}
	})

	t.Run("ReserveCapacity", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 5)

		start, err := store.Accounts.ReserveCapacity(ctx, account.ID, 3)
		if err != nil {
			t.Fatalf("failed to reserve: %v", err)
		}
		if start != 1 {
			t.Errorf("expected first index 1, got %d", start)
		}

		start, err = store.Accounts.ReserveCapacity(ctx, account.ID, 2)
		if err != nil {
			t.Fatalf("failed to reserve: %v", err)
		}
		if start != 4 {
			t.Errorf("expected first index 4, got %d", start)
		}

		if _, err := store.Accounts.ReserveCapacity(ctx, account.ID, 1); !errors.Is(err, shared.ErrCapacityExceeded) {
			t.Errorf("expected ErrCapacityExceeded, got %v", err)
		}

		got, _ := store.Accounts.Get(ctx, account.ID)
		if got.PlaylistCount != 5 || got.PlaylistSeq != 5 {
			t.Errorf("unexpected counters %+v", got)
		}
	})

	t.Run("ReleaseCapacity keeps indices monotonic", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 2)

		if _, err := store.Accounts.ReserveCapacity(ctx, account.ID, 2); err != nil {
			t.Fatalf("failed to reserve: %v", err)
		}
		if err := store.Accounts.ReleaseCapacity(ctx, account.ID, 1); err != nil {
			t.Fatalf("failed to release: %v", err)
		}

		start, err := store.Accounts.ReserveCapacity(ctx, account.ID, 1)
		if err != nil {
			t.Fatalf("failed to reserve after release: %v", err)
		}
		if start != 3 {
			t.Errorf("expected index 3 after release, got %d", start)
		}
	})

	t.Run("ReserveCapacity concurrent", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ok       int
			exceeded int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Accounts.ReserveCapacity(ctx, account.ID, 3)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, shared.ErrCapacityExceeded):
					exceeded++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if ok != 3 || exceeded != 5 {
			t.Errorf("expected 3 successes and 5 rejections, got %d and %d", ok, exceeded)
		}

		got, _ := store.Accounts.Get(ctx, account.ID)
		if got.PlaylistCount != 9 {
			t.Errorf("expected 9 reserved slots, got %d", got.PlaylistCount)
		}
	})

	t.Run("ReserveCapacity unknown account", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		if _, err := store.Accounts.ReserveCapacity(ctx, "missing", 1); !errors.Is(err, shared.ErrAccountNotFound) {
			t.Errorf("expected ErrAccountNotFound, got %v", err)
		}
	})

	t.Run("Tokens", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)

		if _, err := store.Accounts.Token(ctx, account.ID); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated before linking, got %v", err)
		}

		expiry := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
		token := &models.AccountToken{AccessToken: "access", RefreshToken: "refresh", Expiry: expiry}
		if err := store.Accounts.SaveToken(ctx, account.ID, token); err != nil {
			t.Fatalf("failed to save token: %v", err)
		}

		got, err := store.Accounts.Token(ctx, account.ID)
		if err != nil {
			t.Fatalf("failed to load token: %v", err)
		}
		if got.AccessToken != "access" || got.RefreshToken != "refresh" || !got.Expiry.Equal(expiry) {
			t.Errorf("unexpected token %+v", got)
		}

		ids, err := store.Accounts.ListExpiringTokens(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("failed to list expiring tokens: %v", err)
		}
		if len(ids) != 1 || ids[0] != account.ID {
			t.Errorf("expected account to be expiring, got %v", ids)
		}

		ids, _ = store.Accounts.ListExpiringTokens(ctx, time.Now())
		if len(ids) != 0 {
			t.Errorf("expected no expiring tokens yet, got %v", ids)
		}
	})
}

func TestTrackRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Import inserts then updates", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		seedTracks(t, store, 4)

		changed := []models.Track{
			{ExternalID: "ext-000", Name: "Renamed", Artist: "Artist 0"},
			{ExternalID: "ext-new", Name: "New", Artist: "Artist 9"},
		}
		result, err := store.Tracks.Import(ctx, changed)
		if err != nil {
			t.Fatalf("import failed: %v", err)
		}
		if result.Inserted != 1 || result.Updated != 1 {
			t.Errorf("unexpected import result %+v", result)
		}

		got, err := store.Tracks.GetByExternalID(ctx, "ext-000")
		if err != nil {
			t.Fatalf("failed to get track: %v", err)
		}
		if got.Name != "Renamed" || got.Popularity != nil {
			t.Errorf("unexpected track after update %+v", got)
		}
	})

	t.Run("Import rejects invalid tracks", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		_, err := store.Tracks.Import(ctx, []models.Track{{ExternalID: "x", Name: "No Artist"}})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}

		all, _ := store.Tracks.List(ctx, TrackFilter{})
		if len(all) != 0 {
			t.Errorf("nothing should be imported, got %d", len(all))
		}
	})

	t.Run("SetUsable and ListUsable", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		tracks := seedTracks(t, store, 4)

		if err := store.Tracks.SetUsable(ctx, tracks[1].ID, false); err != nil {
			t.Fatalf("failed to disable track: %v", err)
		}
		if err := store.Tracks.SetUsable(ctx, "ext-002", false); err != nil {
			t.Fatalf("failed to disable track by external id: %v", err)
		}

		usable, err := store.Tracks.ListUsable(ctx)
		if err != nil {
			t.Fatalf("failed to list usable: %v", err)
		}
		if len(usable) != 2 {
			t.Errorf("expected 2 usable tracks, got %d", len(usable))
		}

		if err := store.Tracks.SetUsable(ctx, "missing", true); !errors.Is(err, shared.ErrTrackNotFound) {
			t.Errorf("expected ErrTrackNotFound, got %v", err)
		}
	})

	t.Run("List filters", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		seedTracks(t, store, 6)

		byArtist, err := store.Tracks.List(ctx, TrackFilter{Artist: "Artist 1"})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(byArtist) != 2 {
			t.Errorf("expected 2 tracks for Artist 1, got %d", len(byArtist))
		}

		limited, _ := store.Tracks.List(ctx, TrackFilter{Limit: 4})
		if len(limited) != 4 {
			t.Errorf("expected 4 tracks with limit, got %d", len(limited))
		}
	})

	t.Run("Touch", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		tracks := seedTracks(t, store, 3)
		at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

		if err := store.Tracks.Touch(ctx, []string{tracks[0].ID, tracks[2].ID}, at); err != nil {
			t.Fatalf("failed to touch: %v", err)
		}

		got, _ := store.Tracks.Get(ctx, tracks[0].ID)
		if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
			t.Errorf("expected last used %s, got %v", at, got.LastUsedAt)
		}
		untouched, _ := store.Tracks.Get(ctx, tracks[1].ID)
		if untouched.LastUsedAt != nil {
			t.Errorf("track 1 should not be touched, got %v", untouched.LastUsedAt)
		}
	})
}

func TestPlaylistRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)
		p := seedPlaylist(t, store, account.ID, 1)

		got, err := store.Playlists.Get(ctx, p.ID)
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}
		if got.Name != "Vibe Collection • 001" || got.Synced() || got.CooldownDays != nil || got.Status != models.StatusActive {
			t.Errorf("unexpected playlist %+v", got)
		}
	})

	t.Run("Duplicate index rejected", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)
		seedPlaylist(t, store, account.ID, 1)

		dup := &models.Playlist{AccountID: account.ID, Index: 1, Name: "dup", TargetSize: 5, IntervalDays: 5}
		if err := store.Playlists.Create(ctx, dup); err == nil {
			t.Error("expected unique index violation")
		}
	})

	t.Run("Update", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)
		p := seedPlaylist(t, store, account.ID, 1)

		cooldown := 3
		p.CooldownDays = &cooldown
		p.RemoteID = "remote-1"
		p.ExternalURL = "https://open.spotify.com/playlist/remote-1"
		p.SyncPending = true
		p.MarkReshuffled(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
		if err := store.Playlists.Update(ctx, p); err != nil {
			t.Fatalf("failed to update: %v", err)
		}

		got, _ := store.Playlists.Get(ctx, p.ID)
		if got.RemoteID != "remote-1" || !got.SyncPending || *got.CooldownDays != 3 {
			t.Errorf("update not persisted: %+v", got)
		}
		if !got.NextReshuffleAt.Equal(time.Date(2025, 5, 6, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected next reshuffle %v", got.NextReshuffleAt)
		}

		p.ID = "missing"
		if err := store.Playlists.Update(ctx, p); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("ListDue", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)
		now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

		never := seedPlaylist(t, store, account.ID, 1)

		due := seedPlaylist(t, store, account.ID, 2)
		due.MarkReshuffled(now.Add(-6 * 24 * time.Hour))
		store.Playlists.Update(ctx, due)

		fresh := seedPlaylist(t, store, account.ID, 3)
		fresh.MarkReshuffled(now.Add(-time.Hour))
		store.Playlists.Update(ctx, fresh)

		archived := seedPlaylist(t, store, account.ID, 4)
		archived.Status = models.StatusArchived
		store.Playlists.Update(ctx, archived)

		got, err := store.Playlists.ListDue(ctx, now)
		if err != nil {
			t.Fatalf("failed to list due: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 due playlists, got %d", len(got))
		}
		if got[0].ID != never.ID || got[1].ID != due.ID {
			t.Errorf("unexpected due order %s, %s", got[0].Name, got[1].Name)
		}
	})

	t.Run("List filters", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		a1 := seedAccount(t, store, "user-1", 10)
		a2 := seedAccount(t, store, "user-2", 10)
		p1 := seedPlaylist(t, store, a1.ID, 1)
		seedPlaylist(t, store, a1.ID, 2)
		p3 := seedPlaylist(t, store, a2.ID, 1)

		byAccount, _ := store.Playlists.List(ctx, models.PlaylistFilter{AccountID: a1.ID})
		if len(byAccount) != 2 {
			t.Errorf("expected 2 playlists for account 1, got %d", len(byAccount))
		}

		byID, _ := store.Playlists.List(ctx, models.PlaylistFilter{IDs: []string{p1.ID, p3.ID}})
		if len(byID) != 2 {
			t.Errorf("expected 2 selected playlists, got %d", len(byID))
		}
	})

	t.Run("ArchivePlaylist frees capacity", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 1)
		if _, err := store.ReserveCapacity(ctx, account.ID, 1); err != nil {
			t.Fatalf("failed to reserve: %v", err)
		}
		p := seedPlaylist(t, store, account.ID, 1)

		if err := store.ArchivePlaylist(ctx, p.ID); err != nil {
			t.Fatalf("failed to archive: %v", err)
		}

		got, _ := store.Playlists.Get(ctx, p.ID)
		if got.Status != models.StatusArchived {
			t.Errorf("expected archived status, got %s", got.Status)
		}
		acct, _ := store.Accounts.Get(ctx, account.ID)
		if acct.PlaylistCount != 0 {
			t.Errorf("expected capacity released, got count %d", acct.PlaylistCount)
		}

		if err := store.ArchivePlaylist(ctx, p.ID); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("archiving twice should fail with ErrPlaylistNotFound, got %v", err)
		}
		acct, _ = store.Accounts.Get(ctx, account.ID)
		if acct.PlaylistCount != 0 {
			t.Errorf("failed archive must not release capacity, got count %d", acct.PlaylistCount)
		}
	})
}

func TestHistoryRepository(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Store, *models.Playlist, []models.Track) {
		store := NewStore(setupTestDB(t))
		account := seedAccount(t, store, "user-1", 10)
		tracks := seedTracks(t, store, 6)
		return store, seedPlaylist(t, store, account.ID, 1), tracks
	}

	t.Run("Append and RecentTrackIDs", func(t *testing.T) {
		store, p, tracks := setup(t)
		now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

		old := now.Add(-10 * 24 * time.Hour)
		if _, err := store.History.Append(ctx, p.ID, []string{tracks[0].ID, tracks[1].ID}, "2025-04-30-aaaa", old); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		entries, err := store.History.Append(ctx, p.ID, []string{tracks[2].ID, tracks[3].ID}, "2025-05-10-bbbb", now)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if len(entries) != 2 || entries[1].Position != 1 {
			t.Errorf("unexpected entries %+v", entries)
		}

		recent, err := store.History.RecentTrackIDs(ctx, p.ID, now.Add(-5*24*time.Hour))
		if err != nil {
			t.Fatalf("recent failed: %v", err)
		}
		if len(recent) != 2 {
			t.Fatalf("expected 2 recent tracks, got %d", len(recent))
		}
		if _, ok := recent[tracks[0].ID]; ok {
			t.Error("old entry should be outside the window")
		}
	})

	t.Run("Append rejects duplicate in batch", func(t *testing.T) {
		store, p, tracks := setup(t)
		_, err := store.History.Append(ctx, p.ID, []string{tracks[0].ID, tracks[0].ID}, "2025-05-10-cccc", time.Now())
		if err == nil {
			t.Fatal("expected unique violation")
		}

		rows, _ := store.History.List(ctx, p.ID, 0)
		if len(rows) != 0 {
			t.Errorf("failed batch must not leave rows, got %d", len(rows))
		}
	})

	t.Run("LatestBatch", func(t *testing.T) {
		store, p, tracks := setup(t)

		tag, batch, err := store.History.LatestBatch(ctx, p.ID)
		if err != nil || tag != "" || batch != nil {
			t.Fatalf("expected empty history, got %q %v %v", tag, batch, err)
		}

		first := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
		store.History.Append(ctx, p.ID, []string{tracks[0].ID}, "2025-05-01-aaaa", first)
		store.History.Append(ctx, p.ID, []string{tracks[4].ID, tracks[2].ID, tracks[5].ID}, "2025-05-06-bbbb", first.Add(5*24*time.Hour))

		tag, batch, err = store.History.LatestBatch(ctx, p.ID)
		if err != nil {
			t.Fatalf("latest batch failed: %v", err)
		}
		if tag != "2025-05-06-bbbb" {
			t.Errorf("expected newest tag, got %s", tag)
		}
		want := []string{tracks[4].ID, tracks[2].ID, tracks[5].ID}
		if len(batch) != len(want) {
			t.Fatalf("expected %d tracks, got %d", len(want), len(batch))
		}
		for i := range want {
			if batch[i].ID != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], batch[i].ID)
			}
		}
	})

	t.Run("List joins tracks", func(t *testing.T) {
		store, p, tracks := setup(t)
		store.History.Append(ctx, p.ID, []string{tracks[0].ID, tracks[1].ID}, "2025-05-01-aaaa", time.Now())

		rows, err := store.History.List(ctx, p.ID, 1)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(rows) != 1 || rows[0].TrackName != "Song 0" || rows[0].ExternalID != "ext-000" {
			t.Errorf("unexpected rows %+v", rows)
		}
	})
}

func TestMetricRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	account := seedAccount(t, store, "user-1", 10)
	tracks := seedTracks(t, store, 4)
	p := seedPlaylist(t, store, account.ID, 1)

	now := time.Now().UTC()
	p.MarkReshuffled(now)
	p.SyncPending = true
	store.Playlists.Update(ctx, p)
	store.History.Append(ctx, p.ID, []string{tracks[0].ID, tracks[1].ID}, "batch-a", now)

	t.Run("Overview", func(t *testing.T) {
		o, err := store.Metrics.Overview(ctx, now)
		if err != nil {
			t.Fatalf("overview failed: %v", err)
		}
		if o.Accounts != 1 || o.Playlists != 1 || o.Tracks != 4 || o.ReshufflesToday != 1 {
			t.Errorf("unexpected overview %+v", o)
		}
		if o.Health != "degraded" || o.SyncPending != 1 {
			t.Errorf("expected degraded health with a pending sync, got %+v", o)
		}
		if o.NextReshuffleAt == nil || o.NextReshuffleAt.Sub(*p.NextReshuffleAt).Abs() > time.Second {
			t.Errorf("unexpected next reshuffle %v", o.NextReshuffleAt)
		}
	})

	t.Run("Snapshot and History", func(t *testing.T) {
		s, err := store.Metrics.Snapshot(ctx, now)
		if err != nil {
			t.Fatalf("snapshot failed: %v", err)
		}
		if s.ReshufflesLast24h != 1 || s.AvgTracksPerPlaylist != 5 {
			t.Errorf("unexpected snapshot %+v", s)
		}

		history, err := store.Metrics.History(ctx, now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if len(history) != 1 || history[0].ID != s.ID {
			t.Errorf("unexpected history %+v", history)
		}
	})
}
