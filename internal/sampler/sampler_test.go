package sampler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

func intPtr(v int) *int { return &v }

// catalog builds perArtist tracks for each artist, ids "<artist>-<n>".
func catalog(perArtist int, artists ...string) []models.Track {
	var tracks []models.Track
	for _, a := range artists {
		for n := range perArtist {
			tracks = append(tracks, models.Track{
				ID:         fmt.Sprintf("%s-%d", a, n),
				ExternalID: fmt.Sprintf("ext-%s-%d", a, n),
				Name:       fmt.Sprintf("Song %d", n),
				Artist:     a,
				Popularity: intPtr(50 + n),
				Usable:     true,
			})
		}
	}
	return tracks
}

func artistCounts(tracks []models.Track) map[string]int {
	counts := make(map[string]int)
	for _, t := range tracks {
		counts[t.Artist]++
	}
	return counts
}

func TestSelect(t *testing.T) {
	t.Run("balanced artists under cap", func(t *testing.T) {
		s := New(WithSeed(7))
		sel, err := s.Select(catalog(4, "a", "b", "c"), nil, Options{TargetSize: 6, ArtistCap: 2})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}

		if len(sel.Tracks) != 6 {
			t.Fatalf("expected 6 tracks, got %d", len(sel.Tracks))
		}
		for artist, n := range artistCounts(sel.Tracks) {
			if n != 2 {
				t.Errorf("expected exactly 2 tracks from %s, got %d", artist, n)
			}
		}
		if sel.CapRelaxed || sel.CooldownRelaxed {
			t.Errorf("no relaxation expected, got %+v", sel)
		}
	})

	t.Run("insufficient catalog", func(t *testing.T) {
		s := New(WithSeed(1))
		_, err := s.Select(catalog(5, "a"), nil, Options{TargetSize: 10, ArtistCap: 2})
		if !errors.Is(err, shared.ErrInsufficientTracks) {
			t.Fatalf("expected ErrInsufficientTracks, got %v", err)
		}
	})

	t.Run("unusable tracks are not candidates", func(t *testing.T) {
		tracks := catalog(3, "a", "b")
		for i := range tracks {
			if tracks[i].Artist == "b" {
				tracks[i].Usable = false
			}
		}

		s := New(WithSeed(1))
		if _, err := s.Select(tracks, nil, Options{TargetSize: 4, ArtistCap: 5}); !errors.Is(err, shared.ErrInsufficientTracks) {
			t.Fatalf("expected ErrInsufficientTracks, got %v", err)
		}

		sel, err := s.Select(tracks, nil, Options{TargetSize: 3, ArtistCap: 5})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		for _, tr := range sel.Tracks {
			if !tr.Usable {
				t.Errorf("selected unusable track %s", tr.ID)
			}
		}
	})

	t.Run("cooldown excludes recent tracks", func(t *testing.T) {
		tracks := catalog(4, "a", "b", "c")
		recent := map[string]struct{}{"a-0": {}, "b-0": {}, "c-0": {}}

		s := New(WithSeed(3))
		sel, err := s.Select(tracks, recent, Options{TargetSize: 6, ArtistCap: 2})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if sel.CooldownRelaxed {
			t.Error("cooldown should not be relaxed when the pool is large enough")
		}
		for _, tr := range sel.Tracks {
			if _, ok := recent[tr.ID]; ok {
				t.Errorf("selected recently used track %s", tr.ID)
			}
		}
	})

	t.Run("cooldown relaxed when pool too small", func(t *testing.T) {
		tracks := catalog(2, "a", "b", "c")
		recent := map[string]struct{}{"a-0": {}, "a-1": {}, "b-0": {}}

		s := New(WithSeed(3))
		sel, err := s.Select(tracks, recent, Options{TargetSize: 4, ArtistCap: 2})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if !sel.CooldownRelaxed {
			t.Error("expected cooldown relaxation")
		}
		if len(sel.Tracks) != 4 {
			t.Errorf("expected 4 tracks, got %d", len(sel.Tracks))
		}
	})

	t.Run("escape valve only when cap makes fill impossible", func(t *testing.T) {
		// a has 5 tracks and b has 1: with cap 2 at most 3 tracks can honour the cap.
		tracks := append(catalog(5, "a"), catalog(1, "b")...)

		s := New(WithSeed(11))
		sel, err := s.Select(tracks, nil, Options{TargetSize: 5, ArtistCap: 2})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if !sel.CapRelaxed {
			t.Error("expected cap relaxation")
		}
		if len(sel.Tracks) != 5 {
			t.Fatalf("expected 5 tracks, got %d", len(sel.Tracks))
		}
		if n := artistCounts(sel.Tracks)["b"]; n != 1 {
			t.Errorf("expected the only b track to be selected, got %d", n)
		}

		sel, err = s.Select(tracks, nil, Options{TargetSize: 3, ArtistCap: 2})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if sel.CapRelaxed {
			t.Error("cap should hold when Σ min(cap, n) reaches the target")
		}
		for artist, n := range artistCounts(sel.Tracks) {
			if n > 2 {
				t.Errorf("artist %s exceeds cap with %d tracks", artist, n)
			}
		}
	})

	t.Run("no duplicates", func(t *testing.T) {
		tracks := append(catalog(10, "a"), catalog(2, "b", "c")...)
		s := New(WithSeed(5))
		sel, err := s.Select(tracks, nil, Options{TargetSize: 14, ArtistCap: 1})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}

		seen := make(map[string]bool)
		for _, tr := range sel.Tracks {
			if seen[tr.ID] {
				t.Errorf("duplicate track %s", tr.ID)
			}
			seen[tr.ID] = true
		}
	})

	t.Run("deterministic with seed", func(t *testing.T) {
		tracks := catalog(6, "a", "b", "c", "d")
		opts := Options{TargetSize: 10, ArtistCap: 3}

		first, err := New(WithSeed(42)).Select(tracks, nil, opts)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		second, err := New(WithSeed(42)).Select(tracks, nil, opts)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}

		for i := range first.Tracks {
			if first.Tracks[i].ID != second.Tracks[i].ID {
				t.Fatalf("selections diverge at %d: %s != %s", i, first.Tracks[i].ID, second.Tracks[i].ID)
			}
		}
	})

	t.Run("invalid options", func(t *testing.T) {
		s := New()
		for _, opts := range []Options{{TargetSize: 0, ArtistCap: 2}, {TargetSize: 2, ArtistCap: 0}} {
			if _, err := s.Select(catalog(4, "a"), nil, opts); !errors.Is(err, shared.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput for %+v, got %v", opts, err)
			}
		}
	})

	t.Run("exact size across many targets", func(t *testing.T) {
		tracks := append(catalog(7, "a", "b"), catalog(1, "c", "d", "e")...)
		s := New(WithSeed(9))
		for size := 1; size <= len(tracks); size++ {
			for artistCap := 1; artistCap <= 3; artistCap++ {
				sel, err := s.Select(tracks, nil, Options{TargetSize: size, ArtistCap: artistCap})
				if err != nil {
					t.Fatalf("size %d cap %d: %v", size, artistCap, err)
				}
				if len(sel.Tracks) != size {
					t.Errorf("size %d cap %d: got %d tracks", size, artistCap, len(sel.Tracks))
				}

				possible := min(artistCap, 7)*2 + min(artistCap, 1)*3
				if sel.CapRelaxed != (possible < size) {
					t.Errorf("size %d cap %d: CapRelaxed=%v, possible=%d", size, artistCap, sel.CapRelaxed, possible)
				}
			}
		}
	})
}

func TestUsableOrdering(t *testing.T) {
	tracks := []models.Track{
		{ID: "c", Usable: true},
		{ID: "b", Usable: true, Popularity: intPtr(10)},
		{ID: "a", Usable: true},
		{ID: "d", Usable: true, Popularity: intPtr(90)},
		{ID: "e", Usable: false, Popularity: intPtr(99)},
		{ID: "f", Usable: true, Popularity: intPtr(10)},
	}

	got := usable(tracks)
	want := []string{"d", "b", "f", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tracks, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestCooldownExclusions(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	history := []models.HistoryEntry{
		{TrackID: "old", AddedAt: now.Add(-6 * 24 * time.Hour)},
		{TrackID: "edge", AddedAt: now.Add(-5 * 24 * time.Hour)},
		{TrackID: "new", AddedAt: now.Add(-time.Hour)},
	}

	recent := CooldownExclusions(history, now, 5)
	if _, ok := recent["old"]; ok {
		t.Error("track outside the window should not be excluded")
	}
	for _, id := range []string{"edge", "new"} {
		if _, ok := recent[id]; !ok {
			t.Errorf("expected %s to be excluded", id)
		}
	}

	if len(CooldownExclusions(history, now, 0)) != 0 {
		t.Error("zero cooldown should exclude nothing")
	}
}
