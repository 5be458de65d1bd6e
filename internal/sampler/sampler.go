package sampler

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// Options constrains a single selection.
type Options struct {
	TargetSize int
	ArtistCap  int
}

// Selection is the outcome of [Sampler.Select].
type Selection struct {
	Tracks []models.Track
	// CooldownRelaxed is set when recently used tracks had to be allowed back in.
	CooldownRelaxed bool
	// CapRelaxed is set when the artist cap was ignored to reach the target size.
	CapRelaxed bool
}

// IDs returns the selected track ids in order.
func (s *Selection) IDs() []string {
	ids := make([]string, len(s.Tracks))
	for i, t := range s.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// URIs returns the selected track URIs in order.
func (s *Selection) URIs() []string {
	uris := make([]string, len(s.Tracks))
	for i := range s.Tracks {
		uris[i] = s.Tracks[i].URI()
	}
	return uris
}

// Sampler selects tracks. It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a [Sampler].
type Option func(*Sampler)

// WithSeed makes selections reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Sampler) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// New creates a Sampler seeded from the runtime's random source unless [WithSeed] is given.
func New(opts ...Option) *Sampler {
	s := &Sampler{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns an ordered selection of exactly opts.TargetSize tracks from catalog.
//
// recent holds the ids of tracks inside the playlist's cooldown window.
func (s *Sampler) Select(catalog []models.Track, recent map[string]struct{}, opts Options) (*Selection, error) {
	if opts.TargetSize <= 0 {
		return nil, fmt.Errorf("%w: target size must be positive, got %d", shared.ErrInvalidInput, opts.TargetSize)
	}
	if opts.ArtistCap <= 0 {
		return nil, fmt.Errorf("%w: artist cap must be positive, got %d", shared.ErrInvalidInput, opts.ArtistCap)
	}

	candidates := usable(catalog)
	if len(candidates) < opts.TargetSize {
		return nil, fmt.Errorf("%w: %d usable tracks, need %d", shared.ErrInsufficientTracks, len(candidates), opts.TargetSize)
	}

	sel := &Selection{}

	pool := make([]models.Track, 0, len(candidates))
	for _, t := range candidates {
		if _, ok := recent[t.ID]; !ok {
			pool = append(pool, t)
		}
	}
	if len(pool) < opts.TargetSize {
		pool = candidates
		sel.CooldownRelaxed = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	picked := s.roundRobin(pool, opts)
	if len(picked) < opts.TargetSize {
		picked = s.fill(pool, picked, opts.TargetSize)
		sel.CapRelaxed = true
	}

	sel.Tracks = picked[:opts.TargetSize]
	return sel, nil
}

// roundRobin visits artists in shuffled order, taking one random remaining track per visit
// while the artist is below the cap. It stops once the target is reached or a full pass adds nothing.
func (s *Sampler) roundRobin(pool []models.Track, opts Options) []models.Track {
	groups := make(map[string][]models.Track)
	var artists []string
	for _, t := range pool {
		if _, ok := groups[t.Artist]; !ok {
			artists = append(artists, t.Artist)
		}
		groups[t.Artist] = append(groups[t.Artist], t)
	}
	s.rng.Shuffle(len(artists), func(i, j int) { artists[i], artists[j] = artists[j], artists[i] })

	counts := make(map[string]int, len(artists))
	picked := make([]models.Track, 0, opts.TargetSize)

	for pass := 0; pass <= len(pool) && len(picked) < opts.TargetSize; pass++ {
		progress := false
		for _, artist := range artists {
			if len(picked) == opts.TargetSize {
				break
			}
			remaining := groups[artist]
			if len(remaining) == 0 || counts[artist] >= opts.ArtistCap {
				continue
			}

			i := s.rng.IntN(len(remaining))
			picked = append(picked, remaining[i])
			remaining[i] = remaining[len(remaining)-1]
			groups[artist] = remaining[:len(remaining)-1]
			counts[artist]++
			progress = true
		}
		if !progress {
			break
		}
	}

	return picked
}

// fill tops picked up to size with uniformly random unselected pool tracks, ignoring the artist cap.
func (s *Sampler) fill(pool, picked []models.Track, size int) []models.Track {
	taken := make(map[string]struct{}, len(picked))
	for _, t := range picked {
		taken[t.ID] = struct{}{}
	}

	rest := make([]models.Track, 0, len(pool)-len(picked))
	for _, t := range pool {
		if _, ok := taken[t.ID]; !ok {
			rest = append(rest, t)
		}
	}

	for len(picked) < size && len(rest) > 0 {
		i := s.rng.IntN(len(rest))
		picked = append(picked, rest[i])
		rest[i] = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}
	return picked
}

// usable returns the usable tracks ordered by popularity descending, unknown popularity last, then id.
func usable(catalog []models.Track) []models.Track {
	out := make([]models.Track, 0, len(catalog))
	for _, t := range catalog {
		if t.Usable {
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Popularity, out[j].Popularity
		switch {
		case a != nil && b != nil && *a != *b:
			return *a > *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CooldownExclusions returns the ids of tracks placed within cooldownDays before now.
// A zero cooldown excludes nothing.
func CooldownExclusions(history []models.HistoryEntry, now time.Time, cooldownDays int) map[string]struct{} {
	recent := make(map[string]struct{})
	if cooldownDays <= 0 {
		return recent
	}

	cutoff := now.Add(-time.Duration(cooldownDays) * 24 * time.Hour)
	for _, e := range history {
		if !e.AddedAt.Before(cutoff) {
			recent[e.TrackID] = struct{}{}
		}
	}
	return recent
}
