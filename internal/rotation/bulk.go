package rotation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// BulkMode selects the playlists of a bulk reshuffle.
type BulkMode int

const (
	BulkAll BulkMode = iota
	BulkByAccount
	BulkBySelection
)

func (m BulkMode) String() string {
	switch m {
	case BulkAll:
		return "all"
	case BulkByAccount:
		return "account"
	case BulkBySelection:
		return "selection"
	default:
		return fmt.Sprintf("BulkMode(%d)", int(m))
	}
}

// BulkTarget carries the account for [BulkByAccount] and the playlist ids for [BulkBySelection].
type BulkTarget struct {
	AccountID   string
	PlaylistIDs []string
}

// BulkFailure is one playlist a bulk operation could not finish.
type BulkFailure struct {
	PlaylistID string
	Name       string
	Err        error
}

// BulkResult reports what a bulk operation did. Playlists are ordered by account and index.
type BulkResult struct {
	Reshuffled []*models.Playlist
	Synced     []*models.Playlist
	Failed     []BulkFailure
}

// Total is the number of playlists the operation touched.
func (r *BulkResult) Total() int {
	return len(r.Reshuffled) + len(r.Synced) + len(r.Failed)
}

// ReshuffleBulk reshuffles the playlists chosen by mode. A failing playlist is recorded in
// [BulkResult.Failed] and the rest of the batch continues.
func (m *Manager) ReshuffleBulk(ctx context.Context, mode BulkMode, target BulkTarget) (*BulkResult, error) {
	result := &BulkResult{}

	var filter models.PlaylistFilter
	switch mode {
	case BulkAll:
	case BulkByAccount:
		if target.AccountID == "" {
			return nil, fmt.Errorf("%w: account id", shared.ErrMissingArgument)
		}
		if _, err := m.store.GetAccount(ctx, target.AccountID); err != nil {
			return nil, err
		}
		filter.AccountID = target.AccountID
	case BulkBySelection:
		if len(target.PlaylistIDs) == 0 {
			return nil, fmt.Errorf("%w: playlist ids", shared.ErrMissingArgument)
		}
		filter.IDs = target.PlaylistIDs
		filter.IncludeArchived = true
	default:
		return nil, fmt.Errorf("%w: unknown bulk mode %s", shared.ErrInvalidArgument, mode)
	}

	playlists, err := m.store.ListPlaylists(ctx, filter)
	if err != nil {
		return nil, err
	}

	if mode == BulkBySelection {
		found := make(map[string]struct{}, len(playlists))
		for _, p := range playlists {
			found[p.ID] = struct{}{}
		}
		for _, id := range target.PlaylistIDs {
			if _, ok := found[id]; !ok {
				result.Failed = append(result.Failed, BulkFailure{PlaylistID: id, Err: fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)})
			}
		}
	}

	catalog, err := m.store.LoadUsableTracks(ctx)
	if err != nil {
		return nil, err
	}

	err = m.each(ctx, playlists, result, func(ctx context.Context, p *models.Playlist) error {
		return m.reshuffle(ctx, p, nil, ReshuffleOptions{}, catalog)
	}, &result.Reshuffled)

	result.sort()
	m.logger.Info("bulk reshuffle finished", "mode", mode, "reshuffled", len(result.Reshuffled), "failed", len(result.Failed))
	return result, err
}

// ReshuffleDue is the periodic sweep. It first retries playlists whose remote push failed, then
// reshuffles every active playlist that is due. Cancelling ctx stops new playlists from starting;
// finished playlists are kept.
func (m *Manager) ReshuffleDue(ctx context.Context) (*BulkResult, error) {
	result := &BulkResult{}

	pending, err := m.store.ListSyncPending(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.each(ctx, pending, result, m.SyncPending, &result.Synced); err != nil {
		result.sort()
		return result, err
	}

	due, err := m.store.ListDuePlaylists(ctx, m.now())
	if err != nil {
		return result, err
	}

	var catalog []models.Track
	if len(due) > 0 {
		if catalog, err = m.store.LoadUsableTracks(ctx); err != nil {
			return result, err
		}
	}

	err = m.each(ctx, due, result, func(ctx context.Context, p *models.Playlist) error {
		return m.reshuffle(ctx, p, nil, ReshuffleOptions{}, catalog)
	}, &result.Reshuffled)

	result.sort()
	if result.Total() > 0 {
		m.logger.Info("sweep finished", "synced", len(result.Synced), "reshuffled", len(result.Reshuffled), "failed", len(result.Failed))
	}
	return result, err
}

// each runs fn over playlists with bounded concurrency, sorting outcomes into done or
// result.Failed. It returns ctx.Err() when cancellation prevented some playlists from starting.
func (m *Manager) each(
	ctx context.Context,
	playlists []*models.Playlist,
	result *BulkResult,
	fn func(context.Context, *models.Playlist) error,
	done *[]*models.Playlist,
) error {
	var (
		mu       sync.Mutex
		finished int
		g        errgroup.Group
	)
	g.SetLimit(m.defaults.Concurrency)

	total := len(playlists)
	for _, p := range playlists {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			err := fn(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			finished++
			if err != nil {
				m.logger.Error("playlist rotation failed", "playlist", p.ID, "name", p.Name, "error", err)
				result.Failed = append(result.Failed, BulkFailure{PlaylistID: p.ID, Name: p.Name, Err: err})
			} else {
				*done = append(*done, p)
			}
			if m.progress != nil {
				m.progress(finished, total, p, err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

func (r *BulkResult) sort() {
	byIndex := func(ps []*models.Playlist) {
		sort.SliceStable(ps, func(i, j int) bool {
			if ps[i].AccountID != ps[j].AccountID {
				return ps[i].AccountID < ps[j].AccountID
			}
			return ps[i].Index < ps[j].Index
		})
	}
	byIndex(r.Reshuffled)
	byIndex(r.Synced)
	sort.SliceStable(r.Failed, func(i, j int) bool { return r.Failed[i].PlaylistID < r.Failed[j].PlaylistID })
}
