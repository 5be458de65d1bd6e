package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// ScaleResult reports how many playlists a top-up created per account.
type ScaleResult struct {
	Created map[string]int
	Skipped []string
}

// TopUp grows every active account toward target playlists, creating at most step per account
// and never more than the account's remaining capacity. Accounts already at the target, at
// capacity or without enough catalog are skipped.
func (m *Manager) TopUp(ctx context.Context, target, step int) (*ScaleResult, error) {
	if target <= 0 || step <= 0 {
		return nil, fmt.Errorf("%w: target and step must be positive, got %d and %d", shared.ErrInvalidInput, target, step)
	}

	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	result := &ScaleResult{Created: make(map[string]int)}
	var errs []error
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if account.Status != models.StatusActive {
			continue
		}

		n := min(target-account.PlaylistCount, step, account.Remaining())
		if n <= 0 {
			result.Skipped = append(result.Skipped, account.ID)
			continue
		}

		created, err := m.CreatePlaylists(ctx, account.ID, CreateOptions{Count: n})
		result.Created[account.ID] = len(created)
		switch {
		case errors.Is(err, shared.ErrInsufficientTracks), errors.Is(err, shared.ErrCapacityExceeded):
			m.logger.Warn("skipping account during scale up", "account", account.ID, "error", err)
			result.Skipped = append(result.Skipped, account.ID)
		case err != nil:
			errs = append(errs, fmt.Errorf("account %s: %w", account.ID, err))
		default:
			m.logger.Info("scaled account", "account", account.ID, "created", len(created), "target", target)
		}
	}
	return result, errors.Join(errs...)
}
