package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// AccountStore creates and updates linked accounts.
type AccountStore interface {
	GetByRemoteUserID(ctx context.Context, remoteUserID string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	Update(ctx context.Context, account *models.Account) error
	SaveToken(ctx context.Context, accountID string, token *models.AccountToken) error
}

// ProfileFetcher identifies the user behind an access token.
type ProfileFetcher interface {
	UserProfile(ctx context.Context, accessToken string) (*SpotifyUser, error)
}

// Linker turns a fresh OAuth token into a stored account.
type Linker struct {
	store    AccountStore
	profiles ProfileFetcher
	ceiling  int
	logger   *log.Logger
}

// NewLinker creates a Linker. New accounts get ceiling as their capacity.
func NewLinker(store AccountStore, profiles ProfileFetcher, ceiling int, logger *log.Logger) *Linker {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Linker{store: store, profiles: profiles, ceiling: ceiling, logger: logger}
}

// Link looks up the token's user and creates or refreshes the matching account,
// then stores the token. Linking the same user twice updates the existing account.
func (l *Linker) Link(ctx context.Context, token *oauth2.Token) (*models.Account, error) {
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty token", shared.ErrAuthFailed)
	}

	user, err := l.profiles.UserProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	name := user.DisplayName
	if name == "" {
		name = user.ID
	}

	account, err := l.store.GetByRemoteUserID(ctx, user.ID)
	switch {
	case errors.Is(err, shared.ErrAccountNotFound):
		account = &models.Account{
			DisplayName:     name,
			RemoteUserID:    user.ID,
			CapacityCeiling: l.ceiling,
		}
		if err := l.store.Create(ctx, account); err != nil {
			return nil, err
		}
		l.logger.Info("linked new account", "account", account.ID, "user", user.ID)
	case err != nil:
		return nil, err
	default:
		account.DisplayName = name
		if err := l.store.Update(ctx, account); err != nil {
			return nil, err
		}
		l.logger.Info("relinked account", "account", account.ID, "user", user.ID)
	}

	stored := &models.AccountToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if err := l.store.SaveToken(ctx, account.ID, stored); err != nil {
		return nil, err
	}
	return account, nil
}
