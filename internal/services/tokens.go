package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// TokenStore loads and saves account tokens.
type TokenStore interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
	Token(ctx context.Context, accountID string) (*models.AccountToken, error)
	SaveToken(ctx context.Context, accountID string, token *models.AccountToken) error
	ListExpiringTokens(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

// TokenProvider supplies per-account credentials, refreshing tokens close to expiry.
type TokenProvider struct {
	store     TokenStore
	refresher Refresher
	leeway    time.Duration
	now       func() time.Time
	logger    *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenProvider creates a TokenProvider. Tokens expiring within a minute are refreshed before use.
func NewTokenProvider(store TokenStore, refresher Refresher, logger *log.Logger) *TokenProvider {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &TokenProvider{
		store:     store,
		refresher: refresher,
		leeway:    time.Minute,
		now:       time.Now,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// accountLock serializes refreshes of the same account so a rotated refresh token is used once.
func (p *TokenProvider) accountLock(accountID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[accountID] = l
	}
	return l
}

// Credential returns a usable credential for the account.
func (p *TokenProvider) Credential(ctx context.Context, accountID string) (Credential, error) {
	account, err := p.store.Get(ctx, accountID)
	if err != nil {
		return Credential{}, err
	}

	lock := p.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	token, err := p.store.Token(ctx, accountID)
	if err != nil {
		return Credential{}, err
	}

	if !token.Expiry.IsZero() && token.Expiry.Before(p.now().Add(p.leeway)) {
		if token, err = p.refresh(ctx, accountID, token); err != nil {
			return Credential{}, err
		}
	}

	return Credential{AccessToken: token.AccessToken, RemoteUserID: account.RemoteUserID}, nil
}

func (p *TokenProvider) refresh(ctx context.Context, accountID string, current *models.AccountToken) (*models.AccountToken, error) {
	if current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: account %s", shared.ErrNoRefreshToken, accountID)
	}

	fresh, err := p.refresher.Refresh(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, err)
	}

	next := &models.AccountToken{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	if err := p.store.SaveToken(ctx, accountID, next); err != nil {
		return nil, err
	}

	p.logger.Debug("refreshed token", "account", accountID, "expiry", next.Expiry)
	return next, nil
}

// RefreshExpiring refreshes every token expiring within window and returns how many were refreshed.
// Failures are joined; one account failing does not stop the others.
func (p *TokenProvider) RefreshExpiring(ctx context.Context, window time.Duration) (int, error) {
	ids, err := p.store.ListExpiringTokens(ctx, p.now().Add(window))
	if err != nil {
		return 0, err
	}

	var (
		refreshed int
		errs      []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		lock := p.accountLock(id)
		lock.Lock()
		token, err := p.store.Token(ctx, id)
		if err == nil {
			_, err = p.refresh(ctx, id, token)
		}
		lock.Unlock()

		if err != nil {
			p.logger.Error("token refresh failed", "account", id, "error", err)
			errs = append(errs, err)
			continue
		}
		refreshed++
	}

	return refreshed, errors.Join(errs...)
}
