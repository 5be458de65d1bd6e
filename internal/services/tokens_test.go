package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

type fakeTokenStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	tokens   map[string]*models.AccountToken
	saves    int
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{
		accounts: make(map[string]*models.Account),
		tokens:   make(map[string]*models.AccountToken),
	}
}

func (s *fakeTokenStore) add(id string, token models.AccountToken) {
	s.accounts[id] = &models.Account{ID: id, RemoteUserID: "remote-" + id}
	s.tokens[id] = &token
}

func (s *fakeTokenStore) Get(_ context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, shared.ErrAccountNotFound
	}
	return a, nil
}

func (s *fakeTokenStore) Token(_ context.Context, id string) (*models.AccountToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, shared.ErrNotAuthenticated
	}
	c := *t
	return &c, nil
}

func (s *fakeTokenStore) SaveToken(_ context.Context, id string, token *models.AccountToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *token
	s.tokens[id] = &c
	s.saves++
	return nil
}

func (s *fakeTokenStore) ListExpiringTokens(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, t := range s.tokens {
		if t.Expiry.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type fakeRefresher struct {
	calls  atomic.Int32
	fail   map[string]bool
	rotate bool
	expiry time.Time
}

func (f *fakeRefresher) Refresh(_ context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	f.calls.Add(1)
	if f.fail[token.RefreshToken] {
		return nil, shared.ErrRefreshFailed
	}
	fresh := &oauth2.Token{AccessToken: "new-" + token.RefreshToken, Expiry: f.expiry}
	if f.rotate {
		fresh.RefreshToken = "rotated-" + token.RefreshToken
	}
	return fresh, nil
}

func newTestProvider(store TokenStore, refresher Refresher, now time.Time) *TokenProvider {
	p := NewTokenProvider(store, refresher, shared.NewLogger(io.Discard))
	p.now = func() time.Time { return now }
	return p
}

func TestTokenProvider(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("fresh token is returned as is", func(t *testing.T) {
		store := newFakeTokenStore()
		store.add("a1", models.AccountToken{AccessToken: "access", RefreshToken: "r1", Expiry: now.Add(time.Hour)})
		refresher := &fakeRefresher{}

		cred, err := newTestProvider(store, refresher, now).Credential(ctx, "a1")
		if err != nil {
			t.Fatalf("Credential failed: %v", err)
		}
		if cred.AccessToken != "access" || cred.RemoteUserID != "remote-a1" {
			t.Errorf("unexpected credential %+v", cred)
		}
		if refresher.calls.Load() != 0 {
			t.Errorf("expected no refresh, got %d", refresher.calls.Load())
		}
	})

	t.Run("token near expiry is refreshed and saved", func(t *testing.T) {
		store := newFakeTokenStore()
		store.add("a1", models.AccountToken{AccessToken: "old", RefreshToken: "r1", Expiry: now.Add(30 * time.Second)})
		refresher := &fakeRefresher{expiry: now.Add(time.Hour)}

		cred, err := newTestProvider(store, refresher, now).Credential(ctx, "a1")
		if err != nil {
			t.Fatalf("Credential failed: %v", err)
		}
		if cred.AccessToken != "new-r1" {
			t.Errorf("expected refreshed token, got %s", cred.AccessToken)
		}

		saved, _ := store.Token(ctx, "a1")
		if saved.RefreshToken != "r1" {
			t.Errorf("expected refresh token to be kept, got %s", saved.RefreshToken)
		}
		if !saved.Expiry.Equal(now.Add(time.Hour)) {
			t.Errorf("expected new expiry, got %s", saved.Expiry)
		}
	})

	t.Run("rotated refresh token is stored", func(t *testing.T) {
		store := newFakeTokenStore()
		store.add("a1", models.AccountToken{AccessToken: "old", RefreshToken: "r1", Expiry: now.Add(-time.Hour)})
		refresher := &fakeRefresher{rotate: true, expiry: now.Add(time.Hour)}

		if _, err := newTestProvider(store, refresher, now).Credential(ctx, "a1"); err != nil {
			t.Fatalf("Credential failed: %v", err)
		}
		saved, _ := store.Token(ctx, "a1")
		if saved.RefreshToken != "rotated-r1" {
			t.Errorf("expected rotated refresh token, got %s", saved.RefreshToken)
		}
	})

	t.Run("expired token without refresh token", func(t *testing.T) {
		store := newFakeTokenStore()
		store.add("a1", models.AccountToken{AccessToken: "old", Expiry: now.Add(-time.Hour)})

		_, err := newTestProvider(store, &fakeRefresher{}, now).Credential(ctx, "a1")
		if !errors.Is(err, shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken, got %v", err)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := newTestProvider(newFakeTokenStore(), &fakeRefresher{}, now).Credential(ctx, "missing")
		if !errors.Is(err, shared.ErrAccountNotFound) {
			t.Errorf("expected ErrAccountNotFound, got %v", err)
		}
	})

	t.Run("concurrent callers refresh once", func(t *testing.T) {
		store := newFakeTokenStore()
		store.add("a1", models.AccountToken{AccessToken: "old", RefreshToken: "r1", Expiry: now.Add(-time.Hour)})
		refresher := &fakeRefresher{expiry: now.Add(time.Hour)}
		provider := newTestProvider(store, refresher, now)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := provider.Credential(ctx, "a1"); err != nil {
					t.Errorf("Credential failed: %v", err)
				}
			}()
		}
		wg.Wait()

		if refresher.calls.Load() != 1 {
			t.Errorf("expected a single refresh, got %d", refresher.calls.Load())
		}
	})

	t.Run("RefreshExpiring", func(t *testing.T) {
		store := newFakeTokenStore()
		store.add("a1", models.AccountToken{RefreshToken: "r1", Expiry: now.Add(10 * time.Minute)})
		store.add("a2", models.AccountToken{RefreshToken: "bad", Expiry: now.Add(20 * time.Minute)})
		store.add("a3", models.AccountToken{RefreshToken: "r3", Expiry: now.Add(2 * time.Hour)})
		refresher := &fakeRefresher{fail: map[string]bool{"bad": true}, expiry: now.Add(time.Hour)}

		refreshed, err := newTestProvider(store, refresher, now).RefreshExpiring(ctx, 45*time.Minute)
		if refreshed != 1 {
			t.Errorf("expected 1 refreshed, got %d", refreshed)
		}
		if !errors.Is(err, shared.ErrRefreshFailed) {
			t.Errorf("expected joined ErrRefreshFailed, got %v", err)
		}

		token, _ := store.Token(ctx, "a3")
		if token.AccessToken != "" {
			t.Errorf("token outside window should not be refreshed")
		}
	})
}
