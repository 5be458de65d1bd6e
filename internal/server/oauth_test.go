package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/desertthunder/rotator/internal/models"
)

type fakeExchanger struct {
	code string
	err  error
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.code = code
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh"}, nil
}

type fakeLinker struct {
	err error
}

func (f fakeLinker) Link(_ context.Context, token *oauth2.Token) (*models.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Account{ID: "acct-1", DisplayName: "<Alice>", RemoteUserID: "user-1"}, nil
}

func callback(h *OAuthHandler, query string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+query, nil))
	return rec
}

func TestOAuthHandler(t *testing.T) {
	t.Run("links the account", func(t *testing.T) {
		ex := &fakeExchanger{}
		h := NewOAuthHandler(ex, fakeLinker{}, "state-1")

		rec := callback(h, "state=state-1&code=abc")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "&lt;Alice&gt;") {
			t.Errorf("expected escaped display name in page, got %q", rec.Body.String())
		}

		result := <-h.Result()
		if result.Error() != nil {
			t.Fatalf("unexpected error %v", result.Error())
		}
		if ex.code != "abc" || result.Token.AccessToken != "access-abc" {
			t.Errorf("unexpected token %+v (code %q)", result.Token, ex.code)
		}
		if result.Account == nil || result.Account.ID != "acct-1" {
			t.Errorf("unexpected account %+v", result.Account)
		}

		if _, open := <-h.Result(); open {
			t.Error("expected channel to be closed after one result")
		}
	})

	t.Run("rejects a bad state", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, nil, "state-1")
		if rec := callback(h, "state=other&code=abc"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if result := <-h.Result(); result.Error() == nil {
			t.Error("expected state error")
		}
	})

	t.Run("reports provider errors", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, nil, "s")
		if rec := callback(h, "state=s&error=access_denied&error_description=nope"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		result := <-h.Result()
		if result.Error() == nil || !strings.Contains(result.Error().Error(), "access_denied") {
			t.Errorf("expected access_denied, got %v", result.Error())
		}
	})

	t.Run("exchange failure", func(t *testing.T) {
		boom := errors.New("boom")
		h := NewOAuthHandler(&fakeExchanger{err: boom}, nil, "s")
		if rec := callback(h, "state=s&code=abc"); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if result := <-h.Result(); !errors.Is(result.Error(), boom) {
			t.Errorf("expected boom, got %v", result.Error())
		}
	})

	t.Run("link failure keeps the token", func(t *testing.T) {
		boom := errors.New("boom")
		h := NewOAuthHandler(&fakeExchanger{}, fakeLinker{err: boom}, "s")
		if rec := callback(h, "state=s&code=abc"); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		result := <-h.Result()
		if !errors.Is(result.Error(), boom) || result.Token == nil {
			t.Errorf("expected link error with token, got %+v", result)
		}
	})

	t.Run("only one callback", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, nil, "s")
		callback(h, "state=s&code=abc")
		if rec := callback(h, "state=s&code=def"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected replay to be rejected, got %d", rec.Code)
		}
	})
}
