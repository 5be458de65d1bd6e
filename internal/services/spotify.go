// Spotify API implementation of the remote playlist writer
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/rotator/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// maxTracksPerRequest is the Spotify limit for playlist item writes.
	maxTracksPerRequest = 100
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"` // premium, free, etc.
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	Popularity int             `json:"popularity"`
	URI        string          `json:"uri"`
	IsLocal    bool            `json:"is_local"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyPlaylist represents a Spotify playlist.
type SpotifyPlaylist struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Public       bool              `json:"public"`
	ExternalURLs map[string]string `json:"external_urls"`
	SnapshotID   string            `json:"snapshot_id"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPaginatedPlaylistTracks represents a page of playlist items.
type SpotifyPaginatedPlaylistTracks struct {
	Items  []SpotifyPlaylistTrack `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
	Next   *string                `json:"next"`
}

// APIError is a non-2xx response from the Spotify API.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify API error: status %d", e.Status)
	}
	return fmt.Sprintf("spotify API error: status %d: %s", e.Status, e.Message)
}

// Unwrap maps authorization failures onto [shared.ErrTokenExpired].
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return shared.ErrTokenExpired
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// SpotifyService implements playlist writes and account linking against the Spotify Web API.
// Uses [oauth2] for the authorization code flow and token refresh.
type SpotifyService struct {
	config      *oauth2.Config
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *log.Logger
}

// Option configures a [SpotifyService].
type Option func(*SpotifyService)

// WithBaseURL points API calls at another host, such as an httptest server.
func WithBaseURL(u string) Option {
	return func(s *SpotifyService) { s.baseURL = u }
}

// WithTokenURL points token exchange and refresh at another endpoint.
func WithTokenURL(u string) Option {
	return func(s *SpotifyService) { s.config.Endpoint.TokenURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SpotifyService) { s.httpClient = c }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *log.Logger) Option {
	return func(s *SpotifyService) { s.logger = l }
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials and retry policy.
func NewSpotifyService(creds shared.SpotifyConfig, remote shared.RemoteConfig, opts ...Option) (*SpotifyService, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("%w: missing spotify client_id", shared.ErrMissingCredentials)
	}
	if creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing spotify client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := creds.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"user-read-email",
			"playlist-read-private",
			"playlist-modify-public",
			"playlist-modify-private",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	limit := rate.Inf
	if remote.RequestsPerSecond > 0 {
		limit = rate.Limit(remote.RequestsPerSecond)
	}

	s := &SpotifyService{
		config:      config,
		httpClient:  http.DefaultClient,
		baseURL:     spotifyBaseURL,
		limiter:     rate.NewLimiter(limit, max(remote.Burst, 1)),
		timeout:     remote.Timeout(),
		maxAttempts: max(remote.MaxAttempts, 1),
		backoff:     remote.Backoff(),
		logger:      shared.NewLogger(nil),
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (s *SpotifyService) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// Exchange trades an authorization code for a token.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %w", shared.ErrAuthFailed, err)
	}
	return token, nil
}

// Refresh obtains a new access token from refresh. The refresh token is carried over
// when Spotify does not rotate it.
func (s *SpotifyService) Refresh(ctx context.Context, refresh *oauth2.Token) (*oauth2.Token, error) {
	if refresh == nil || refresh.RefreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	expired := &oauth2.Token{RefreshToken: refresh.RefreshToken, Expiry: time.Unix(1, 0)}
	token, err := s.config.TokenSource(s.oauthContext(ctx), expired).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}
	return token, nil
}

// UserProfile retrieves the profile of the user behind accessToken.
func (s *SpotifyService) UserProfile(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, Credential{AccessToken: accessToken}, http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateRemotePlaylist creates a private playlist owned by the credential's user.
func (s *SpotifyService) CreateRemotePlaylist(ctx context.Context, cred Credential, name, description string) (RemotePlaylist, error) {
	if cred.RemoteUserID == "" {
		return RemotePlaylist{}, fmt.Errorf("%w: credential has no user id", shared.ErrInvalidInput)
	}

	body := map[string]any{"name": name, "description": description, "public": false}
	endpoint := fmt.Sprintf("/users/%s/playlists", url.PathEscape(cred.RemoteUserID))

	var created SpotifyPlaylist
	if err := s.doRequest(ctx, cred, http.MethodPost, endpoint, body, &created); err != nil {
		return RemotePlaylist{}, err
	}
	return RemotePlaylist{ID: created.ID, ExternalURL: created.ExternalURLs["spotify"]}, nil
}

// ReplaceRemoteTracks replaces the playlist contents with uris in order. The first
// chunk replaces, later chunks append.
//
// Appends are never retried on their own. A retryable failure restarts the whole sequence
// from the replacing PUT.
func (s *SpotifyService) ReplaceRemoteTracks(ctx context.Context, cred Credential, remoteID string, uris []string) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(remoteID))

	for attempt := 1; ; attempt++ {
		err := s.replaceOnce(ctx, cred, endpoint, uris)
		if err == nil {
			return nil
		}

		delay, retry := s.retryDelay(ctx, err, attempt)
		if !retry {
			return err
		}

		s.logger.Warn("restarting track replacement", "endpoint", endpoint, "attempt", attempt, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: PUT %s: %w", shared.ErrRemoteSync, endpoint, err)
		}
	}
}

func (s *SpotifyService) replaceOnce(ctx context.Context, cred Credential, endpoint string, uris []string) error {
	first := min(len(uris), maxTracksPerRequest)
	head := append([]string{}, uris[:first]...)
	if err := s.request(ctx, cred, http.MethodPut, endpoint, map[string]any{"uris": head}, nil, 1); err != nil {
		return err
	}

	for start := first; start < len(uris); start += maxTracksPerRequest {
		end := min(start+maxTracksPerRequest, len(uris))
		if err := s.request(ctx, cred, http.MethodPost, endpoint, map[string]any{"uris": uris[start:end]}, nil, 1); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRemoteMetadata sets the playlist name and description.
func (s *SpotifyService) UpdateRemoteMetadata(ctx context.Context, cred Credential, remoteID, name, description string) error {
	endpoint := fmt.Sprintf("/playlists/%s", url.PathEscape(remoteID))
	body := map[string]any{"name": name, "description": description}
	return s.doRequest(ctx, cred, http.MethodPut, endpoint, body, nil)
}

// PlaylistTracks reads every track of a playlist, skipping local files and removed tracks.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, cred Credential, playlistID string) ([]SpotifyTrack, error) {
	var tracks []SpotifyTrack
	limit := maxTracksPerRequest
	offset := 0

	for {
		endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=%d&offset=%d", url.PathEscape(playlistID), limit, offset)

		var page SpotifyPaginatedPlaylistTracks
		if err := s.doRequest(ctx, cred, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.Track == nil || item.Track.IsLocal || item.Track.ID == "" {
				continue
			}
			tracks = append(tracks, *item.Track)
		}

		if page.Next == nil || len(page.Items) == 0 {
			break
		}
		offset += limit
	}

	return tracks, nil
}

// doRequest performs an authenticated request, retrying transient failures.
func (s *SpotifyService) doRequest(ctx context.Context, cred Credential, method, endpoint string, body, result any) error {
	return s.request(ctx, cred, method, endpoint, body, result, s.maxAttempts)
}

// request makes at most attempts tries at an authenticated request.
func (s *SpotifyService) request(ctx context.Context, cred Credential, method, endpoint string, body, result any, attempts int) error {
	if cred.AccessToken == "" {
		return shared.ErrNotAuthenticated
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s %s: %w", shared.ErrRemoteSync, method, endpoint, err)
		}

		err := s.attempt(ctx, cred, method, endpoint, payload, result)
		if err == nil {
			return nil
		}

		delay, retry := s.retryDelay(ctx, err, attempt)
		if !retry || attempt >= attempts {
			return fmt.Errorf("%w: %s %s: %w", shared.ErrRemoteSync, method, endpoint, err)
		}

		s.logger.Warn("retrying spotify request", "method", method, "endpoint", endpoint, "attempt", attempt, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %s %s: %w", shared.ErrRemoteSync, method, endpoint, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDelay decides whether err is worth another attempt and how long to wait first.
func (s *SpotifyService) retryDelay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if attempt >= s.maxAttempts || ctx.Err() != nil {
		return 0, false
	}

	delay := s.backoff << (attempt - 1)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if !apiErr.retryable() {
			return 0, false
		}
		if apiErr.RetryAfter > 0 {
			delay = min(apiErr.RetryAfter, s.maxRetryAfter())
		}
		return delay, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return delay, true
	}
	return 0, false
}

// maxRetryAfter bounds how long a single Retry-After may hold a caller.
func (s *SpotifyService) maxRetryAfter() time.Duration {
	return s.timeout * time.Duration(s.maxAttempts)
}

func (s *SpotifyService) attempt(ctx context.Context, cred Credential, method, endpoint string, payload []byte, result any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func newAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Error.Message
	}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
