package models

import (
	"errors"
	"fmt"
	"time"
)

// Status values shared by accounts and playlists.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDisabled = "disabled"
)

var ErrValidation = errors.New("validation failed")

// Account is an external (Spotify) account that owns rotating playlists.
type Account struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	RemoteUserID    string    `json:"remote_user_id"`
	Prefix          string    `json:"prefix"`
	PlaylistCount   int       `json:"playlist_count"`
	CapacityCeiling int       `json:"capacity_ceiling"`
	PlaylistSeq     int       `json:"playlist_seq"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Remaining reports how many more playlists the account may own.
func (a *Account) Remaining() int {
	return max(a.CapacityCeiling-a.PlaylistCount, 0)
}

func (a *Account) Validate() error {
	switch {
	case a.RemoteUserID == "":
		return fmt.Errorf("%w: account remote user id is required", ErrValidation)
	case a.CapacityCeiling <= 0:
		return fmt.Errorf("%w: account capacity ceiling must be positive", ErrValidation)
	case a.PlaylistCount < 0 || a.PlaylistCount > a.CapacityCeiling:
		return fmt.Errorf("%w: account playlist count %d outside [0, %d]", ErrValidation, a.PlaylistCount, a.CapacityCeiling)
	}
	return nil
}

// AccountToken is the stored OAuth credential of an account.
type AccountToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Track is a catalog entry.
type Track struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Name       string     `json:"name"`
	Artist     string     `json:"artist"`
	Album      string     `json:"album,omitempty"`
	Popularity *int       `json:"popularity,omitempty"`
	Usable     bool       `json:"usable"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// URI returns the Spotify track URI used when pushing tracks remotely.
func (t *Track) URI() string {
	return "spotify:track:" + t.ExternalID
}

func (t *Track) Validate() error {
	switch {
	case t.ExternalID == "":
		return fmt.Errorf("%w: track external id is required", ErrValidation)
	case t.Name == "":
		return fmt.Errorf("%w: track name is required", ErrValidation)
	case t.Artist == "":
		return fmt.Errorf("%w: track artist is required", ErrValidation)
	case t.Popularity != nil && (*t.Popularity < 0 || *t.Popularity > 100):
		return fmt.Errorf("%w: track popularity %d outside [0, 100]", ErrValidation, *t.Popularity)
	}
	return nil
}

// Playlist is a rotating playlist owned by an account.
//
// An empty RemoteID means the playlist has not been created remotely yet.
type Playlist struct {
	ID               string     `json:"id"`
	AccountID        string     `json:"account_id"`
	Name             string     `json:"name"`
	Prefix           string     `json:"prefix"`
	Description      string     `json:"description"`
	Index            int        `json:"index"`
	TargetSize       int        `json:"target_size"`
	CooldownDays     *int       `json:"cooldown_days,omitempty"`
	ArtistCap        int        `json:"artist_cap"`
	IntervalDays     int        `json:"interval_days"`
	LastReshuffledAt *time.Time `json:"last_reshuffled_at,omitempty"`
	NextReshuffleAt  *time.Time `json:"next_reshuffle_at,omitempty"`
	RemoteID         string     `json:"remote_id,omitempty"`
	ExternalURL      string     `json:"external_url,omitempty"`
	SyncPending      bool       `json:"sync_pending"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Interval is the reshuffle interval as a duration.
func (p *Playlist) Interval() time.Duration {
	return time.Duration(p.IntervalDays) * 24 * time.Hour
}

// MarkReshuffled sets the reshuffle timestamps so that the next reshuffle is one interval after at.
func (p *Playlist) MarkReshuffled(at time.Time) {
	last := at
	next := at.Add(p.Interval())
	p.LastReshuffledAt = &last
	p.NextReshuffleAt = &next
	p.UpdatedAt = at
}

// IsDue reports whether the playlist should be reshuffled at now.
func (p *Playlist) IsDue(now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	return p.NextReshuffleAt == nil || !p.NextReshuffleAt.After(now)
}

// Synced reports whether the playlist exists remotely.
func (p *Playlist) Synced() bool {
	return p.RemoteID != ""
}

func (p *Playlist) Validate() error {
	switch {
	case p.AccountID == "":
		return fmt.Errorf("%w: playlist account id is required", ErrValidation)
	case p.Name == "":
		return fmt.Errorf("%w: playlist name is required", ErrValidation)
	case p.TargetSize <= 0:
		return fmt.Errorf("%w: playlist target size must be positive", ErrValidation)
	case p.IntervalDays <= 0:
		return fmt.Errorf("%w: playlist interval must be positive", ErrValidation)
	case p.ArtistCap < 0:
		return fmt.Errorf("%w: playlist artist cap cannot be negative", ErrValidation)
	case p.CooldownDays != nil && *p.CooldownDays < 0:
		return fmt.Errorf("%w: playlist cooldown cannot be negative", ErrValidation)
	case p.Status != StatusActive && p.Status != StatusArchived:
		return fmt.Errorf("%w: unknown playlist status %q", ErrValidation, p.Status)
	}
	return nil
}

// PlaylistFilter narrows playlist listings. Zero values match everything.
type PlaylistFilter struct {
	AccountID       string
	IDs             []string
	IncludeArchived bool
}

// HistoryEntry records that a track was placed in a playlist as part of a batch.
type HistoryEntry struct {
	ID         string    `json:"id"`
	PlaylistID string    `json:"playlist_id"`
	TrackID    string    `json:"track_id"`
	AddedAt    time.Time `json:"added_at"`
	BatchTag   string    `json:"batch_tag"`
	Position   int       `json:"position"`
}

// HistoryRow is a ledger entry joined with its track for display and export.
type HistoryRow struct {
	HistoryEntry
	TrackName  string `json:"track_name"`
	Artist     string `json:"artist"`
	ExternalID string `json:"external_id"`
}

// MetricSnapshot captures aggregate counts at a point in time.
type MetricSnapshot struct {
	ID                   string    `json:"id"`
	CreatedAt            time.Time `json:"created_at"`
	Accounts             int       `json:"accounts"`
	Playlists            int       `json:"playlists"`
	Tracks               int       `json:"tracks"`
	ReshufflesLast24h    int       `json:"reshuffles_last_24h"`
	AvgTracksPerPlaylist int       `json:"avg_tracks_per_playlist"`
}

// Overview is the live summary shown by the metrics report.
type Overview struct {
	Accounts        int        `json:"accounts"`
	Playlists       int        `json:"playlists"`
	Tracks          int        `json:"tracks"`
	ReshufflesToday int        `json:"reshuffles_today"`
	SyncPending     int        `json:"sync_pending"`
	NextReshuffleAt *time.Time `json:"next_reshuffle_at,omitempty"`
	Health          string     `json:"health"`
}
