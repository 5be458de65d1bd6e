package services

import "github.com/desertthunder/rotator/internal/models"

// Credential is a ready-to-use access token for one account.
type Credential struct {
	AccessToken  string
	RemoteUserID string
}

// RemotePlaylist identifies a playlist created on Spotify.
type RemotePlaylist struct {
	ID          string
	ExternalURL string
}

// CatalogTrack maps a Spotify track onto a catalog entry. The first artist is used.
func (t SpotifyTrack) CatalogTrack() models.Track {
	track := models.Track{
		ExternalID: t.ID,
		Name:       t.Name,
		Album:      t.Album.Name,
		Usable:     true,
	}
	if len(t.Artists) > 0 {
		track.Artist = t.Artists[0].Name
	}
	if t.Popularity > 0 {
		popularity := t.Popularity
		track.Popularity = &popularity
	}
	return track
}
