package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/rotator/internal/models"
)

var (
	_ list.Item = playlistItem{}
	_ list.Item = historyItem{}
)

// playlistItem wraps [models.Playlist] to implement [list.Item].
type playlistItem struct {
	playlist *models.Playlist
	now      time.Time
}

func (i playlistItem) FilterValue() string { return i.playlist.Name }
func (i playlistItem) Title() string {
	if i.playlist.SyncPending {
		return i.playlist.Name + " ⚠"
	}
	return i.playlist.Name
}
func (i playlistItem) Description() string {
	desc := fmt.Sprintf("%d tracks • every %dd", i.playlist.TargetSize, i.playlist.IntervalDays)
	switch {
	case i.playlist.NextReshuffleAt == nil:
		desc += " • never reshuffled"
	case i.playlist.IsDue(i.now):
		desc += " • due now"
	default:
		desc += " • next " + i.playlist.NextReshuffleAt.Local().Format("Jan 2 15:04")
	}
	return desc
}

// historyItem wraps [models.HistoryRow] to implement [list.Item].
type historyItem struct {
	row models.HistoryRow
}

func (i historyItem) FilterValue() string { return i.row.TrackName + " " + i.row.Artist }
func (i historyItem) Title() string {
	return fmt.Sprintf("%d. %s", i.row.Position+1, i.row.TrackName)
}
func (i historyItem) Description() string {
	return fmt.Sprintf("%s • %s", i.row.Artist, i.row.BatchTag)
}
