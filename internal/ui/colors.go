package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/rotator/internal/models"
)

// Spotify green for success, amber for pending syncs.
var styles = newPalette(paletteColors{
	title: "#7D56F4",
	ok:    "#1DB954",
	err:   "#E22134",
	warn:  "#F59B23",
	muted: "#626262",
})

type paletteColors struct {
	title, ok, err, warn, muted string
}

// palette holds the named styles every view renders with.
type palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func newPalette(c paletteColors) *palette {
	fg := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}
	return &palette{
		title: fg(c.title).Bold(true).MarginBottom(1),
		ok:    fg(c.ok).Bold(true),
		err:   fg(c.err).Bold(true),
		warn:  fg(c.warn),
		help:  fg(c.muted).Italic(true),
	}
}

// syncState describes where p stands on Spotify.
func (s *palette) syncState(p *models.Playlist) string {
	switch {
	case p.SyncPending:
		return s.warn.Render("Spotify is out of date; the latest batch is waiting to be pushed.")
	case !p.Synced():
		return s.help.Render("Not on Spotify yet.")
	case p.ExternalURL != "":
		return s.ok.Render("On Spotify: ") + p.ExternalURL
	default:
		return s.ok.Render("On Spotify.")
	}
}
