package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/rotator/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgPlaylistsFetched MsgKind = iota
	MsgHistoryFetched
	MsgRotationComplete
)

type playlistsData struct {
	playlists []*models.Playlist
	err       error
}

type historyData struct {
	playlist *models.Playlist
	rows     []models.HistoryRow
	err      error
}

type rotationData struct {
	action   string
	playlist *models.Playlist
	rows     []models.HistoryRow
	err      error
}

// playlistsFetchedMsg is the constructor for [MsgPlaylistsFetched]
func playlistsFetchedMsg(playlists []*models.Playlist, err error) Msg {
	return Msg{kind: MsgPlaylistsFetched, data: playlistsData{playlists, err}}
}

// historyFetchedMsg is the constructor for [MsgHistoryFetched]
func historyFetchedMsg(playlist *models.Playlist, rows []models.HistoryRow, err error) Msg {
	return Msg{kind: MsgHistoryFetched, data: historyData{playlist, rows, err}}
}

// rotationCompleteMsg is the constructor for [MsgRotationComplete]
func rotationCompleteMsg(action string, playlist *models.Playlist, rows []models.HistoryRow, err error) Msg {
	return Msg{kind: MsgRotationComplete, data: rotationData{action, playlist, rows, err}}
}
