package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/rotation"
)

// historyLimit caps the ledger rows loaded for one playlist.
const historyLimit = 500

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PlaylistListView ViewState = iota
	HistoryView
	ConfirmView
	WorkingView
	ResultView
)

// Source reads playlists and their ledger.
type Source interface {
	ListPlaylists(ctx context.Context, filter models.PlaylistFilter) ([]*models.Playlist, error)
	PlaylistHistory(ctx context.Context, playlistID string, limit int) ([]models.HistoryRow, error)
}

// Rotator reshuffles playlists and retries pending syncs.
type Rotator interface {
	ReshuffleByID(ctx context.Context, id string, opts rotation.ReshuffleOptions) (*models.Playlist, error)
	SyncPending(ctx context.Context, p *models.Playlist) error
}

// Model represents the TUI application state.
type Model struct {
	ctx       context.Context
	view      ViewState
	source    Source
	rotator   Rotator
	filter    models.PlaylistFilter
	now       func() time.Time
	width     int
	height    int
	playlists list.Model
	history   list.Model
	selected  *models.Playlist
	action    string
	latest    []models.HistoryRow
	err       error
	help      help.Model
	keys      keyMap
}

// NewModel creates a new TUI model listing the playlists matched by filter.
func NewModel(ctx context.Context, source Source, rotator Rotator, filter models.PlaylistFilter) *Model {
	return &Model{
		ctx:       ctx,
		view:      PlaylistListView,
		source:    source,
		rotator:   rotator,
		filter:    filter,
		now:       time.Now,
		playlists: list.New(nil, list.NewDefaultDelegate(), 0, 0),
		history:   list.New(nil, list.NewDefaultDelegate(), 0, 0),
		help:      help.New(),
		keys:      newKeyMap(),
	}
}

// Init initializes the TUI by loading the playlists.
func (m *Model) Init() tea.Cmd {
	return m.fetchPlaylists()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.playlists.SetSize(msg.Width-4, msg.Height-8)
		m.history.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case PlaylistListView:
			return m.handlePlaylistListKeys(msg)
		case HistoryView:
			return m.handleHistoryKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		case WorkingView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPlaylistsFetched:
		data := msg.data.(playlistsData)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.err = nil
		now := m.now()
		items := make([]list.Item, len(data.playlists))
		for i, p := range data.playlists {
			items[i] = playlistItem{playlist: p, now: now}
		}
		m.playlists = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.playlists.Title = fmt.Sprintf("Rotating Playlists (%d)", len(items))
		m.playlists.SetSize(m.width-4, m.height-8)
		return m, nil

	case MsgHistoryFetched:
		data := msg.data.(historyData)
		if data.err != nil {
			m.err = data.err
			m.view = PlaylistListView
			return m, nil
		}
		m.selected = data.playlist
		items := make([]list.Item, len(data.rows))
		for i, row := range data.rows {
			items[i] = historyItem{row: row}
		}
		m.history = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.history.Title = fmt.Sprintf("History of '%s' (%d rotations)", data.playlist.Name, countBatches(data.rows))
		m.history.SetSize(m.width-4, m.height-8)
		m.view = HistoryView
		return m, nil

	case MsgRotationComplete:
		data := msg.data.(rotationData)
		m.action = data.action
		m.err = data.err
		m.latest = latestBatch(data.rows)
		if data.playlist != nil {
			m.selected = data.playlist
		}
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress g to reload, q to quit", m.err))
	}

	switch m.view {
	case PlaylistListView:
		return m.renderPlaylistList()
	case HistoryView:
		return m.renderHistory()
	case ConfirmView:
		return m.renderConfirm()
	case WorkingView:
		return m.renderWorking()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) selectedPlaylist() *models.Playlist {
	if item, ok := m.playlists.SelectedItem().(playlistItem); ok {
		return item.playlist
	}
	return nil
}

func (m *Model) handlePlaylistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.playlists.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.playlists, cmd = m.playlists.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		m.err = nil
		return m, m.fetchPlaylists()
	case key.Matches(msg, m.keys.enter):
		if p := m.selectedPlaylist(); p != nil {
			return m, m.fetchHistory(p)
		}
	case key.Matches(msg, m.keys.reshuffle):
		if p := m.selectedPlaylist(); p != nil {
			m.selected = p
			m.view = ConfirmView
			return m, nil
		}
	case key.Matches(msg, m.keys.sync):
		if p := m.selectedPlaylist(); p != nil && p.SyncPending {
			m.selected = p
			m.view = WorkingView
			return m, m.retrySync(p)
		}
	}

	var cmd tea.Cmd
	m.playlists, cmd = m.playlists.Update(msg)
	return m, cmd
}

func (m *Model) handleHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = PlaylistListView
		return m, nil
	case key.Matches(msg, m.keys.reshuffle):
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.history, cmd = m.history.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.view = PlaylistListView
		return m, nil
	case key.Matches(msg, m.keys.yes):
		m.view = WorkingView
		return m, m.reshuffle(m.selected)
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.enter):
		m.view = PlaylistListView
		m.latest = nil
		m.err = nil
		return m, m.fetchPlaylists()
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case PlaylistListView:
		m.playlists, cmd = m.playlists.Update(msg)
	case HistoryView:
		m.history, cmd = m.history.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchPlaylists() tea.Cmd {
	return func() tea.Msg {
		playlists, err := m.source.ListPlaylists(m.ctx, m.filter)
		return playlistsFetchedMsg(playlists, err)
	}
}

func (m *Model) fetchHistory(p *models.Playlist) tea.Cmd {
	return func() tea.Msg {
		rows, err := m.source.PlaylistHistory(m.ctx, p.ID, historyLimit)
		return historyFetchedMsg(p, rows, err)
	}
}

func (m *Model) reshuffle(p *models.Playlist) tea.Cmd {
	return func() tea.Msg {
		updated, err := m.rotator.ReshuffleByID(m.ctx, p.ID, rotation.ReshuffleOptions{})
		if updated == nil {
			updated = p
		}
		rows, histErr := m.source.PlaylistHistory(m.ctx, p.ID, updated.TargetSize)
		if err == nil {
			err = histErr
		}
		return rotationCompleteMsg("reshuffle", updated, rows, err)
	}
}

func (m *Model) retrySync(p *models.Playlist) tea.Cmd {
	return func() tea.Msg {
		err := m.rotator.SyncPending(m.ctx, p)
		return rotationCompleteMsg("sync", p, nil, err)
	}
}

func (m *Model) renderPlaylistList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.reshuffle, m.keys.sync, m.keys.refresh, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.playlists.View(), helpView)
}

func (m *Model) renderHistory() string {
	helpKeys := []key.Binding{m.keys.reshuffle, m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.history.View(), helpView)
}

func (m *Model) renderConfirm() string {
	p := m.selected
	title := styles.title.Render(fmt.Sprintf("Reshuffle '%s'?", p.Name))

	last := "never"
	if p.LastReshuffledAt != nil {
		last = p.LastReshuffledAt.Local().Format(time.DateTime)
	}
	info := fmt.Sprintf("\nTracks: %d\nArtist cap: %d\nLast reshuffled: %s\n", p.TargetSize, p.ArtistCap, last)
	info += styles.syncState(p) + "\n"

	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderWorking() string {
	title := styles.title.Render("Working")
	return fmt.Sprintf("%s\n\nUpdating '%s'...", title, m.selected.Name)
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit})

	if m.err != nil {
		msg := fmt.Sprintf("%s of '%s' failed: %v", m.action, m.selected.Name, m.err)
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(msg), helpView)
	}

	if m.action == "sync" {
		return fmt.Sprintf("%s\n\n%s", styles.ok.Render(fmt.Sprintf("✓ '%s' pushed to Spotify", m.selected.Name)), helpView)
	}

	title := styles.ok.Render(fmt.Sprintf("✓ Reshuffled '%s'", m.selected.Name))
	var b strings.Builder
	b.WriteString("\n" + styles.syncState(m.selected) + "\n")
	if len(m.latest) > 0 {
		fmt.Fprintf(&b, "\nBatch %s\n", m.latest[0].BatchTag)
	}
	for _, row := range m.latest {
		fmt.Fprintf(&b, "  %2d. %s - %s\n", row.Position+1, row.Artist, row.TrackName)
	}
	if m.selected.NextReshuffleAt != nil {
		b.WriteString(styles.help.Render("\nNext reshuffle " + m.selected.NextReshuffleAt.Local().Format(time.DateTime)))
	}

	return fmt.Sprintf("%s\n%s\n\n%s", title, b.String(), helpView)
}

// latestBatch returns the rows of the newest batch in position order. Rows arrive newest first.
func latestBatch(rows []models.HistoryRow) []models.HistoryRow {
	if len(rows) == 0 {
		return nil
	}
	tag := rows[0].BatchTag
	var out []models.HistoryRow
	for _, row := range rows {
		if row.BatchTag == tag {
			out = append(out, row)
		}
	}
	return out
}

func countBatches(rows []models.HistoryRow) int {
	seen := make(map[string]struct{})
	for _, row := range rows {
		seen[row.BatchTag] = struct{}{}
	}
	return len(seen)
}
