// Package ui implements an interactive rotation dashboard using bubbletea's Elm architecture.
//
// The TUI provides a multi-view workflow over the rotating playlists:
//  1. [PlaylistListView] : Browse playlists with their next reshuffle and sync state
//  2. [HistoryView] : Inspect the ledger batches of the selected playlist
//  3. [ConfirmView] : Confirm a reshuffle
//  4. [WorkingView] : Wait for the reshuffle or sync retry to finish
//  5. [ResultView] : Show the new batch or the failure
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, r, s, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
