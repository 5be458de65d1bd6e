// Package models defines the domain entities of the rotation engine.
//
// Persistent entities:
//   - [Account] : external account owning playlists, bounded by a capacity ceiling
//   - [Track] : catalog entry; only usability and last-used time change after import
//   - [Playlist] : rotating playlist with its reshuffle policy and due time
//   - [HistoryEntry] : append-only ledger row recording a track placed in a playlist
//   - [MetricSnapshot] : periodic counts for the metrics report
//
// Each entity validates itself with Validate before it is written.
package models
