// Package repositories implements SQLite persistence for the rotation engine.
//
// Key Implementations:
//   - [AccountRepository] : accounts, stored tokens and the atomic capacity reservation
//   - [TrackRepository] : the track catalog, imports and usability toggles
//   - [PlaylistRepository] : rotating playlists and the due query used by sweeps
//   - [HistoryRepository] : the append-only rotation ledger
//   - [MetricRepository] : live overview and periodic snapshots
//
// [Store] composes the repositories behind the persistence interface of the rotation manager.
//
// Sequence numbers provide stable, human-readable ordering independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
