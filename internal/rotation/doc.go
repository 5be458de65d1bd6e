// Package rotation manages the lifecycle of rotating playlists.
//
// A [Manager] creates playlists against an account's capacity, fills them with a
// [sampler.Sampler] selection and reshuffles them on their interval. Every rotation is
// written to the history ledger before the remote push, so a failed push leaves the
// ledger intact and flags the playlist with SyncPending. [Manager.SyncPending] later
// re-pushes the latest ledger batch without selecting new tracks.
//
// Persistence, remote writes and credentials are supplied through the [Store],
// [RemoteSync] and [Credentials] interfaces.
package rotation
