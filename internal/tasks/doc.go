// Package tasks runs the background jobs of the rotation engine and reports progress of
// long-running operations.
//
// # Worker
//
// A [Worker] polls a [scheduler.Scheduler] on a fixed tick. Every enabled job that is due is
// started in its own goroutine, unless a previous run of the same job is still in flight.
// When a run finishes, successfully or not, the worker calls [scheduler.Scheduler.RecordRun]
// so the next run is one cadence later. Failures are logged and kept for [Worker.LastError].
//
// # Jobs
//
// The job functions in jobs.go adapt the rotation manager, the token provider and the metrics
// repository to [JobFunc]:
//
//   - [ReshuffleJob] : retry pending syncs, then reshuffle due playlists
//   - [TokenRefreshJob] : refresh tokens expiring within a window
//   - [MetricsJob] : record a metrics snapshot
//   - [ScalingJob] : top accounts up toward the configured playlist count
//
// # Progress Reporting
//
// Bulk operations send [ProgressUpdate] values over channels. Sends never block; an update is
// dropped when the channel is full.
//
// # History Export
//
// [BulkHistoryExport] writes the ledger of many playlists to disk with a pool of workers and a
// manifest summarizing the results.
package tasks
