// Package tasks runs song matching and group playlist synchronization with real-time progress reporting.
//
// # Core Operations
//
// [Engine] exposes:
//
//  1. [Engine.MatchOne] : resolve one song on one platform, no retries
//
//  2. [Engine.BulkMatch] : resolve many songs on several platforms
//     - One worker pool and rate limiter per platform
//     - Rate limited and unavailable platforms are retried with jittered backoff
//     - Songs that already carry a platform ID are not searched
//     - Returns per-song results in input order plus per-platform and overall stats
//
//  3. [Engine.SyncPlaylist] : bring a group's playlist up to date
//     - Holds the (group, platform) lease for the whole run
//     - Matches only unresolved submissions and records new IDs in the catalog
//     - Creates the native playlist on first run and only ever appends tracks
//
//  4. [Engine.RenamePlaylist] and [Engine.DeactivatePlaylist] : lease-guarded playlist edits
//
// # Progress Reporting
//
// All long-running operations accept a progress channel. Sends use select with
// default so a slow consumer never blocks the engine.
//
// # Metrics
//
// An optional [Metrics] counts searches, retries, lease acquisitions and sync outcomes for Prometheus.
package tasks
