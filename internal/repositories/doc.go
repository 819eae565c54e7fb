// Package repositories implements SQLite persistence for the roundsync domain.
//
// Key Implementations:
//   - [SubmissionRepository] : the group catalog, serving accepted submissions and recording resolved platform IDs
//   - [GroupPlaylistRepository] : one row per (group, platform) with its ordered track set, soft deleted via is_active
//   - [LeaseRepository] : sync leases acquired with a single conditional upsert
//
// Resolved platform IDs and playlist tracks are append-only: nothing here removes
// a track from a playlist that is still backed by the same native playlist.
package repositories
