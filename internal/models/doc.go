// Package models defines the domain types shared by the matcher, the bulk
// orchestrator and the playlist synchronizer.
//
// Matching types:
//   - [CanonicalSong] : loose (title, artist, album) record plus the platform IDs resolved so far
//   - [Candidate], [ScoredCandidate] : platform search hits and their confidence
//   - [MatchResult], [SongMatch], [BulkMatchReport] : per pair, per song and per batch outcomes
//
// Sync types:
//   - [GroupPlaylist] : the one playlist per (group, platform) pair with its [SyncState]
//   - [SyncLease] : exclusive right to mutate a pair's playlist until it expires
//   - [SyncResult] : what a sync added and what it could not resolve
//
// [Submission] is the catalog record the submissions store keeps for each group.
package models
