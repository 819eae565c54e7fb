package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/roundsync/internal/shared"
)

// Platform identifies a streaming service a group playlist can live on.
type Platform string

const (
	Spotify    Platform = "spotify"
	AppleMusic Platform = "apple-music"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{Spotify, AppleMusic}
}

// ParsePlatform validates a platform name. Unknown names wrap [shared.ErrInvalidPlatform].
func ParsePlatform(name string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case Spotify, AppleMusic:
		return p, nil
	case "applemusic", "apple_music", "apple":
		return AppleMusic, nil
	default:
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidPlatform, name)
	}
}

// CanonicalSong is a platform-independent song record submitted by a group member.
//
// DurationMs is zero when unknown. Only PlatformIDs ever grows.
type CanonicalSong struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Artist      string              `json:"artist"`
	Album       string              `json:"album,omitempty"`
	DurationMs  int                 `json:"durationMs,omitempty"`
	PlatformIDs map[Platform]string `json:"platformIds,omitempty"`
}

// Validate checks the song carries enough metadata to search for.
func (s CanonicalSong) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: song title is required", shared.ErrInvalidInput)
	}
	if strings.TrimSpace(s.Artist) == "" {
		return fmt.Errorf("%w: song artist is required", shared.ErrInvalidInput)
	}
	if s.DurationMs < 0 {
		return fmt.Errorf("%w: duration must not be negative", shared.ErrInvalidInput)
	}
	return nil
}

// PlatformID returns the already resolved track ID for p, if any.
func (s CanonicalSong) PlatformID(p Platform) (string, bool) {
	id, ok := s.PlatformIDs[p]
	return id, ok && id != ""
}

// Candidate is one search hit returned by a platform. Never persisted.
type Candidate struct {
	NativeTrackID string   `json:"nativeTrackId"`
	Title         string   `json:"title"`
	Artist        string   `json:"artist"`
	Album         string   `json:"album,omitempty"`
	DurationMs    int      `json:"durationMs,omitempty"`
	Platform      Platform `json:"platform"`
}

// ScoredCandidate pairs a candidate with its confidence. Rank is the platform's search order, starting at 0.
type ScoredCandidate struct {
	Candidate
	Confidence float64 `json:"confidence"`
	Rank       int     `json:"rank"`
}

// UnresolvedReason explains why a (song, platform) pair has no best match.
type UnresolvedReason string

const (
	NoMatch             UnresolvedReason = "no_match"
	RateLimited         UnresolvedReason = "rate_limited"
	PlatformUnavailable UnresolvedReason = "platform_unavailable"
	AuthExpired         UnresolvedReason = "auth_expired"
	Cancelled           UnresolvedReason = "cancelled"
)

// MatchResult is the outcome of resolving one song on one platform.
//
// BestMatch is nil unless the top confidence cleared the acceptance threshold,
// in which case Unresolved is empty.
type MatchResult struct {
	Song        CanonicalSong     `json:"song"`
	Platform    Platform          `json:"platform"`
	Candidates  []ScoredCandidate `json:"candidates"`
	BestMatch   *Candidate        `json:"bestMatch"`
	Confidence  float64           `json:"confidence"`
	Unresolved  UnresolvedReason  `json:"unresolved,omitempty"`
	PreResolved bool              `json:"preResolved,omitempty"`
	Attempts    int               `json:"attempts,omitempty"`
	Err         error             `json:"-"`
	Error       string            `json:"error,omitempty"`
}

// Resolved reports whether the pair ended with a best match.
func (r *MatchResult) Resolved() bool {
	return r != nil && r.BestMatch != nil
}

// Fail marks the result unresolved for reason, keeping err for callers.
func (r *MatchResult) Fail(reason UnresolvedReason, err error) {
	r.BestMatch = nil
	r.Unresolved = reason
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// SongMatch groups the per-platform results for one input song.
//
// Confidence is the highest confidence across platforms.
type SongMatch struct {
	Song       CanonicalSong             `json:"song"`
	Results    map[Platform]*MatchResult `json:"results"`
	Confidence float64                   `json:"confidence"`
}

// Matched reports whether any platform produced a best match.
func (m SongMatch) Matched() bool {
	for _, r := range m.Results {
		if r.Resolved() {
			return true
		}
	}
	return false
}

// PlatformStats summarizes one platform's share of a bulk match.
type PlatformStats struct {
	TotalMatches          int                      `json:"totalMatches"`
	SongsWithMatches      int                      `json:"songsWithMatches"`
	AverageMatchesPerSong float64                  `json:"averageMatchesPerSong"`
	Unresolved            map[UnresolvedReason]int `json:"unresolved,omitempty"`
}

// OverallStats summarizes a bulk match across platforms.
type OverallStats struct {
	TotalSongs            int         `json:"totalSongs"`
	SuccessfulMatches     []SongMatch `json:"successfulMatches"`
	HighConfidenceMatches []SongMatch `json:"highConfidenceMatches"`
	AverageConfidence     float64     `json:"averageConfidence"`
}

// BulkMatchReport is the result of a bulk match. Songs follow input order.
type BulkMatchReport struct {
	Songs         []SongMatch                `json:"songs"`
	PlatformStats map[Platform]PlatformStats `json:"platformStats"`
	Overall       OverallStats               `json:"overall"`
}

// SyncState is the lifecycle state of a group playlist.
type SyncState string

const (
	Uninitialized SyncState = "uninitialized"
	Syncing       SyncState = "syncing"
	Synced        SyncState = "synced"
	Failed        SyncState = "failed"
)

// GroupPlaylist is the persisted playlist for one (group, platform) pair.
//
// TrackIDs is an insertion ordered set.
type GroupPlaylist struct {
	GroupID          string     `json:"groupId"`
	Platform         Platform   `json:"platform"`
	NativePlaylistID string     `json:"nativePlaylistId"`
	Name             string     `json:"name"`
	TrackIDs         []string   `json:"trackIds"`
	LastSyncedAt     *time.Time `json:"lastSyncedAt,omitempty"`
	IsActive         bool       `json:"isActive"`
	State            SyncState  `json:"state"`
	LastError        string     `json:"lastError,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// HasTrack reports whether trackID is already on the playlist.
func (p *GroupPlaylist) HasTrack(trackID string) bool {
	for _, id := range p.TrackIDs {
		if id == trackID {
			return true
		}
	}
	return false
}

// SyncLease grants exclusive right to mutate one (group, platform) playlist until ExpiresAt.
type SyncLease struct {
	GroupID    string    `json:"groupId"`
	Platform   Platform  `json:"platform"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the lease has lapsed at now.
func (l *SyncLease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// SyncResult tells the caller what a sync changed and which songs stayed unresolved.
type SyncResult struct {
	Playlist   *GroupPlaylist `json:"playlist"`
	Added      []string       `json:"added"`
	Unresolved []*MatchResult `json:"unresolved"`
	Created    bool           `json:"created"`
}

// SubmissionStatus is the moderation state of a submission.
type SubmissionStatus string

const (
	Pending  SubmissionStatus = "pending"
	Accepted SubmissionStatus = "accepted"
	Rejected SubmissionStatus = "rejected"
)

// Submission is a song a group member put forward for a round.
type Submission struct {
	CanonicalSong
	GroupID     string           `json:"groupId"`
	Status      SubmissionStatus `json:"status"`
	SubmittedAt time.Time        `json:"submittedAt"`
}
