package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/desertthunder/roundsync/internal/matching"
	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/services"
	"github.com/desertthunder/roundsync/internal/shared"
	"golang.org/x/sync/errgroup"
)

// BulkMatchOpts are the per-request options of a bulk match.
type BulkMatchOpts struct {
	TargetPlatforms     []models.Platform `json:"targetPlatforms"`     // empty means every configured platform
	Limit               int               `json:"limit"`               // candidates per search, 0 keeps the default
	RespectDurationHint *bool             `json:"respectDurationHint"` // nil keeps the configured behavior
}

// BulkMatch resolves every song on every target platform.
//
// Each platform has its own worker and rate budget, shared with every other bulk
// match on the engine, so one platform being throttled never slows another. Pairs that already carry a platform ID are not
// searched. Failures stay in their result entry: the report is returned even when
// ctx is cancelled, with the remaining pairs marked cancelled. Songs keep input order.
func (e *Engine) BulkMatch(ctx context.Context, prog chan<- ProgressUpdate, songs []models.CanonicalSong, opts BulkMatchOpts) (*models.BulkMatchReport, error) {
	platforms, err := e.targetPlatforms(opts.TargetPlatforms)
	if err != nil {
		return nil, err
	}
	for i, song := range songs {
		if err := song.Validate(); err != nil {
			return nil, fmt.Errorf("song %d: %w", i, err)
		}
	}

	resolver := e.resolver.With(matching.Overrides{
		Limit:               opts.Limit,
		RespectDurationHint: opts.RespectDurationHint,
	})

	results := make([][]*models.MatchResult, len(platforms))
	var g errgroup.Group
	for i, p := range platforms {
		svc, err := e.registry.Get(p)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			results[i] = e.matchPlatform(ctx, prog, resolver, svc, songs)
			return nil
		})
	}
	g.Wait()

	return buildReport(songs, platforms, results, resolver.Threshold()), nil
}

// targetPlatforms validates and dedupes the requested platforms.
func (e *Engine) targetPlatforms(requested []models.Platform) ([]models.Platform, error) {
	if len(requested) == 0 {
		platforms := e.registry.Platforms()
		if len(platforms) == 0 {
			return nil, fmt.Errorf("%w: no platforms configured", shared.ErrMissingConfig)
		}
		return platforms, nil
	}

	var platforms []models.Platform
	for _, p := range requested {
		if _, err := e.registry.Get(p); err != nil {
			return nil, err
		}
		if !slices.Contains(platforms, p) {
			platforms = append(platforms, p)
		}
	}
	return platforms, nil
}

// matchPlatform runs one platform's pool over all songs.
func (e *Engine) matchPlatform(ctx context.Context, prog chan<- ProgressUpdate, resolver *matching.Resolver, svc services.Searcher, songs []models.CanonicalSong) []*models.MatchResult {
	p := svc.Platform()
	out := make([]*models.MatchResult, len(songs))

	budget := e.budget(p)

	var done atomic.Int64
	report := func(r *models.MatchResult) {
		e.sendProgress(prog, matchSongUpdate(int(done.Add(1)), len(songs), r))
	}

	var g errgroup.Group
	for i, song := range songs {
		if id, ok := song.PlatformID(p); ok {
			out[i] = preResolved(song, p, id)
			report(out[i])
			continue
		}
		if err := budget.workers.Acquire(ctx, 1); err != nil {
			out[i] = unresolved(song, p, models.Cancelled, err, 0)
			report(out[i])
			continue
		}
		g.Go(func() error {
			defer budget.workers.Release(1)
			out[i] = e.resolveWithRetry(ctx, budget, resolver, svc, song)
			report(out[i])
			return nil
		})
	}
	g.Wait()

	return out
}

// resolveWithRetry resolves one pair, retrying rate limited and unavailable platforms with backoff.
// A retry-after hint pauses the platform for every worker, not just this pair.
func (e *Engine) resolveWithRetry(ctx context.Context, budget *platformBudget, resolver *matching.Resolver, svc services.Searcher, song models.CanonicalSong) *models.MatchResult {
	p := svc.Platform()
	logger := e.logger.With("platform", p, "title", song.Title)

	var attempts, rateLimited, unavailable int
	for {
		if err := ctx.Err(); err != nil {
			return unresolved(song, p, models.Cancelled, err, attempts)
		}
		if err := e.waitTurn(ctx, budget); err != nil {
			return unresolved(song, p, models.Cancelled, err, attempts)
		}

		attempts++
		result, err := resolver.Resolve(ctx, svc, song)
		e.metrics.search(p, result, err)
		if err == nil {
			result.Attempts = attempts
			return result
		}

		reason := reasonFor(err)
		if ctx.Err() != nil {
			reason = models.Cancelled
		}

		hint := shared.RetryAfterHint(err)
		var retry int
		switch reason {
		case models.RateLimited:
			if hint > 0 {
				budget.pause(e.now().Add(e.capDelay(hint)))
			}
			rateLimited++
			if rateLimited > e.bulk.MaxRateLimitRetries {
				return unresolved(song, p, reason, err, attempts)
			}
			retry = rateLimited
		case models.PlatformUnavailable:
			unavailable++
			if unavailable > e.bulk.MaxUnavailableRetries {
				return unresolved(song, p, reason, err, attempts)
			}
			retry = unavailable
		default:
			return unresolved(song, p, reason, err, attempts)
		}

		delay := e.backoff(retry, hint)
		e.metrics.retry(p, reason)
		logger.Debug("retrying search", "reason", reason, "retry", retry, "delay", delay, "error", err)

		if err := e.sleep(ctx, delay); err != nil {
			return unresolved(song, p, models.Cancelled, err, attempts)
		}
	}
}

// reasonFor classifies an adapter error. Errors no adapter documents are treated as the platform being unavailable.
func reasonFor(err error) models.UnresolvedReason {
	switch {
	case errors.Is(err, context.Canceled):
		return models.Cancelled
	case errors.Is(err, shared.ErrRateLimited):
		return models.RateLimited
	case errors.Is(err, shared.ErrAuthExpired):
		return models.AuthExpired
	default:
		return models.PlatformUnavailable
	}
}

func unresolved(song models.CanonicalSong, p models.Platform, reason models.UnresolvedReason, err error, attempts int) *models.MatchResult {
	r := &models.MatchResult{
		Song:       song,
		Platform:   p,
		Candidates: []models.ScoredCandidate{},
		Attempts:   attempts,
	}
	r.Fail(reason, err)
	return r
}

// preResolved reports a pair whose track ID is already known without searching.
func preResolved(song models.CanonicalSong, p models.Platform, trackID string) *models.MatchResult {
	return &models.MatchResult{
		Song:     song,
		Platform: p,
		BestMatch: &models.Candidate{
			NativeTrackID: trackID,
			Title:         song.Title,
			Artist:        song.Artist,
			Album:         song.Album,
			DurationMs:    song.DurationMs,
			Platform:      p,
		},
		Candidates:  []models.ScoredCandidate{},
		Confidence:  1,
		PreResolved: true,
	}
}

// buildReport assembles per-song results in input order and computes the statistics.
func buildReport(songs []models.CanonicalSong, platforms []models.Platform, results [][]*models.MatchResult, threshold float64) *models.BulkMatchReport {
	report := &models.BulkMatchReport{
		Songs:         make([]models.SongMatch, len(songs)),
		PlatformStats: make(map[models.Platform]models.PlatformStats, len(platforms)),
		Overall: models.OverallStats{
			TotalSongs:            len(songs),
			SuccessfulMatches:     []models.SongMatch{},
			HighConfidenceMatches: []models.SongMatch{},
		},
	}

	for pi, p := range platforms {
		stats := models.PlatformStats{Unresolved: map[models.UnresolvedReason]int{}}
		for _, r := range results[pi] {
			if r.Resolved() {
				stats.TotalMatches++
			}
			if r.Resolved() || hasCandidateAbove(r, threshold) {
				stats.SongsWithMatches++
			}
			if r.Unresolved != "" {
				stats.Unresolved[r.Unresolved]++
			}
		}
		if len(songs) > 0 {
			stats.AverageMatchesPerSong = float64(stats.TotalMatches) / float64(len(songs))
		}
		report.PlatformStats[p] = stats
	}

	var total float64
	for i, song := range songs {
		sm := models.SongMatch{Song: song, Results: make(map[models.Platform]*models.MatchResult, len(platforms))}
		for pi, p := range platforms {
			r := results[pi][i]
			sm.Results[p] = r
			if r.Confidence > sm.Confidence {
				sm.Confidence = r.Confidence
			}
		}
		report.Songs[i] = sm
		total += sm.Confidence

		if sm.Matched() {
			report.Overall.SuccessfulMatches = append(report.Overall.SuccessfulMatches, sm)
		}
		if sm.Confidence > matching.HighConfidence {
			report.Overall.HighConfidenceMatches = append(report.Overall.HighConfidenceMatches, sm)
		}
	}
	if len(songs) > 0 {
		report.Overall.AverageConfidence = total / float64(len(songs))
	}
	return report
}

func hasCandidateAbove(r *models.MatchResult, threshold float64) bool {
	for _, c := range r.Candidates {
		if c.Confidence >= threshold {
			return true
		}
	}
	return false
}
