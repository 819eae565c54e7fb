package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/services"
	"github.com/desertthunder/roundsync/internal/shared"
)

const (
	DefaultThreshold   = 0.55
	DefaultSearchLimit = 10
	DefaultCallTimeout = 10 * time.Second

	// HighConfidence is the confidence above which a match needs no review.
	HighConfidence = 0.8
)

// Resolver resolves one song against one platform: it builds the query, runs the
// search under a per-call timeout and ranks the candidates.
//
// A Resolver holds no mutable state and is safe for concurrent use.
type Resolver struct {
	scorer    Scorer
	threshold float64
	limit     int
	timeout   time.Duration
	logger    *log.Logger
}

// ResolverOption configures a [Resolver].
type ResolverOption func(*Resolver)

func WithScorer(s Scorer) ResolverOption {
	return func(r *Resolver) { r.scorer = s }
}

// WithThreshold sets the acceptance threshold for a best match.
func WithThreshold(t float64) ResolverOption {
	return func(r *Resolver) { r.threshold = t }
}

// WithSearchLimit sets how many candidates to request per search.
func WithSearchLimit(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithCallTimeout bounds each search call.
func WithCallTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithResolverLogger(l *log.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver with the default scorer, threshold, limit and timeout.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		scorer:    DefaultScorer(),
		threshold: DefaultThreshold,
		limit:     DefaultSearchLimit,
		timeout:   DefaultCallTimeout,
		logger:    shared.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Overrides are per-request adjustments to a resolver.
type Overrides struct {
	Limit               int
	RespectDurationHint *bool
}

// With returns a copy of r with o applied. Zero fields keep r's settings.
func (r *Resolver) With(o Overrides) *Resolver {
	c := *r
	if o.Limit > 0 {
		c.limit = o.Limit
	}
	if o.RespectDurationHint != nil {
		c.scorer.RespectDurationHint = *o.RespectDurationHint
	}
	return &c
}

// Threshold returns the acceptance threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Query builds the search text for a song.
func Query(song models.CanonicalSong) string {
	return strings.TrimSpace(NormalizeText(song.Title) + " " + NormalizeText(song.Artist))
}

// Resolve searches for song on the searcher's platform and ranks the results.
//
// Platform errors are returned unchanged for the caller to retry; a search that
// exceeds the call timeout fails with [shared.ErrPlatformUnavailable]. A search with
// no acceptable candidate is not an error: the result has a nil BestMatch and
// Unresolved set to [models.NoMatch].
func (r *Resolver) Resolve(ctx context.Context, searcher services.Searcher, song models.CanonicalSong) (*models.MatchResult, error) {
	platform := searcher.Platform()
	query := Query(song)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	candidates, err := searcher.Search(callCtx, query, r.limit)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s search timed out after %s", shared.ErrPlatformUnavailable, platform, r.timeout)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	return r.rank(song, platform, candidates), nil
}

// rank scores candidates and orders them by confidence, keeping search order on ties.
func (r *Resolver) rank(song models.CanonicalSong, platform models.Platform, candidates []models.Candidate) *models.MatchResult {
	prepared := prepare(song)

	scored := make([]models.ScoredCandidate, len(candidates))
	for i, c := range candidates {
		if c.Platform == "" {
			c.Platform = platform
		}
		scored[i] = models.ScoredCandidate{
			Candidate:  c,
			Confidence: r.scorer.score(prepared, c),
			Rank:       i,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Confidence > scored[j].Confidence
	})

	result := &models.MatchResult{
		Song:       song,
		Platform:   platform,
		Candidates: scored,
		Attempts:   1,
	}

	if len(scored) > 0 {
		result.Confidence = scored[0].Confidence
	}
	if len(scored) > 0 && scored[0].Confidence >= r.threshold {
		best := scored[0].Candidate
		result.BestMatch = &best
	} else {
		result.Unresolved = models.NoMatch
	}

	r.logger.Debug("resolved",
		"platform", platform,
		"title", song.Title,
		"candidates", len(scored),
		"confidence", result.Confidence,
		"matched", result.BestMatch != nil,
	)
	return result
}
