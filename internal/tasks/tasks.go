package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/roundsync/internal/leases"
	"github.com/desertthunder/roundsync/internal/matching"
	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/services"
	"github.com/desertthunder/roundsync/internal/shared"
)

const (
	DefaultSafetyMargin = 15 * time.Second
	DefaultNameTemplate = "%s Daily Songs"

	// addBatchSize is the most tracks sent in one AddTracks call.
	addBatchSize = 100
)

// SubmissionStore is the catalog of accepted songs per group.
type SubmissionStore interface {
	// AcceptedSubmissions returns a group's accepted songs in submission order.
	AcceptedSubmissions(ctx context.Context, groupID string) ([]models.CanonicalSong, error)

	// RecordResolvedPlatformID stores the native track a song resolved to.
	RecordResolvedPlatformID(ctx context.Context, songID string, p models.Platform, trackID string) error
}

// PlaylistStore persists group playlists. Get fails with [shared.ErrPlaylistNotFound] when no row exists.
type PlaylistStore interface {
	Get(ctx context.Context, groupID string, p models.Platform) (*models.GroupPlaylist, error)
	ListByGroup(ctx context.Context, groupID string) ([]*models.GroupPlaylist, error)
	Save(ctx context.Context, p *models.GroupPlaylist) error
	UpdateState(ctx context.Context, groupID string, p models.Platform, state models.SyncState, lastErr string) error
	Rename(ctx context.Context, groupID string, p models.Platform, name string) error
	Deactivate(ctx context.Context, groupID string, p models.Platform) error
}

// LeaseManager hands out per (group, platform) sync leases.
type LeaseManager interface {
	Acquire(ctx context.Context, groupID string, p models.Platform, ttl time.Duration) (*models.SyncLease, error)
	Release(ctx context.Context, lease *models.SyncLease) error
}

// BulkConfig tunes the per-platform worker pools and their retry policy.
type BulkConfig struct {
	WorkersPerPlatform    int
	RequestsPerSecond     float64 // not positive means unlimited
	BackoffBase           time.Duration
	BackoffCap            time.Duration
	MaxRateLimitRetries   int
	MaxUnavailableRetries int
}

// DefaultBulkConfig returns 4 workers at 5 rps per platform, 500ms to 8s backoff,
// 5 rate limit retries and 2 unavailable retries.
func DefaultBulkConfig() BulkConfig {
	return BulkConfig{
		WorkersPerPlatform:    4,
		RequestsPerSecond:     5,
		BackoffBase:           500 * time.Millisecond,
		BackoffCap:            8 * time.Second,
		MaxRateLimitRetries:   5,
		MaxUnavailableRetries: 2,
	}
}

// Engine runs matching and playlist synchronization for groups.
//
// Engine is safe for concurrent use; playlist mutations for one (group, platform)
// pair are serialized through the lease manager. Concurrent bulk matches share each
// platform's worker and rate budget.
type Engine struct {
	registry     *services.Registry
	resolver     *matching.Resolver
	submissions  SubmissionStore
	playlists    PlaylistStore
	leases       LeaseManager
	bulk         BulkConfig
	safetyMargin time.Duration
	nameTemplate string
	groupName    func(groupID string) string
	metrics      *Metrics
	logger       *log.Logger

	// budgets holds one *platformBudget per platform.
	budgets sync.Map

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

func WithResolver(r *matching.Resolver) EngineOption {
	return func(e *Engine) { e.resolver = r }
}

func WithSubmissionStore(s SubmissionStore) EngineOption {
	return func(e *Engine) { e.submissions = s }
}

func WithPlaylistStore(s PlaylistStore) EngineOption {
	return func(e *Engine) { e.playlists = s }
}

func WithLeaseManager(m LeaseManager) EngineOption {
	return func(e *Engine) { e.leases = m }
}

// WithBulkConfig replaces the pool and retry settings. A non-positive worker count keeps the default.
func WithBulkConfig(c BulkConfig) EngineOption {
	return func(e *Engine) {
		if c.WorkersPerPlatform <= 0 {
			c.WorkersPerPlatform = e.bulk.WorkersPerPlatform
		}
		e.bulk = c
	}
}

// WithSafetyMargin sets how long before lease expiry a sync stops working.
func WithSafetyMargin(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.safetyMargin = d
		}
	}
}

// WithNameTemplate sets the fmt template for new playlist names. It receives the group name.
func WithNameTemplate(t string) EngineOption {
	return func(e *Engine) {
		if strings.Contains(t, "%s") {
			e.nameTemplate = t
		}
	}
}

// WithGroupNamer maps group IDs to display names for new playlists.
func WithGroupNamer(fn func(groupID string) string) EngineOption {
	return func(e *Engine) { e.groupName = fn }
}

func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over the platforms in registry. Without a lease
// manager option, leases are kept in memory.
func NewEngine(registry *services.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:     registry,
		resolver:     matching.NewResolver(),
		leases:       leases.NewManager(leases.NewMemoryStore()),
		bulk:         DefaultBulkConfig(),
		safetyMargin: DefaultSafetyMargin,
		nameTemplate: DefaultNameTemplate,
		logger:       shared.NopLogger(),
		now:          time.Now,
		sleep:        sleepContext,
		jitter:       fullJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *Engine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// MatchOne resolves a single song on one platform without retries.
func (e *Engine) MatchOne(ctx context.Context, song models.CanonicalSong, p models.Platform) (*models.MatchResult, error) {
	if err := song.Validate(); err != nil {
		return nil, err
	}
	svc, err := e.registry.Get(p)
	if err != nil {
		return nil, err
	}

	result, err := e.resolver.Resolve(ctx, svc, song)
	e.metrics.search(p, result, err)
	if err != nil {
		return nil, fmt.Errorf("match %q on %s: %w", song.Title, p, err)
	}
	return result, nil
}

// Playlists lists a group's playlists, including inactive ones.
func (e *Engine) Playlists(ctx context.Context, groupID string) ([]*models.GroupPlaylist, error) {
	if e.playlists == nil {
		return nil, fmt.Errorf("%w: no playlist store", shared.ErrMissingConfig)
	}
	return e.playlists.ListByGroup(ctx, groupID)
}

func (e *Engine) playlistName(groupID string) string {
	name := groupID
	if e.groupName != nil {
		if n := strings.TrimSpace(e.groupName(groupID)); n != "" {
			name = n
		}
	}
	return fmt.Sprintf(e.nameTemplate, name)
}
