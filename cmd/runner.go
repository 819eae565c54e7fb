package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/roundsync/internal/formatter"
	"github.com/desertthunder/roundsync/internal/leases"
	"github.com/desertthunder/roundsync/internal/matching"
	"github.com/desertthunder/roundsync/internal/repositories"
	"github.com/desertthunder/roundsync/internal/services"
	"github.com/desertthunder/roundsync/internal/shared"
	"github.com/desertthunder/roundsync/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, platform registry and engine are built on first use so commands
// like setup run without credentials.
type Runner struct {
	config     *shared.Config
	configPath string
	registry   *services.Registry
	db         *sql.DB
	ownsDB     bool
	logger     *log.Logger
	output     io.Writer
	palette    *formatter.Palette
	metrics    *prometheus.Registry

	engine      *tasks.Engine
	submissions *repositories.SubmissionRepository
	leases      *leases.Manager
	closers     []func()
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Registry   *services.Registry // nil builds adapters from the configured credentials
	DB         *sql.DB            // nil opens config.Database.Path; an injected DB is not closed
	Logger     *log.Logger
	Output     io.Writer
	Metrics    *prometheus.Registry
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Metrics == nil {
		opts.Metrics = prometheus.NewRegistry()
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		registry:   opts.Registry,
		db:         opts.DB,
		logger:     opts.Logger,
		output:     opts.Output,
		palette:    formatter.PaletteFor(opts.Output),
		metrics:    opts.Metrics,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, matchCommand, playlistCommand, submissionsCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:      "roundsync",
		Usage:     "Resolve group song submissions and keep their streaming playlists in sync",
		Version:   "0.1.0",
		Writer:    r.output,
		ErrWriter: r.output,
		Commands:  r.register(),
	}
}

// open lazily connects the database and builds the engine.
func (r *Runner) open(ctx context.Context) error {
	if r.engine != nil {
		return nil
	}

	if r.db == nil {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		if r.config.Database.Path != ":memory:" {
			shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		}
		r.db, r.ownsDB = db, true
	}
	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if r.registry == nil {
		r.registry = buildRegistry(ctx, r.config, r.logger)
	}

	store, err := r.leaseStore(ctx)
	if err != nil {
		return err
	}
	r.leases = leases.NewManager(store,
		leases.WithTTL(r.config.Leases.TTL.Duration),
		leases.WithSweepInterval(r.config.Leases.SweepInterval.Duration),
		leases.WithLogger(shared.WithLogger(r.logger, "component", "leases")),
	)

	r.submissions = repositories.NewSubmissionRepository(r.db)
	r.engine = tasks.NewEngine(r.registry,
		tasks.WithResolver(buildResolver(r.config, r.logger)),
		tasks.WithSubmissionStore(r.submissions),
		tasks.WithPlaylistStore(repositories.NewGroupPlaylistRepository(r.db)),
		tasks.WithLeaseManager(r.leases),
		tasks.WithBulkConfig(tasks.BulkConfig{
			WorkersPerPlatform:    r.config.Bulk.WorkersPerPlatform,
			RequestsPerSecond:     r.config.Bulk.RequestsPerSecond,
			BackoffBase:           r.config.Bulk.BackoffBase.Duration,
			BackoffCap:            r.config.Bulk.BackoffCap.Duration,
			MaxRateLimitRetries:   r.config.Bulk.MaxRateLimitRetries,
			MaxUnavailableRetries: r.config.Bulk.MaxUnavailableRetries,
		}),
		tasks.WithSafetyMargin(r.config.Leases.SafetyMargin.Duration),
		tasks.WithNameTemplate(r.config.Playlists.NameTemplate),
		tasks.WithMetrics(tasks.NewMetrics(r.metrics)),
		tasks.WithLogger(shared.WithLogger(r.logger, "component", "engine")),
	)
	return nil
}

func (r *Runner) leaseStore(ctx context.Context) (leases.Store, error) {
	switch r.config.Leases.Backend {
	case "memory":
		return leases.NewMemoryStore(), nil
	case "postgres":
		store, err := leases.NewPostgresStore(ctx, r.config.Leases.PostgresURL)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, store.Close)
		return store, nil
	case "sqlite", "":
		return repositories.NewLeaseRepository(r.db), nil
	default:
		return nil, fmt.Errorf("%w: unknown lease backend %q", shared.ErrInvalidConfig, r.config.Leases.Backend)
	}
}

// Close releases whatever open created.
func (r *Runner) Close() {
	for _, c := range r.closers {
		c()
	}
	r.closers = nil
	if r.ownsDB && r.db != nil {
		r.db.Close()
		r.db, r.ownsDB = nil, false
	}
}

func buildResolver(cfg *shared.Config, logger *log.Logger) *matching.Resolver {
	return matching.NewResolver(
		matching.WithScorer(matching.Scorer{
			RespectDurationHint: cfg.Matching.RespectDurationHint,
			QualifierPenalty:    cfg.Matching.QualifierPenalty,
		}),
		matching.WithThreshold(cfg.Matching.Threshold),
		matching.WithSearchLimit(cfg.Matching.SearchLimit),
		matching.WithCallTimeout(cfg.Matching.CallTimeout.Duration),
		matching.WithResolverLogger(shared.WithLogger(logger, "component", "resolver")),
	)
}

// buildRegistry registers every platform with usable credentials. Platforms
// without credentials are skipped and answer ErrInvalidPlatform.
func buildRegistry(ctx context.Context, cfg *shared.Config, logger *log.Logger) *services.Registry {
	reg := services.NewRegistry()

	spotify, err := services.NewSpotifyService(ctx, cfg.Credentials.Spotify,
		services.WithSpotifyPlaylistDefaults(cfg.Playlists.Description, cfg.Playlists.Public),
		services.WithSpotifyLogger(shared.WithLogger(logger, "platform", "spotify")),
	)
	if err != nil {
		logger.Debug("spotify disabled", "error", err)
	} else {
		reg.Register(spotify)
	}

	apple, err := services.NewAppleMusicService(ctx, cfg.Credentials.AppleMusic,
		services.WithAppleMusicDescription(cfg.Playlists.Description),
		services.WithAppleMusicLogger(shared.WithLogger(logger, "platform", "apple-music")),
	)
	if err != nil {
		logger.Debug("apple music disabled", "error", err)
	} else {
		reg.Register(apple)
	}

	if len(reg.Platforms()) == 0 {
		logger.Warn("no platform credentials configured")
	}
	return reg
}

// progress prints engine updates until the returned stop func is called.
func (r *Runner) progress() (chan<- tasks.ProgressUpdate, func()) {
	ch := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range ch {
			// per-song updates are thinned out on large batches
			if update.Phase == tasks.MatchSongs && update.Step%25 != 0 && update.Step < update.Total {
				continue
			}
			r.writePlain("%s\n", r.palette.Help(update.Message))
		}
	}()
	return ch, func() {
		close(ch)
		<-done
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// friendlyError reports whether err is an expected outcome that should exit 0.
func friendlyError(err error) (string, bool) {
	switch {
	case errors.Is(err, shared.ErrSyncInProgress):
		return "a sync for this playlist is already running; try again shortly", true
	case errors.Is(err, shared.ErrNotImplemented):
		return "not implemented", true
	default:
		return "", false
	}
}
