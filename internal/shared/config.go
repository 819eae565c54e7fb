package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
	Matching    MatchingConfig    `toml:"matching"`
	Bulk        BulkConfig        `toml:"bulk"`
	Leases      LeaseConfig       `toml:"leases"`
	Playlists   PlaylistConfig    `toml:"playlists"`
	Credentials CredentialsConfig `toml:"credentials"`
}

// Duration is a [time.Duration] that decodes from TOML strings such as "500ms" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LockFile string `toml:"lock_file"`
}

// Addr joins host and port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level string `toml:"level"`
}

// MatchingConfig tunes the resolver and scorer.
type MatchingConfig struct {
	Threshold           float64  `toml:"threshold"`
	SearchLimit         int      `toml:"search_limit"`
	CallTimeout         Duration `toml:"call_timeout"`
	RespectDurationHint bool     `toml:"respect_duration_hint"`
	QualifierPenalty    float64  `toml:"qualifier_penalty"`
}

// BulkConfig tunes the per-platform worker pools used by bulk matching.
type BulkConfig struct {
	WorkersPerPlatform    int      `toml:"workers_per_platform"`
	RequestsPerSecond     float64  `toml:"requests_per_second"`
	BackoffBase           Duration `toml:"backoff_base"`
	BackoffCap            Duration `toml:"backoff_cap"`
	MaxRateLimitRetries   int      `toml:"max_rate_limit_retries"`
	MaxUnavailableRetries int      `toml:"max_unavailable_retries"`
}

// LeaseConfig selects the lease backend and its timings.
type LeaseConfig struct {
	Backend       string   `toml:"backend"`
	TTL           Duration `toml:"ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
	SafetyMargin  Duration `toml:"safety_margin"`
	PostgresURL   string   `toml:"postgres_url"`
}

// PlaylistConfig controls how new group playlists are named.
//
// NameTemplate is a fmt verb string receiving the group name.
type PlaylistConfig struct {
	NameTemplate string `toml:"name_template"`
	Description  string `toml:"description"`
	Public       bool   `toml:"public"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify    SpotifyConfig    `toml:"spotify"`
	AppleMusic AppleMusicConfig `toml:"apple_music"`
}

// SpotifyConfig contains Spotify API credentials. Tokens are issued by the
// auth collaborator and refreshed through the oauth2 config when they expire.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	UserID       string `toml:"user_id"`
	BaseURL      string `toml:"base_url"`
}

// AppleMusicConfig contains Apple Music API credentials.
type AppleMusicConfig struct {
	DeveloperToken string `toml:"developer_token"`
	MusicUserToken string `toml:"music_user_token"`
	Storefront     string `toml:"storefront"`
	BaseURL        string `toml:"base_url"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values absent from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that tunables are within usable ranges.
func (c *Config) Validate() error {
	switch {
	case c.Matching.Threshold <= 0 || c.Matching.Threshold > 1:
		return fmt.Errorf("%w: matching.threshold must be in (0, 1], got %v", ErrInvalidConfig, c.Matching.Threshold)
	case c.Matching.SearchLimit <= 0:
		return fmt.Errorf("%w: matching.search_limit must be positive", ErrInvalidConfig)
	case c.Matching.QualifierPenalty < 0 || c.Matching.QualifierPenalty >= 1:
		return fmt.Errorf("%w: matching.qualifier_penalty must be in [0, 1)", ErrInvalidConfig)
	case c.Bulk.WorkersPerPlatform <= 0:
		return fmt.Errorf("%w: bulk.workers_per_platform must be positive", ErrInvalidConfig)
	case c.Bulk.RequestsPerSecond <= 0:
		return fmt.Errorf("%w: bulk.requests_per_second must be positive", ErrInvalidConfig)
	case c.Bulk.MaxRateLimitRetries < 0 || c.Bulk.MaxUnavailableRetries < 0:
		return fmt.Errorf("%w: bulk retry counts must not be negative", ErrInvalidConfig)
	case c.Leases.TTL.Duration <= c.Leases.SafetyMargin.Duration:
		return fmt.Errorf("%w: leases.ttl must exceed leases.safety_margin", ErrInvalidConfig)
	}

	switch c.Leases.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Leases.PostgresURL == "" {
			return fmt.Errorf("%w: leases.postgres_url is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown lease backend %q", ErrInvalidConfig, c.Leases.Backend)
	}
	return nil
}
