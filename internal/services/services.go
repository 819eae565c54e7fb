// package services defines the platform capabilities the matcher and
// synchronizer consume, with adapters for Spotify and Apple Music
package services

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
)

// Searcher runs track searches against one platform.
//
// Implementations fail with [shared.RateLimitedError], [shared.ErrPlatformUnavailable]
// or [shared.ErrAuthExpired] so callers can decide whether to retry.
type Searcher interface {
	// Platform identifies the platform the searcher talks to.
	Platform() models.Platform

	// Search returns up to limit candidates in the platform's relevance order.
	Search(ctx context.Context, query string, limit int) ([]models.Candidate, error)
}

// PlaylistManager mutates native playlists on one platform.
type PlaylistManager interface {
	// CreatePlaylist creates an empty playlist and returns its native ID.
	CreatePlaylist(ctx context.Context, name string) (string, error)

	// AddTracks appends trackIDs to the playlist in order.
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error

	// RenamePlaylist changes the playlist's display name.
	RenamePlaylist(ctx context.Context, playlistID, name string) error
}

// Service is a platform that can both search and manage playlists.
type Service interface {
	Searcher
	PlaylistManager
}

// Registry holds one [Service] per platform. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[models.Platform]Service
}

// NewRegistry registers each service under its own platform.
func NewRegistry(services ...Service) *Registry {
	r := &Registry{services: make(map[models.Platform]Service, len(services))}
	for _, s := range services {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the service for s.Platform().
func (r *Registry) Register(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.Platform()] = s
}

// Get returns the service for p, failing with [shared.ErrInvalidPlatform] when none is configured.
func (r *Registry) Get(p models.Platform) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", shared.ErrInvalidPlatform, p)
	}
	return s, nil
}

// Platforms lists the configured platforms in a stable order.
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	platforms := make([]models.Platform, 0, len(r.services))
	for p := range r.services {
		platforms = append(platforms, p)
	}
	slices.Sort(platforms)
	return platforms
}
