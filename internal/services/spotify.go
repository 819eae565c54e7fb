// Spotify implementation of [Service] backed by github.com/zmb3/spotify/v2
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"

	spotifyMaxSearchLimit = 50
	maxTracksPerRequest   = 100
)

// spotifyScopes are the scopes the auth collaborator must request for roundsync.
var spotifyScopes = []string{
	"playlist-modify-public",
	"playlist-modify-private",
	"playlist-read-private",
}

// SpotifyService implements [Service] for Spotify.
type SpotifyService struct {
	api         *spotify.Client
	description string
	public      bool
	logger      *log.Logger

	mu     sync.Mutex
	userID string
}

// SpotifyOption configures a [SpotifyService].
type SpotifyOption func(*SpotifyService)

// WithSpotifyPlaylistDefaults sets the description and visibility used for created playlists.
func WithSpotifyPlaylistDefaults(description string, public bool) SpotifyOption {
	return func(s *SpotifyService) {
		s.description = description
		s.public = public
	}
}

// WithSpotifyLogger sets the logger.
func WithSpotifyLogger(l *log.Logger) SpotifyOption {
	return func(s *SpotifyService) { s.logger = l }
}

// NewSpotifyService builds an authenticated client from stored tokens. An expired
// access token is refreshed with the refresh token through [oauth2].
func NewSpotifyService(ctx context.Context, creds shared.SpotifyConfig, opts ...SpotifyOption) (*SpotifyService, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret are required", shared.ErrMissingCredentials)
	}
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: spotify access_token or refresh_token is required", shared.ErrMissingCredentials)
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Scopes:       spotifyScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}

	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: config.TokenSource(ctx, token),
			Base:   &rateLimitTransport{platform: string(models.Spotify), base: http.DefaultTransport},
		},
	}

	var clientOpts []spotify.ClientOption
	if creds.BaseURL != "" {
		clientOpts = append(clientOpts, spotify.WithBaseURL(strings.TrimSuffix(creds.BaseURL, "/")+"/"))
	}

	s := NewSpotifyServiceWithClient(spotify.New(httpClient, clientOpts...), creds.UserID, opts...)
	return s, nil
}

// NewSpotifyServiceWithClient wraps an already authenticated client. userID may be
// empty, in which case it is looked up on first playlist creation.
func NewSpotifyServiceWithClient(api *spotify.Client, userID string, opts ...SpotifyOption) *SpotifyService {
	s := &SpotifyService{api: api, userID: userID, logger: shared.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SpotifyService) Platform() models.Platform { return models.Spotify }

// Search queries the track catalog.
func (s *SpotifyService) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	if limit <= 0 {
		limit = 10
	}
	limit = min(limit, spotifyMaxSearchLimit)

	res, err := s.api.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, s.classify(err, false)
	}
	if res == nil || res.Tracks == nil {
		return nil, nil
	}

	candidates := make([]models.Candidate, 0, len(res.Tracks.Tracks))
	for _, t := range res.Tracks.Tracks {
		candidates = append(candidates, convertSpotifyTrack(t))
	}
	s.logger.Debug("search", "query", query, "results", len(candidates))
	return candidates, nil
}

// convertSpotifyTrack flattens a track, joining artist names with ", ".
func convertSpotifyTrack(t spotify.FullTrack) models.Candidate {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}
	return models.Candidate{
		NativeTrackID: t.ID.String(),
		Title:         t.Name,
		Artist:        strings.Join(artists, ", "),
		Album:         t.Album.Name,
		DurationMs:    int(t.Duration),
		Platform:      models.Spotify,
	}
}

// CreatePlaylist creates a playlist owned by the authenticated user.
func (s *SpotifyService) CreatePlaylist(ctx context.Context, name string) (string, error) {
	userID, err := s.UserID(ctx)
	if err != nil {
		return "", err
	}

	playlist, err := s.api.CreatePlaylistForUser(ctx, userID, name, s.description, s.public, false)
	if err != nil {
		return "", fmt.Errorf("creating playlist: %w", s.classify(err, true))
	}
	return playlist.ID.String(), nil
}

// AddTracks appends tracks in batches of 100, the most Spotify accepts per request.
func (s *SpotifyService) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}

	ids := make([]spotify.ID, len(trackIDs))
	for i, id := range trackIDs {
		ids[i] = spotify.ID(id)
	}

	for i := 0; i < len(ids); i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, len(ids))
		if _, err := s.api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), ids[i:end]...); err != nil {
			return fmt.Errorf("adding tracks (batch %d-%d): %w", i+1, end, s.classify(err, true))
		}
	}
	return nil
}

// RenamePlaylist changes the playlist name.
func (s *SpotifyService) RenamePlaylist(ctx context.Context, playlistID, name string) error {
	if err := s.api.ChangePlaylistName(ctx, spotify.ID(playlistID), name); err != nil {
		return fmt.Errorf("renaming playlist: %w", s.classify(err, true))
	}
	return nil
}

// UserID returns the current user's Spotify ID, looking it up once.
func (s *SpotifyService) UserID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != "" {
		return s.userID, nil
	}

	user, err := s.api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", s.classify(err, false))
	}
	s.userID = user.ID
	return s.userID, nil
}

// classify maps client errors to the shared taxonomy.
func (s *SpotifyService) classify(err error, playlistCall bool) error {
	status := 0
	var se spotify.Error
	var sep *spotify.Error
	switch {
	case errors.As(err, &se):
		status = se.Status
	case errors.As(err, &sep):
		status = sep.Status
	default:
		return transportError(string(models.Spotify), err)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &shared.RateLimitedError{Platform: string(models.Spotify)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", shared.ErrAuthExpired, err)
	case status == http.StatusNotFound && playlistCall:
		return fmt.Errorf("%w: %v", shared.ErrPlaylistNotFound, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", shared.ErrPlatformUnavailable, err)
	default:
		return err
	}
}
