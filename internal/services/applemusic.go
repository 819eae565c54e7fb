// Apple Music implementation of [Service] over the Apple Music REST API
//
// https://developer.apple.com/documentation/applemusicapi
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
	"golang.org/x/oauth2"
)

const (
	appleMusicBaseURL        = "https://api.music.apple.com"
	appleMusicMaxSearchLimit = 25
)

// AppleMusicService implements [Service] for Apple Music.
type AppleMusicService struct {
	baseURL     string
	storefront  string
	description string
	httpClient  *http.Client
	logger      *log.Logger
}

// AppleMusicOption configures an [AppleMusicService].
type AppleMusicOption func(*AppleMusicService)

// WithAppleMusicHTTPClient replaces the authenticated client, mainly for tests.
func WithAppleMusicHTTPClient(c *http.Client) AppleMusicOption {
	return func(s *AppleMusicService) { s.httpClient = c }
}

// WithAppleMusicDescription sets the description used for created playlists.
func WithAppleMusicDescription(description string) AppleMusicOption {
	return func(s *AppleMusicService) { s.description = description }
}

// WithAppleMusicLogger sets the logger.
func WithAppleMusicLogger(l *log.Logger) AppleMusicOption {
	return func(s *AppleMusicService) { s.logger = l }
}

// NewAppleMusicService builds a client that sends the developer token as a bearer
// token and the Music-User-Token header on every request.
func NewAppleMusicService(ctx context.Context, creds shared.AppleMusicConfig, opts ...AppleMusicOption) (*AppleMusicService, error) {
	if creds.DeveloperToken == "" {
		return nil, fmt.Errorf("%w: apple music developer_token is required", shared.ErrMissingCredentials)
	}

	base := creds.BaseURL
	if base == "" {
		base = appleMusicBaseURL
	}
	storefront := creds.Storefront
	if storefront == "" {
		storefront = "us"
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.DeveloperToken, TokenType: "Bearer"})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: src,
			Base: &headerTransport{
				headers: map[string]string{"Music-User-Token": creds.MusicUserToken},
				base:    http.DefaultTransport,
			},
		},
	}

	s := &AppleMusicService{
		baseURL:    strings.TrimSuffix(base, "/"),
		storefront: storefront,
		httpClient: httpClient,
		logger:     shared.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *AppleMusicService) Platform() models.Platform { return models.AppleMusic }

type appleSong struct {
	ID         string `json:"id"`
	Attributes struct {
		Name             string `json:"name"`
		ArtistName       string `json:"artistName"`
		AlbumName        string `json:"albumName"`
		DurationInMillis int    `json:"durationInMillis"`
	} `json:"attributes"`
}

type appleSearchResponse struct {
	Results struct {
		Songs struct {
			Data []appleSong `json:"data"`
		} `json:"songs"`
	} `json:"results"`
}

type appleResource struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

type applePlaylistAttributes struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Search queries the storefront catalog for songs.
func (s *AppleMusicService) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	if limit <= 0 {
		limit = 10
	}
	limit = min(limit, appleMusicMaxSearchLimit)

	params := url.Values{
		"term":  {query},
		"types": {"songs"},
		"limit": {strconv.Itoa(limit)},
	}
	endpoint := fmt.Sprintf("/v1/catalog/%s/search?%s", url.PathEscape(s.storefront), params.Encode())

	var response appleSearchResponse
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response, false); err != nil {
		return nil, err
	}

	songs := response.Results.Songs.Data
	candidates := make([]models.Candidate, 0, len(songs))
	for _, song := range songs {
		candidates = append(candidates, models.Candidate{
			NativeTrackID: song.ID,
			Title:         song.Attributes.Name,
			Artist:        song.Attributes.ArtistName,
			Album:         song.Attributes.AlbumName,
			DurationMs:    song.Attributes.DurationInMillis,
			Platform:      models.AppleMusic,
		})
	}
	s.logger.Debug("search", "query", query, "results", len(candidates))
	return candidates, nil
}

// CreatePlaylist creates a library playlist.
func (s *AppleMusicService) CreatePlaylist(ctx context.Context, name string) (string, error) {
	body := map[string]any{
		"attributes": applePlaylistAttributes{Name: name, Description: s.description},
	}

	var response struct {
		Data []appleResource `json:"data"`
	}
	if err := s.doRequest(ctx, http.MethodPost, "/v1/me/library/playlists", body, &response, true); err != nil {
		return "", fmt.Errorf("creating playlist: %w", err)
	}
	if len(response.Data) == 0 || response.Data[0].ID == "" {
		return "", fmt.Errorf("%w: apple-music returned no playlist id", shared.ErrPlatformUnavailable)
	}
	return response.Data[0].ID, nil
}

// AddTracks appends catalog songs to a library playlist in batches of 100.
func (s *AppleMusicService) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	endpoint := fmt.Sprintf("/v1/me/library/playlists/%s/tracks", url.PathEscape(playlistID))

	for i := 0; i < len(trackIDs); i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, len(trackIDs))

		data := make([]appleResource, 0, end-i)
		for _, id := range trackIDs[i:end] {
			data = append(data, appleResource{ID: id, Type: "songs"})
		}

		if err := s.doRequest(ctx, http.MethodPost, endpoint, map[string]any{"data": data}, nil, true); err != nil {
			return fmt.Errorf("adding tracks (batch %d-%d): %w", i+1, end, err)
		}
	}
	return nil
}

// RenamePlaylist updates the library playlist's name. Storefronts that reject the
// request surface [shared.ErrNotImplemented].
func (s *AppleMusicService) RenamePlaylist(ctx context.Context, playlistID, name string) error {
	endpoint := fmt.Sprintf("/v1/me/library/playlists/%s", url.PathEscape(playlistID))
	body := map[string]any{"attributes": applePlaylistAttributes{Name: name}}

	if err := s.doRequest(ctx, http.MethodPatch, endpoint, body, nil, true); err != nil {
		return fmt.Errorf("renaming playlist: %w", err)
	}
	return nil
}

// doRequest performs an authenticated request and decodes a JSON response into result.
func (s *AppleMusicService) doRequest(ctx context.Context, method, endpoint string, body, result any, playlistCall bool) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return transportError(string(models.AppleMusic), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(string(models.AppleMusic), resp, playlistCall)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode apple-music response: %v", shared.ErrPlatformUnavailable, err)
		}
	}
	return nil
}
