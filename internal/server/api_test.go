package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
	"github.com/desertthunder/roundsync/internal/tasks"
)

type fakeEngine struct {
	err         error
	matchSong   models.CanonicalSong
	matchP      models.Platform
	bulkOpts    tasks.BulkMatchOpts
	bulkSongs   int
	syncGroup   string
	syncP       models.Platform
	renamed     string
	deactivated string
	playlists   []*models.GroupPlaylist
}

func (f *fakeEngine) MatchOne(_ context.Context, song models.CanonicalSong, p models.Platform) (*models.MatchResult, error) {
	f.matchSong, f.matchP = song, p
	if f.err != nil {
		return nil, f.err
	}
	return &models.MatchResult{Song: song, Platform: p, Confidence: 0.9, BestMatch: &models.Candidate{NativeTrackID: "t1"}}, nil
}

func (f *fakeEngine) BulkMatch(_ context.Context, _ chan<- tasks.ProgressUpdate, songs []models.CanonicalSong, opts tasks.BulkMatchOpts) (*models.BulkMatchReport, error) {
	f.bulkSongs, f.bulkOpts = len(songs), opts
	if f.err != nil {
		return nil, f.err
	}
	return &models.BulkMatchReport{}, nil
}

func (f *fakeEngine) SyncPlaylist(_ context.Context, _ chan<- tasks.ProgressUpdate, groupID string, p models.Platform) (*models.SyncResult, error) {
	f.syncGroup, f.syncP = groupID, p
	if f.err != nil {
		return nil, f.err
	}
	return &models.SyncResult{
		Playlist: &models.GroupPlaylist{GroupID: groupID, Platform: p, TrackIDs: []string{"a"}},
		Added:    []string{"a"},
		Created:  true,
	}, nil
}

func (f *fakeEngine) RenamePlaylist(_ context.Context, _ chan<- tasks.ProgressUpdate, groupID string, p models.Platform, name string) (*models.GroupPlaylist, error) {
	f.renamed = name
	if f.err != nil {
		return nil, f.err
	}
	return &models.GroupPlaylist{GroupID: groupID, Platform: p, Name: name}, nil
}

func (f *fakeEngine) DeactivatePlaylist(_ context.Context, groupID string, p models.Platform) error {
	f.deactivated = groupID + "/" + string(p)
	return f.err
}

func (f *fakeEngine) Playlists(_ context.Context, groupID string) ([]*models.GroupPlaylist, error) {
	return f.playlists, f.err
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI(t *testing.T) {
	t.Run("Health", func(t *testing.T) {
		h := NewHandler(&fakeEngine{}, prometheus.NewRegistry(), nil)
		rec := doRequest(t, h, http.MethodGet, "/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"ok"`) {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		tasks.NewMetrics(reg).Searches.WithLabelValues("spotify", "ok").Inc()

		h := NewHandler(&fakeEngine{}, reg, nil)
		rec := doRequest(t, h, http.MethodGet, "/metrics", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "roundsync_") {
			t.Errorf("expected roundsync metrics, got %q", rec.Body.String())
		}
	})

	t.Run("Match", func(t *testing.T) {
		eng := &fakeEngine{}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)
		body := `{"song":{"id":"s1","title":"Yesterday","artist":"The Beatles"},"platform":"Spotify"}`

		rec := doRequest(t, h, http.MethodPost, "/api/match", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if eng.matchP != models.Spotify || eng.matchSong.Title != "Yesterday" {
			t.Errorf("engine got %q on %q", eng.matchSong.Title, eng.matchP)
		}

		var res models.MatchResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if res.BestMatch == nil || res.BestMatch.NativeTrackID != "t1" {
			t.Errorf("unexpected best match %+v", res.BestMatch)
		}
	})

	t.Run("MatchBadPlatform", func(t *testing.T) {
		h := NewHandler(&fakeEngine{}, prometheus.NewRegistry(), nil)
		rec := doRequest(t, h, http.MethodPost, "/api/match", `{"song":{"title":"a","artist":"b"},"platform":"tidal"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("MatchMalformedBody", func(t *testing.T) {
		h := NewHandler(&fakeEngine{}, prometheus.NewRegistry(), nil)
		rec := doRequest(t, h, http.MethodPost, "/api/match", `{"song":`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}

		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !strings.HasPrefix(body.Error, "invalid input") {
			t.Errorf("unexpected error body %q", body.Error)
		}
	})

	t.Run("BulkMatch", func(t *testing.T) {
		eng := &fakeEngine{}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)
		body := `{"songs":[{"id":"1","title":"a","artist":"b"},{"id":"2","title":"c","artist":"d"}],
			"targetPlatforms":["apple_music"],"limit":3,"respectDurationHint":false}`

		rec := doRequest(t, h, http.MethodPost, "/api/match/bulk", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if eng.bulkSongs != 2 {
			t.Errorf("expected 2 songs, got %d", eng.bulkSongs)
		}
		if len(eng.bulkOpts.TargetPlatforms) != 1 || eng.bulkOpts.TargetPlatforms[0] != models.AppleMusic {
			t.Errorf("unexpected target platforms %v", eng.bulkOpts.TargetPlatforms)
		}
		if eng.bulkOpts.Limit != 3 {
			t.Errorf("expected limit 3, got %d", eng.bulkOpts.Limit)
		}
		if eng.bulkOpts.RespectDurationHint == nil || *eng.bulkOpts.RespectDurationHint {
			t.Errorf("expected duration hint override false")
		}
	})

	t.Run("Sync", func(t *testing.T) {
		eng := &fakeEngine{}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)

		rec := doRequest(t, h, http.MethodPost, "/api/groups/g1/playlists/spotify/sync", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if eng.syncGroup != "g1" || eng.syncP != models.Spotify {
			t.Errorf("engine got %s/%s", eng.syncGroup, eng.syncP)
		}

		var res models.SyncResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !res.Created || len(res.Added) != 1 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("SyncInProgress", func(t *testing.T) {
		eng := &fakeEngine{err: fmt.Errorf("%w: g1/spotify", shared.ErrSyncInProgress)}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)

		rec := doRequest(t, h, http.MethodPost, "/api/groups/g1/playlists/spotify/sync", "")
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("Rename", func(t *testing.T) {
		eng := &fakeEngine{}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)

		rec := doRequest(t, h, http.MethodPatch, "/api/groups/g1/playlists/apple-music", `{"name":"Round 3"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if eng.renamed != "Round 3" {
			t.Errorf("expected rename to Round 3, got %q", eng.renamed)
		}
	})

	t.Run("RenameNotImplemented", func(t *testing.T) {
		eng := &fakeEngine{err: shared.ErrNotImplemented}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)

		rec := doRequest(t, h, http.MethodPatch, "/api/groups/g1/playlists/apple-music", `{"name":"x"}`)
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("expected 501, got %d", rec.Code)
		}
	})

	t.Run("Playlists", func(t *testing.T) {
		eng := &fakeEngine{}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)

		rec := doRequest(t, h, http.MethodGet, "/api/groups/g1/playlists", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("expected empty list, got %q", rec.Body.String())
		}
	})

	t.Run("Deactivate", func(t *testing.T) {
		eng := &fakeEngine{}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)

		rec := doRequest(t, h, http.MethodDelete, "/api/groups/g1/playlists/spotify", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if eng.deactivated != "g1/spotify" {
			t.Errorf("unexpected deactivation %q", eng.deactivated)
		}
	})

	t.Run("DeactivateMissing", func(t *testing.T) {
		eng := &fakeEngine{err: shared.ErrPlaylistNotFound}
		h := NewHandler(eng, prometheus.NewRegistry(), nil)

		rec := doRequest(t, h, http.MethodDelete, "/api/groups/g1/playlists/spotify", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		h := NewHandler(&fakeEngine{}, prometheus.NewRegistry(), nil)
		rec := doRequest(t, h, http.MethodGet, "/api/match", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"sync in progress", fmt.Errorf("wrap: %w", shared.ErrSyncInProgress), http.StatusConflict},
		{"playlist not found", shared.ErrPlaylistNotFound, http.StatusNotFound},
		{"invalid input", shared.ErrInvalidInput, http.StatusBadRequest},
		{"invalid platform", shared.ErrInvalidPlatform, http.StatusBadRequest},
		{"auth expired", shared.ErrAuthExpired, http.StatusUnauthorized},
		{"platform unavailable", shared.ErrPlatformUnavailable, http.StatusBadGateway},
		{"rate limited", &shared.RateLimitedError{Platform: "spotify"}, http.StatusTooManyRequests},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
