package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/services"
	"github.com/desertthunder/roundsync/internal/shared"
	tu "github.com/desertthunder/roundsync/internal/testing"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRunner(t *testing.T, svcs ...*tu.MockService) (*Runner, *bytes.Buffer) {
	t.Helper()

	config := shared.DefaultConfig()
	config.Leases.Backend = "memory"
	config.Bulk.BackoffBase = shared.Duration{Duration: time.Millisecond}
	config.Bulk.BackoffCap = shared.Duration{Duration: time.Millisecond}

	reg := services.NewRegistry()
	for _, s := range svcs {
		reg.Register(s)
	}

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:   config,
		Registry: reg,
		DB:       setupTestDB(t),
		Logger:   shared.NopLogger(),
		Output:   output,
	})
	t.Cleanup(runner.Close)
	return runner, output
}

func run(r *Runner, args ...string) error {
	return r.app().Run(context.Background(), append([]string{"roundsync"}, args...))
}

func spotifyCatalog() *tu.MockService {
	svc := tu.NewMockService(models.Spotify)
	svc.Catalog = []models.Candidate{{
		NativeTrackID: "sp-yesterday",
		Title:         "Yesterday - Remastered 2009",
		Artist:        "The Beatles",
		DurationMs:    125000,
		Platform:      models.Spotify,
	}}
	return svc
}

func TestMatchCommands(t *testing.T) {
	t.Run("one", func(t *testing.T) {
		r, out := newTestRunner(t, spotifyCatalog())

		err := run(r, "match", "one", "--title", "Yesterday", "--artist", "The Beatles", "--duration", "2:05", "--platform", "spotify")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "sp-yesterday") {
			t.Errorf("expected best match in output, got %q", out.String())
		}
	})

	t.Run("one as JSON", func(t *testing.T) {
		r, out := newTestRunner(t, spotifyCatalog())

		if err := run(r, "match", "one", "-t", "Yesterday", "-a", "The Beatles", "-p", "spotify", "--json"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var res models.MatchResult
		if err := json.Unmarshal(out.Bytes(), &res); err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		if res.BestMatch == nil || res.BestMatch.NativeTrackID != "sp-yesterday" {
			t.Errorf("unexpected best match %+v", res.BestMatch)
		}
		if res.Confidence < 0.75 {
			t.Errorf("expected confidence >= 0.75, got %v", res.Confidence)
		}
	})

	t.Run("one on unconfigured platform", func(t *testing.T) {
		r, _ := newTestRunner(t, spotifyCatalog())

		err := run(r, "match", "one", "-t", "Yesterday", "-a", "The Beatles", "-p", "apple-music")
		if !errors.Is(err, shared.ErrInvalidPlatform) {
			t.Errorf("expected ErrInvalidPlatform, got %v", err)
		}
	})

	t.Run("one with bad duration", func(t *testing.T) {
		r, _ := newTestRunner(t, spotifyCatalog())

		err := run(r, "match", "one", "-t", "Yesterday", "-a", "The Beatles", "-p", "spotify", "--duration", "two minutes")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("bulk to CSV file", func(t *testing.T) {
		r, _ := newTestRunner(t, spotifyCatalog())
		dir := t.TempDir()

		songsPath := filepath.Join(dir, "songs.json")
		songs := `[{"id":"s1","title":"Yesterday","artist":"The Beatles"},{"id":"s2","title":"Obscure","artist":"Nobody"}]`
		if err := os.WriteFile(songsPath, []byte(songs), 0644); err != nil {
			t.Fatal(err)
		}
		reportPath := filepath.Join(dir, "report.csv")

		if err := run(r, "match", "bulk", "-f", songsPath, "--format", "csv", "-o", reportPath); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		tu.AssertFileExists(t, reportPath)
		content := tu.MustReadFile(t, reportPath)
		if !strings.Contains(content, "sp-yesterday") {
			t.Errorf("expected matched track in report, got %q", content)
		}
		if !strings.Contains(content, "Obscure") {
			t.Errorf("expected unmatched song in report, got %q", content)
		}
	})

	t.Run("bulk as JSON", func(t *testing.T) {
		r, out := newTestRunner(t, spotifyCatalog())
		songsPath := filepath.Join(t.TempDir(), "songs.json")
		if err := os.WriteFile(songsPath, []byte(`[{"id":"s1","title":"Yesterday","artist":"The Beatles"}]`), 0644); err != nil {
			t.Fatal(err)
		}

		if err := run(r, "match", "bulk", "-f", songsPath, "--format", "json", "-p", "spotify"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var report models.BulkMatchReport
		if err := json.Unmarshal(out.Bytes(), &report); err != nil {
			t.Fatalf("failed to decode report: %v", err)
		}
		if report.Overall.TotalSongs != 1 || len(report.Overall.SuccessfulMatches) != 1 {
			t.Errorf("unexpected overall stats %+v", report.Overall)
		}
	})

	t.Run("bulk with invalid format", func(t *testing.T) {
		r, _ := newTestRunner(t, spotifyCatalog())

		err := run(r, "match", "bulk", "-f", "songs.json", "--format", "xml")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPlaylistCommands(t *testing.T) {
	t.Run("sync creates then stays idempotent", func(t *testing.T) {
		svc := spotifyCatalog()
		r, out := newTestRunner(t, svc)

		if err := run(r, "submissions", "add", "-g", "g1", "-t", "Yesterday", "-a", "The Beatles"); err != nil {
			t.Fatalf("add failed: %v", err)
		}

		out.Reset()
		if err := run(r, "playlist", "sync", "-g", "g1", "-p", "spotify", "--json"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}

		var res models.SyncResult
		if err := json.Unmarshal(out.Bytes(), &res); err != nil {
			t.Fatalf("failed to decode sync result: %v", err)
		}
		if !res.Created || len(res.Added) != 1 || res.Added[0] != "sp-yesterday" {
			t.Fatalf("unexpected first sync %+v", res)
		}
		if got := svc.Tracks(res.Playlist.NativePlaylistID); len(got) != 1 {
			t.Errorf("expected 1 track on the platform, got %v", got)
		}
		if res.Playlist.Name != "g1 Daily Songs" {
			t.Errorf("unexpected playlist name %q", res.Playlist.Name)
		}

		out.Reset()
		if err := run(r, "playlist", "sync", "-g", "g1", "-p", "spotify"); err != nil {
			t.Fatalf("second sync failed: %v", err)
		}
		if !strings.Contains(out.String(), "Added 0 tracks, 1 total") {
			t.Errorf("expected no-op summary, got %q", out.String())
		}
		if creates, _ := svc.Calls(); creates != 1 {
			t.Errorf("expected 1 playlist creation, got %d", creates)
		}
	})

	t.Run("sync resolves ids into the catalog", func(t *testing.T) {
		r, out := newTestRunner(t, spotifyCatalog())

		if err := run(r, "submissions", "add", "-g", "g1", "-t", "Yesterday", "-a", "The Beatles"); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if err := run(r, "playlist", "sync", "-g", "g1", "-p", "spotify"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}

		out.Reset()
		if err := run(r, "submissions", "list", "-g", "g1", "--json"); err != nil {
			t.Fatalf("list failed: %v", err)
		}

		var subs []models.Submission
		if err := json.Unmarshal(out.Bytes(), &subs); err != nil {
			t.Fatalf("failed to decode submissions: %v", err)
		}
		if len(subs) != 1 || subs[0].PlatformIDs[models.Spotify] != "sp-yesterday" {
			t.Errorf("expected resolved spotify id, got %+v", subs)
		}
	})

	t.Run("rename show and deactivate", func(t *testing.T) {
		svc := spotifyCatalog()
		r, out := newTestRunner(t, svc)

		if err := run(r, "submissions", "add", "-g", "g1", "-t", "Yesterday", "-a", "The Beatles"); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if err := run(r, "playlist", "sync", "-g", "g1", "-p", "spotify"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if err := run(r, "playlist", "rename", "-g", "g1", "-p", "spotify", "-n", "Round Two"); err != nil {
			t.Fatalf("rename failed: %v", err)
		}
		if err := run(r, "playlist", "deactivate", "-g", "g1", "-p", "spotify"); err != nil {
			t.Fatalf("deactivate failed: %v", err)
		}

		out.Reset()
		if err := run(r, "playlist", "show", "-g", "g1", "--json"); err != nil {
			t.Fatalf("show failed: %v", err)
		}

		var pls []models.GroupPlaylist
		if err := json.Unmarshal(out.Bytes(), &pls); err != nil {
			t.Fatalf("failed to decode playlists: %v", err)
		}
		if len(pls) != 1 {
			t.Fatalf("expected 1 playlist, got %d", len(pls))
		}
		if pls[0].Name != "Round Two" || pls[0].IsActive {
			t.Errorf("unexpected playlist %+v", pls[0])
		}
		if svc.PlaylistName(pls[0].NativePlaylistID) != "Round Two" {
			t.Errorf("expected platform playlist renamed")
		}
	})

	t.Run("rename missing playlist", func(t *testing.T) {
		r, _ := newTestRunner(t, spotifyCatalog())

		err := run(r, "playlist", "rename", "-g", "nope", "-p", "spotify", "-n", "x")
		if !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("show empty group", func(t *testing.T) {
		r, out := newTestRunner(t, spotifyCatalog())

		if err := run(r, "playlist", "show", "-g", "empty", "--json"); err != nil {
			t.Fatalf("show failed: %v", err)
		}
		if strings.TrimSpace(out.String()) != "[]" {
			t.Errorf("expected empty JSON list, got %q", out.String())
		}
	})

	t.Run("missing required flag", func(t *testing.T) {
		r, _ := newTestRunner(t, spotifyCatalog())

		if err := run(r, "playlist", "sync", "-p", "spotify"); err == nil {
			t.Error("expected error without --group")
		}
	})
}

func TestSubmissionCommands(t *testing.T) {
	t.Run("pending submissions are not synced until accepted", func(t *testing.T) {
		svc := spotifyCatalog()
		r, out := newTestRunner(t, svc)

		if err := run(r, "submissions", "add", "-g", "g1", "-t", "Yesterday", "-a", "The Beatles", "--status", "pending", "--json"); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		var sub models.Submission
		if err := json.Unmarshal(out.Bytes(), &sub); err != nil {
			t.Fatalf("failed to decode submission: %v", err)
		}
		if sub.ID == "" || sub.Status != models.Pending {
			t.Fatalf("unexpected submission %+v", sub)
		}

		out.Reset()
		if err := run(r, "playlist", "sync", "-g", "g1", "-p", "spotify", "--json"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		var res models.SyncResult
		if err := json.Unmarshal(out.Bytes(), &res); err != nil {
			t.Fatalf("failed to decode sync result: %v", err)
		}
		if len(res.Added) != 0 {
			t.Errorf("expected nothing added, got %v", res.Added)
		}

		if err := run(r, "submissions", "accept", sub.ID); err != nil {
			t.Fatalf("accept failed: %v", err)
		}

		out.Reset()
		if err := run(r, "playlist", "sync", "-g", "g1", "-p", "spotify", "--json"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		res = models.SyncResult{}
		if err := json.Unmarshal(out.Bytes(), &res); err != nil {
			t.Fatalf("failed to decode sync result: %v", err)
		}
		if len(res.Added) != 1 {
			t.Errorf("expected accepted song added, got %v", res.Added)
		}
	})

	t.Run("list filters by status", func(t *testing.T) {
		r, out := newTestRunner(t)

		for _, status := range []string{"accepted", "rejected"} {
			if err := run(r, "submissions", "add", "-g", "g1", "-t", "Song "+status, "-a", "Artist", "--status", status); err != nil {
				t.Fatalf("add failed: %v", err)
			}
		}

		out.Reset()
		if err := run(r, "submissions", "list", "-g", "g1", "--status", "rejected"); err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if !strings.Contains(out.String(), "Song rejected") || strings.Contains(out.String(), "Song accepted") {
			t.Errorf("unexpected listing %q", out.String())
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		r, _ := newTestRunner(t)

		err := run(r, "submissions", "add", "-g", "g1", "-t", "x", "-a", "y", "--status", "maybe")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("reject unknown id", func(t *testing.T) {
		r, _ := newTestRunner(t)

		if err := run(r, "submissions", "reject", "missing"); !errors.Is(err, shared.ErrSongNotFound) {
			t.Errorf("expected ErrSongNotFound, got %v", err)
		}
	})

	t.Run("accept without id", func(t *testing.T) {
		r, _ := newTestRunner(t)

		if err := run(r, "submissions", "accept"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestSetupDatabase(t *testing.T) {
	dir := t.TempDir()
	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(dir, "roundsync.db")
	configPath := filepath.Join(dir, "config.toml")

	output := &bytes.Buffer{}
	r := NewRunner(RunnerOpts{Config: config, ConfigPath: configPath, Logger: shared.NopLogger(), Output: output})

	if err := run(r, "setup", "database"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	tu.AssertFileExists(t, configPath)
	tu.AssertFileExists(t, config.Database.Path)
	if !strings.Contains(output.String(), "Database ready") {
		t.Errorf("unexpected output %q", output.String())
	}

	// a second run is a no-op
	if err := run(r, "setup", "database"); err != nil {
		t.Fatalf("second setup failed: %v", err)
	}
}

func TestParseDurationMs(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"3:05", 185000, false},
		{"0:59", 59000, false},
		{"185s", 185000, false},
		{"2m30s", 150000, false},
		{"3:75", 0, true},
		{"-1s", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDurationMs(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseDurationMs(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadSongs(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		songs, err := readSongs("-", strings.NewReader(`[{"title":"a","artist":"b"}]`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(songs) != 1 || songs[0].Title != "a" {
			t.Errorf("unexpected songs %+v", songs)
		}
	})

	t.Run("not an array", func(t *testing.T) {
		_, err := readSongs("-", strings.NewReader(`{"title":"a"}`))
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := readSongs(filepath.Join(t.TempDir(), "none.json"), nil); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
