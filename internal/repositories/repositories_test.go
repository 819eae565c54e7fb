package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func newSubmission(groupID, title, artist string) *models.Submission {
	return &models.Submission{
		CanonicalSong: models.CanonicalSong{Title: title, Artist: artist, Album: "Help!", DurationMs: 125000},
		GroupID:       groupID,
	}
}

func TestSubmissionRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		repo := NewSubmissionRepository(setupTestDB(t))
		s := newSubmission("g1", "Yesterday", "The Beatles")
		s.PlatformIDs = map[models.Platform]string{models.Spotify: "sp-1"}

		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("failed to create submission: %v", err)
		}
		if s.ID == "" {
			t.Error("submission ID should be set after creation")
		}
		if s.Status != models.Pending {
			t.Errorf("expected status %q, got %q", models.Pending, s.Status)
		}

		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to get submission: %v", err)
		}
		if got.Title != "Yesterday" || got.DurationMs != 125000 || got.Album != "Help!" {
			t.Errorf("unexpected submission: %+v", got)
		}
		if id, ok := got.PlatformID(models.Spotify); !ok || id != "sp-1" {
			t.Errorf("expected spotify id sp-1, got %q", id)
		}
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		repo := NewSubmissionRepository(setupTestDB(t))

		if err := repo.Create(ctx, newSubmission("g1", "", "Artist")); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for missing title, got %v", err)
		}
		if err := repo.Create(ctx, newSubmission("", "Title", "Artist")); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for missing group, got %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := NewSubmissionRepository(setupTestDB(t))
		if _, err := repo.Get(ctx, "nope"); !errors.Is(err, shared.ErrSongNotFound) {
			t.Errorf("expected ErrSongNotFound, got %v", err)
		}
	})

	t.Run("UnknownDuration", func(t *testing.T) {
		repo := NewSubmissionRepository(setupTestDB(t))
		s := newSubmission("g1", "Song", "Artist")
		s.DurationMs = 0
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("failed to create submission: %v", err)
		}

		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to get submission: %v", err)
		}
		if got.DurationMs != 0 {
			t.Errorf("expected unknown duration, got %d", got.DurationMs)
		}
	})

	t.Run("AcceptedSubmissions", func(t *testing.T) {
		repo := NewSubmissionRepository(setupTestDB(t))
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		titles := []string{"First", "Second", "Third"}
		ids := make([]string, len(titles))
		for i, title := range titles {
			s := newSubmission("g1", title, "Artist")
			s.SubmittedAt = base.Add(time.Duration(i) * time.Minute)
			if err := repo.Create(ctx, s); err != nil {
				t.Fatalf("failed to create submission: %v", err)
			}
			ids[i] = s.ID
		}
		other := newSubmission("g2", "Elsewhere", "Artist")
		if err := repo.Create(ctx, other); err != nil {
			t.Fatalf("failed to create submission: %v", err)
		}

		for _, id := range []string{ids[0], ids[2], other.ID} {
			if err := repo.SetStatus(ctx, id, models.Accepted); err != nil {
				t.Fatalf("failed to set status: %v", err)
			}
		}
		if err := repo.SetStatus(ctx, ids[1], models.Rejected); err != nil {
			t.Fatalf("failed to set status: %v", err)
		}

		songs, err := repo.AcceptedSubmissions(ctx, "g1")
		if err != nil {
			t.Fatalf("failed to list accepted: %v", err)
		}
		if len(songs) != 2 {
			t.Fatalf("expected 2 accepted songs, got %d", len(songs))
		}
		if songs[0].Title != "First" || songs[1].Title != "Third" {
			t.Errorf("expected submission order, got %q, %q", songs[0].Title, songs[1].Title)
		}

		all, err := repo.List(ctx, "g1", "")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 submissions, got %d", len(all))
		}
	})

	t.Run("SetStatus", func(t *testing.T) {
		repo := NewSubmissionRepository(setupTestDB(t))
		if err := repo.SetStatus(ctx, "nope", models.Accepted); !errors.Is(err, shared.ErrSongNotFound) {
			t.Errorf("expected ErrSongNotFound, got %v", err)
		}
		if err := repo.SetStatus(ctx, "nope", "maybe"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RecordResolvedPlatformID", func(t *testing.T) {
		repo := NewSubmissionRepository(setupTestDB(t))
		s := newSubmission("g1", "Yesterday", "The Beatles")
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("failed to create submission: %v", err)
		}

		if err := repo.RecordResolvedPlatformID(ctx, s.ID, models.AppleMusic, "am-1"); err != nil {
			t.Fatalf("failed to record id: %v", err)
		}
		if err := repo.RecordResolvedPlatformID(ctx, s.ID, models.AppleMusic, "am-2"); err != nil {
			t.Fatalf("second record should be a no-op, got %v", err)
		}

		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to get submission: %v", err)
		}
		if id, _ := got.PlatformID(models.AppleMusic); id != "am-1" {
			t.Errorf("expected first recorded id to be kept, got %q", id)
		}

		if err := repo.RecordResolvedPlatformID(ctx, "nope", models.Spotify, "x"); !errors.Is(err, shared.ErrSongNotFound) {
			t.Errorf("expected ErrSongNotFound, got %v", err)
		}
	})
}

func TestGroupPlaylistRepository(t *testing.T) {
	ctx := context.Background()

	newPlaylist := func() *models.GroupPlaylist {
		return &models.GroupPlaylist{
			GroupID:          "g1",
			Platform:         models.Spotify,
			NativePlaylistID: "pl-1",
			Name:             "Friends Daily Songs",
			TrackIDs:         []string{"t1", "t2"},
			IsActive:         true,
			State:            models.Synced,
		}
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		repo := NewGroupPlaylistRepository(setupTestDB(t))
		p := newPlaylist()
		synced := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		p.LastSyncedAt = &synced

		if err := repo.Save(ctx, p); err != nil {
			t.Fatalf("failed to save playlist: %v", err)
		}

		got, err := repo.Get(ctx, "g1", models.Spotify)
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}
		if got.NativePlaylistID != "pl-1" || got.Name != "Friends Daily Songs" || !got.IsActive {
			t.Errorf("unexpected playlist: %+v", got)
		}
		if got.State != models.Synced {
			t.Errorf("expected state synced, got %q", got.State)
		}
		if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(synced) {
			t.Errorf("expected last synced %v, got %v", synced, got.LastSyncedAt)
		}
		if len(got.TrackIDs) != 2 || got.TrackIDs[0] != "t1" || got.TrackIDs[1] != "t2" {
			t.Errorf("unexpected tracks: %v", got.TrackIDs)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := NewGroupPlaylistRepository(setupTestDB(t))
		if _, err := repo.Get(ctx, "g1", models.Spotify); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("SaveAppendsTracks", func(t *testing.T) {
		repo := NewGroupPlaylistRepository(setupTestDB(t))
		p := newPlaylist()
		if err := repo.Save(ctx, p); err != nil {
			t.Fatalf("failed to save playlist: %v", err)
		}

		p.TrackIDs = []string{"t1", "t2", "t3", "t2"}
		if err := repo.Save(ctx, p); err != nil {
			t.Fatalf("failed to save playlist: %v", err)
		}

		got, err := repo.Get(ctx, "g1", models.Spotify)
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}
		want := []string{"t1", "t2", "t3"}
		if len(got.TrackIDs) != len(want) {
			t.Fatalf("expected %v, got %v", want, got.TrackIDs)
		}
		for i := range want {
			if got.TrackIDs[i] != want[i] {
				t.Errorf("track %d: expected %s, got %s", i, want[i], got.TrackIDs[i])
			}
		}
	})

	t.Run("SaveResetsTracksForNewNativePlaylist", func(t *testing.T) {
		repo := NewGroupPlaylistRepository(setupTestDB(t))
		p := newPlaylist()
		if err := repo.Save(ctx, p); err != nil {
			t.Fatalf("failed to save playlist: %v", err)
		}

		p.NativePlaylistID = "pl-2"
		p.TrackIDs = []string{"t9"}
		if err := repo.Save(ctx, p); err != nil {
			t.Fatalf("failed to save playlist: %v", err)
		}

		got, err := repo.Get(ctx, "g1", models.Spotify)
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}
		if got.NativePlaylistID != "pl-2" || len(got.TrackIDs) != 1 || got.TrackIDs[0] != "t9" {
			t.Errorf("expected tracks reset to [t9] on pl-2, got %s %v", got.NativePlaylistID, got.TrackIDs)
		}
	})

	t.Run("SaveInvalid", func(t *testing.T) {
		repo := NewGroupPlaylistRepository(setupTestDB(t))
		p := newPlaylist()
		p.NativePlaylistID = ""
		if err := repo.Save(ctx, p); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("UpdateStateRenameDeactivate", func(t *testing.T) {
		repo := NewGroupPlaylistRepository(setupTestDB(t))
		if err := repo.Save(ctx, newPlaylist()); err != nil {
			t.Fatalf("failed to save playlist: %v", err)
		}

		if err := repo.UpdateState(ctx, "g1", models.Spotify, models.Failed, "boom"); err != nil {
			t.Fatalf("failed to update state: %v", err)
		}
		if err := repo.Rename(ctx, "g1", models.Spotify, "New Name"); err != nil {
			t.Fatalf("failed to rename: %v", err)
		}
		if err := repo.Deactivate(ctx, "g1", models.Spotify); err != nil {
			t.Fatalf("failed to deactivate: %v", err)
		}

		got, err := repo.Get(ctx, "g1", models.Spotify)
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}
		if got.State != models.Failed || got.LastError != "boom" {
			t.Errorf("expected failed/boom, got %q/%q", got.State, got.LastError)
		}
		if got.Name != "New Name" {
			t.Errorf("expected renamed playlist, got %q", got.Name)
		}
		if got.IsActive {
			t.Error("expected playlist to be inactive")
		}
		if len(got.TrackIDs) != 2 {
			t.Errorf("expected tracks to survive, got %v", got.TrackIDs)
		}

		if err := repo.Rename(ctx, "g2", models.Spotify, "x"); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("ListByGroup", func(t *testing.T) {
		repo := NewGroupPlaylistRepository(setupTestDB(t))
		sp := newPlaylist()
		am := newPlaylist()
		am.Platform = models.AppleMusic
		am.NativePlaylistID = "p.abc"
		am.TrackIDs = []string{"a1"}

		for _, p := range []*models.GroupPlaylist{sp, am} {
			if err := repo.Save(ctx, p); err != nil {
				t.Fatalf("failed to save playlist: %v", err)
			}
		}

		playlists, err := repo.ListByGroup(ctx, "g1")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(playlists) != 2 {
			t.Fatalf("expected 2 playlists, got %d", len(playlists))
		}
		if playlists[0].Platform != models.AppleMusic || playlists[1].Platform != models.Spotify {
			t.Errorf("expected platform order, got %s, %s", playlists[0].Platform, playlists[1].Platform)
		}
		if len(playlists[0].TrackIDs) != 1 || len(playlists[1].TrackIDs) != 2 {
			t.Errorf("unexpected track counts: %v, %v", playlists[0].TrackIDs, playlists[1].TrackIDs)
		}
	})
}

func TestLeaseRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	lease := func(holder string, at time.Time, ttl time.Duration) models.SyncLease {
		return models.SyncLease{
			GroupID:    "g1",
			Platform:   models.Spotify,
			Holder:     holder,
			AcquiredAt: at,
			ExpiresAt:  at.Add(ttl),
		}
	}

	t.Run("MutualExclusion", func(t *testing.T) {
		repo := NewLeaseRepository(setupTestDB(t))

		ok, err := repo.TryAcquire(ctx, lease("a", now, time.Minute), now)
		if err != nil || !ok {
			t.Fatalf("expected first acquire to succeed, got %v %v", ok, err)
		}

		ok, err = repo.TryAcquire(ctx, lease("b", now, time.Minute), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected second acquire to fail while lease is live")
		}

		got, err := repo.Get(ctx, "g1", models.Spotify)
		if err != nil {
			t.Fatalf("failed to get lease: %v", err)
		}
		if got == nil || got.Holder != "a" {
			t.Errorf("expected holder a, got %+v", got)
		}
		if !got.ExpiresAt.Equal(now.Add(time.Minute)) {
			t.Errorf("expected expiry %v, got %v", now.Add(time.Minute), got.ExpiresAt)
		}
	})

	t.Run("OtherPairIndependent", func(t *testing.T) {
		repo := NewLeaseRepository(setupTestDB(t))
		if ok, _ := repo.TryAcquire(ctx, lease("a", now, time.Minute), now); !ok {
			t.Fatal("expected acquire to succeed")
		}

		other := lease("b", now, time.Minute)
		other.Platform = models.AppleMusic
		if ok, err := repo.TryAcquire(ctx, other, now); err != nil || !ok {
			t.Errorf("expected other platform to be acquirable, got %v %v", ok, err)
		}
	})

	t.Run("ExpiredTakeover", func(t *testing.T) {
		repo := NewLeaseRepository(setupTestDB(t))
		if ok, _ := repo.TryAcquire(ctx, lease("a", now, time.Minute), now); !ok {
			t.Fatal("expected acquire to succeed")
		}

		later := now.Add(time.Minute)
		ok, err := repo.TryAcquire(ctx, lease("b", later, time.Minute), later)
		if err != nil || !ok {
			t.Fatalf("expected takeover at expiry, got %v %v", ok, err)
		}

		released, err := repo.Release(ctx, lease("a", now, time.Minute))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if released {
			t.Error("stale holder must not release the new lease")
		}

		got, _ := repo.Get(ctx, "g1", models.Spotify)
		if got == nil || got.Holder != "b" {
			t.Errorf("expected holder b, got %+v", got)
		}
	})

	t.Run("ReleaseIdempotent", func(t *testing.T) {
		repo := NewLeaseRepository(setupTestDB(t))
		l := lease("a", now, time.Minute)
		if ok, _ := repo.TryAcquire(ctx, l, now); !ok {
			t.Fatal("expected acquire to succeed")
		}

		if released, err := repo.Release(ctx, l); err != nil || !released {
			t.Fatalf("expected release, got %v %v", released, err)
		}
		if released, err := repo.Release(ctx, l); err != nil || released {
			t.Errorf("expected second release to be a no-op, got %v %v", released, err)
		}
		if got, err := repo.Get(ctx, "g1", models.Spotify); err != nil || got != nil {
			t.Errorf("expected no lease, got %+v %v", got, err)
		}
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		repo := NewLeaseRepository(setupTestDB(t))
		short := lease("a", now, time.Second)
		long := lease("b", now, time.Hour)
		long.Platform = models.AppleMusic

		for _, l := range []models.SyncLease{short, long} {
			if ok, _ := repo.TryAcquire(ctx, l, now); !ok {
				t.Fatal("expected acquire to succeed")
			}
		}

		n, err := repo.DeleteExpired(ctx, now.Add(time.Minute))
		if err != nil {
			t.Fatalf("failed to delete expired: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 expired lease removed, got %d", n)
		}
		if got, _ := repo.Get(ctx, "g1", models.AppleMusic); got == nil {
			t.Error("expected live lease to survive")
		}
	})
}
