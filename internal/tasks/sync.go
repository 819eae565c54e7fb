package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/services"
	"github.com/desertthunder/roundsync/internal/shared"
)

// SyncPlaylist brings the group's playlist on platform up to date with its accepted submissions.
//
// The pair's lease is held for the whole run and always released. A held lease fails
// immediately with [shared.ErrSyncInProgress]. Platform work stops at the lease TTL
// minus the safety margin; songs not resolved by then are listed as cancelled.
// Songs that could not be resolved are skipped and listed in the result; tracks are
// only ever appended.
func (e *Engine) SyncPlaylist(ctx context.Context, prog chan<- ProgressUpdate, groupID string, p models.Platform) (*models.SyncResult, error) {
	if err := e.requireStores(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("%w: group id is required", shared.ErrInvalidInput)
	}
	svc, err := e.registry.Get(p)
	if err != nil {
		return nil, err
	}

	lease, release, err := e.acquire(ctx, prog, groupID, p)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, e.runBudget(lease))
	defer cancel()

	logger := e.logger.With("group", groupID, "platform", p)
	result, err := e.sync(runCtx, prog, svc, groupID, p)

	added := 0
	if result != nil {
		added = len(result.Added)
	}
	e.metrics.sync(p, added, err)

	if err != nil {
		logger.Error("playlist sync failed", "error", err)
		return nil, err
	}
	logger.Info("playlist synced", "added", added, "unresolved", len(result.Unresolved), "created", result.Created)
	return result, nil
}

func (e *Engine) sync(ctx context.Context, prog chan<- ProgressUpdate, svc services.Service, groupID string, p models.Platform) (*models.SyncResult, error) {
	existing, err := e.playlists.Get(ctx, groupID, p)
	switch {
	case errors.Is(err, shared.ErrPlaylistNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("load playlist: %w", err)
	case existing.IsActive:
		if err := e.playlists.UpdateState(ctx, groupID, p, models.Syncing, ""); err != nil {
			return nil, fmt.Errorf("update playlist state: %w", err)
		}
	}

	fail := func(err error, playlist *models.GroupPlaylist) (*models.SyncResult, error) {
		if playlist != nil && playlist.IsActive {
			e.markFailed(ctx, groupID, p, err)
		}
		return nil, err
	}

	songs, err := e.submissions.AcceptedSubmissions(ctx, groupID)
	if err != nil {
		return fail(fmt.Errorf("load submissions: %w", err), existing)
	}

	result := &models.SyncResult{Added: []string{}, Unresolved: []*models.MatchResult{}}
	if err := e.resolveMissing(ctx, prog, songs, p, result); err != nil {
		return fail(err, existing)
	}

	playlist := existing
	if playlist == nil || !playlist.IsActive {
		created, err := e.createPlaylist(ctx, prog, svc, groupID, p, existing)
		if err != nil {
			return fail(err, existing)
		}
		playlist = created
		result.Created = true
	}

	added := missingTracks(songs, p, playlist)
	for start := 0; start < len(added); start += addBatchSize {
		end := min(start+addBatchSize, len(added))
		if err := svc.AddTracks(ctx, playlist.NativePlaylistID, added[start:end]); err != nil {
			// Keep the batches that made it so the next run does not add them twice.
			playlist.TrackIDs = append(playlist.TrackIDs, added[:start]...)
			playlist.State = models.Failed
			playlist.LastError = err.Error()
			if saveErr := e.playlists.Save(context.WithoutCancel(ctx), playlist); saveErr != nil {
				e.logger.Error("failed to persist partial sync", "group", groupID, "platform", p, "error", saveErr)
			}
			return nil, fmt.Errorf("add tracks: %w", err)
		}
		e.sendProgress(prog, addTracksUpdate(p, end, len(added)))
	}

	now := e.now().UTC()
	playlist.TrackIDs = append(playlist.TrackIDs, added...)
	playlist.LastSyncedAt = &now
	playlist.State = models.Synced
	playlist.LastError = ""
	// Runs past the run deadline, inside the lease's safety margin.
	if err := e.playlists.Save(context.WithoutCancel(ctx), playlist); err != nil {
		return fail(fmt.Errorf("save playlist: %w", err), playlist)
	}
	e.sendProgress(prog, savePlaylistUpdate(playlist))

	result.Playlist = playlist
	result.Added = append(result.Added, added...)
	return result, nil
}

// resolveMissing bulk matches the songs without an ID for p and records every new
// match in the catalog, updating songs in place.
func (e *Engine) resolveMissing(ctx context.Context, prog chan<- ProgressUpdate, songs []models.CanonicalSong, p models.Platform, result *models.SyncResult) error {
	var pending []int
	for i, song := range songs {
		if _, ok := song.PlatformID(p); !ok {
			pending = append(pending, i)
		}
	}
	e.sendProgress(prog, loadSubmissionsUpdate(p, len(songs), len(pending)))
	if len(pending) == 0 {
		return nil
	}

	batch := make([]models.CanonicalSong, len(pending))
	for j, i := range pending {
		batch[j] = songs[i]
	}

	report, err := e.BulkMatch(ctx, prog, batch, BulkMatchOpts{TargetPlatforms: []models.Platform{p}})
	if err != nil {
		return fmt.Errorf("match songs: %w", err)
	}

	recorded := 0
	for j, i := range pending {
		r := report.Songs[j].Results[p]
		if !r.Resolved() {
			result.Unresolved = append(result.Unresolved, r)
			continue
		}

		trackID := r.BestMatch.NativeTrackID
		if err := e.submissions.RecordResolvedPlatformID(ctx, songs[i].ID, p, trackID); err != nil {
			return fmt.Errorf("record platform id for %s: %w", songs[i].ID, err)
		}
		if songs[i].PlatformIDs == nil {
			songs[i].PlatformIDs = make(map[models.Platform]string)
		}
		songs[i].PlatformIDs[p] = trackID
		recorded++
	}
	e.sendProgress(prog, recordMatchesUpdate(p, recorded))
	return nil
}

func (e *Engine) createPlaylist(ctx context.Context, prog chan<- ProgressUpdate, svc services.Service, groupID string, p models.Platform, previous *models.GroupPlaylist) (*models.GroupPlaylist, error) {
	name := e.playlistName(groupID)
	nativeID, err := svc.CreatePlaylist(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}

	playlist := &models.GroupPlaylist{
		GroupID:          groupID,
		Platform:         p,
		NativePlaylistID: nativeID,
		Name:             name,
		TrackIDs:         []string{},
		IsActive:         true,
		State:            models.Syncing,
	}
	if previous != nil {
		playlist.CreatedAt = previous.CreatedAt
	}

	// Persist right away so the native playlist is not orphaned if a later step fails.
	if err := e.playlists.Save(ctx, playlist); err != nil {
		return nil, fmt.Errorf("save new playlist: %w", err)
	}
	e.sendProgress(prog, createPlaylistUpdate(playlist))
	return playlist, nil
}

// missingTracks returns the resolved IDs not yet on the playlist, in submission order.
func missingTracks(songs []models.CanonicalSong, p models.Platform, playlist *models.GroupPlaylist) []string {
	seen := make(map[string]bool, len(playlist.TrackIDs))
	for _, id := range playlist.TrackIDs {
		seen[id] = true
	}

	var added []string
	for _, song := range songs {
		id, ok := song.PlatformID(p)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		added = append(added, id)
	}
	return added
}

func (e *Engine) markFailed(ctx context.Context, groupID string, p models.Platform, cause error) {
	err := e.playlists.UpdateState(context.WithoutCancel(ctx), groupID, p, models.Failed, cause.Error())
	if err != nil {
		e.logger.Error("failed to record sync failure", "group", groupID, "platform", p, "error", err)
	}
}

// RenamePlaylist renames the group's active playlist on platform, natively and in storage.
func (e *Engine) RenamePlaylist(ctx context.Context, prog chan<- ProgressUpdate, groupID string, p models.Platform, name string) (*models.GroupPlaylist, error) {
	if err := e.requireStores(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: playlist name is required", shared.ErrInvalidInput)
	}
	svc, err := e.registry.Get(p)
	if err != nil {
		return nil, err
	}

	_, release, err := e.acquire(ctx, prog, groupID, p)
	if err != nil {
		return nil, err
	}
	defer release()

	playlist, err := e.activePlaylist(ctx, groupID, p)
	if err != nil {
		return nil, err
	}
	if err := svc.RenamePlaylist(ctx, playlist.NativePlaylistID, name); err != nil {
		return nil, fmt.Errorf("rename playlist: %w", err)
	}
	if err := e.playlists.Rename(ctx, groupID, p, name); err != nil {
		return nil, fmt.Errorf("save playlist name: %w", err)
	}

	playlist.Name = name
	e.sendProgress(prog, renamePlaylistUpdate(playlist))
	e.logger.Info("playlist renamed", "group", groupID, "platform", p, "name", name)
	return playlist, nil
}

// DeactivatePlaylist soft deletes the group's playlist on platform. The native
// playlist is left alone; the next sync creates a fresh one.
func (e *Engine) DeactivatePlaylist(ctx context.Context, groupID string, p models.Platform) error {
	if err := e.requireStores(); err != nil {
		return err
	}
	if _, err := models.ParsePlatform(string(p)); err != nil {
		return err
	}

	_, release, err := e.acquire(ctx, nil, groupID, p)
	if err != nil {
		return err
	}
	defer release()

	if _, err := e.activePlaylist(ctx, groupID, p); err != nil {
		return err
	}
	if err := e.playlists.Deactivate(ctx, groupID, p); err != nil {
		return fmt.Errorf("deactivate playlist: %w", err)
	}
	e.logger.Info("playlist deactivated", "group", groupID, "platform", p)
	return nil
}

func (e *Engine) activePlaylist(ctx context.Context, groupID string, p models.Platform) (*models.GroupPlaylist, error) {
	playlist, err := e.playlists.Get(ctx, groupID, p)
	if err != nil {
		return nil, err
	}
	if !playlist.IsActive {
		return nil, fmt.Errorf("%w: %s/%s is inactive", shared.ErrPlaylistNotFound, groupID, p)
	}
	return playlist, nil
}

// acquire takes the pair's lease, mapping a held lease to [shared.ErrSyncInProgress].
// The returned func releases it and must always be called.
func (e *Engine) acquire(ctx context.Context, prog chan<- ProgressUpdate, groupID string, p models.Platform) (*models.SyncLease, func(), error) {
	lease, err := e.leases.Acquire(ctx, groupID, p, 0)
	e.metrics.lease(p, err)
	if errors.Is(err, shared.ErrLeaseHeld) {
		return nil, nil, fmt.Errorf("%w: %s/%s", shared.ErrSyncInProgress, groupID, p)
	}
	if err != nil {
		return nil, nil, err
	}
	e.sendProgress(prog, acquireLeaseUpdate(groupID, p))

	release := func() {
		if err := e.leases.Release(context.WithoutCancel(ctx), lease); err != nil {
			e.logger.Error("failed to release lease", "group", groupID, "platform", p, "error", err)
		}
	}
	return lease, release, nil
}

// runBudget is the lease TTL minus the safety margin, or the full TTL when the margin does not fit.
func (e *Engine) runBudget(lease *models.SyncLease) time.Duration {
	ttl := lease.ExpiresAt.Sub(lease.AcquiredAt)
	if budget := ttl - e.safetyMargin; budget > 0 {
		return budget
	}
	return ttl
}

func (e *Engine) requireStores() error {
	if e.submissions == nil || e.playlists == nil {
		return fmt.Errorf("%w: submission and playlist stores are required", shared.ErrMissingConfig)
	}
	return nil
}
