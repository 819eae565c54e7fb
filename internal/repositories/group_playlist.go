package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
)

// GroupPlaylistRepository persists one playlist per (group, platform) with its ordered tracks.
//
// Rows are only written by the synchronizer while it holds the pair's lease.
type GroupPlaylistRepository struct {
	db *sql.DB
}

// NewGroupPlaylistRepository creates a new GroupPlaylistRepository with the given database connection
func NewGroupPlaylistRepository(db *sql.DB) *GroupPlaylistRepository {
	return &GroupPlaylistRepository{db: db}
}

const groupPlaylistColumns = `group_id, platform, native_playlist_id, name, state, last_error, is_active, last_synced_at, created_at, updated_at`

// Get retrieves the playlist for a pair, active or not. A missing row fails with [shared.ErrPlaylistNotFound].
func (r *GroupPlaylistRepository) Get(ctx context.Context, groupID string, p models.Platform) (*models.GroupPlaylist, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+groupPlaylistColumns+`
		FROM group_playlists
		WHERE group_id = ? AND platform = ?
	`, groupID, string(p))

	playlist, err := scanGroupPlaylist(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrPlaylistNotFound, groupID, p)
	}
	if err != nil {
		return nil, err
	}

	tracks, err := r.tracks(ctx, groupID, p)
	if err != nil {
		return nil, err
	}
	playlist.TrackIDs = tracks
	return playlist, nil
}

// ListByGroup returns every playlist of a group, including inactive ones, ordered by platform.
func (r *GroupPlaylistRepository) ListByGroup(ctx context.Context, groupID string) ([]*models.GroupPlaylist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+groupPlaylistColumns+`
		FROM group_playlists
		WHERE group_id = ?
		ORDER BY platform ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.GroupPlaylist
	for rows.Next() {
		p, err := scanGroupPlaylist(rows.Scan)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for _, p := range playlists {
		if p.TrackIDs, err = r.tracks(ctx, p.GroupID, p.Platform); err != nil {
			return nil, err
		}
	}
	return playlists, nil
}

// Save upserts the playlist row and appends any tracks not stored yet, keeping
// TrackIDs order. When the native playlist changed, the stored tracks belonged to
// the old playlist and are replaced.
func (r *GroupPlaylistRepository) Save(ctx context.Context, p *models.GroupPlaylist) error {
	if p.GroupID == "" || p.NativePlaylistID == "" {
		return fmt.Errorf("%w: group id and native playlist id are required", shared.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.State == "" {
		p.State = models.Uninitialized
	}

	var lastSynced sql.NullTime
	if p.LastSyncedAt != nil {
		lastSynced = sql.NullTime{Time: *p.LastSyncedAt, Valid: true}
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var previous string
		err := tx.QueryRowContext(ctx, `
			SELECT native_playlist_id FROM group_playlists WHERE group_id = ? AND platform = ?
		`, p.GroupID, string(p.Platform)).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read group playlist: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_playlists (`+groupPlaylistColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(group_id, platform) DO UPDATE SET
				native_playlist_id = excluded.native_playlist_id,
				name = excluded.name,
				state = excluded.state,
				last_error = excluded.last_error,
				is_active = excluded.is_active,
				last_synced_at = excluded.last_synced_at,
				updated_at = excluded.updated_at
		`, p.GroupID, string(p.Platform), p.NativePlaylistID, p.Name, string(p.State), p.LastError,
			p.IsActive, lastSynced, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert group playlist: %w", err)
		}

		if previous != "" && previous != p.NativePlaylistID {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM group_playlist_tracks WHERE group_id = ? AND platform = ?
			`, p.GroupID, string(p.Platform)); err != nil {
				return fmt.Errorf("failed to reset tracks: %w", err)
			}
		}

		var next int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position) + 1, 0) FROM group_playlist_tracks WHERE group_id = ? AND platform = ?
		`, p.GroupID, string(p.Platform)).Scan(&next); err != nil {
			return fmt.Errorf("failed to read track position: %w", err)
		}

		for _, trackID := range p.TrackIDs {
			result, err := tx.ExecContext(ctx, `
				INSERT INTO group_playlist_tracks (group_id, platform, track_id, position, added_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(group_id, platform, track_id) DO NOTHING
			`, p.GroupID, string(p.Platform), trackID, next, now)
			if err != nil {
				return fmt.Errorf("failed to insert track: %w", err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				next++
			}
		}
		return nil
	})
}

// UpdateState records a sync state transition without touching tracks.
func (r *GroupPlaylistRepository) UpdateState(ctx context.Context, groupID string, p models.Platform, state models.SyncState, lastErr string) error {
	return r.update(ctx, groupID, p, `state = ?, last_error = ?`, string(state), lastErr)
}

// Rename updates the stored name only.
func (r *GroupPlaylistRepository) Rename(ctx context.Context, groupID string, p models.Platform, name string) error {
	return r.update(ctx, groupID, p, `name = ?`, name)
}

// Deactivate soft-deletes the pair's playlist.
func (r *GroupPlaylistRepository) Deactivate(ctx context.Context, groupID string, p models.Platform) error {
	return r.update(ctx, groupID, p, `is_active = 0`)
}

func (r *GroupPlaylistRepository) update(ctx context.Context, groupID string, p models.Platform, set string, args ...any) error {
	args = append(args, time.Now().UTC(), groupID, string(p))
	result, err := r.db.ExecContext(ctx, `
		UPDATE group_playlists SET `+set+`, updated_at = ? WHERE group_id = ? AND platform = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to update group playlist: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", shared.ErrPlaylistNotFound, groupID, p)
	}
	return nil
}

func (r *GroupPlaylistRepository) tracks(ctx context.Context, groupID string, p models.Platform) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT track_id FROM group_playlist_tracks
		WHERE group_id = ? AND platform = ?
		ORDER BY position ASC
	`, groupID, string(p))
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	tracks := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

func scanGroupPlaylist(scan func(dest ...any) error) (*models.GroupPlaylist, error) {
	var (
		p          models.GroupPlaylist
		platform   string
		state      string
		lastSynced sql.NullTime
	)

	err := scan(&p.GroupID, &platform, &p.NativePlaylistID, &p.Name, &state, &p.LastError,
		&p.IsActive, &lastSynced, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan group playlist: %w", err)
	}

	p.Platform = models.Platform(platform)
	p.State = models.SyncState(state)
	if lastSynced.Valid {
		t := lastSynced.Time
		p.LastSyncedAt = &t
	}
	return &p, nil
}
