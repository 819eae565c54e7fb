package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
)

// LeaseRepository stores sync leases in SQLite.
//
// Acquisition is a single conditional upsert, so two processes sharing the
// database file can never both hold the same pair.
type LeaseRepository struct {
	db *sql.DB
}

// NewLeaseRepository creates a new LeaseRepository with the given database connection
func NewLeaseRepository(db *sql.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// TryAcquire inserts the lease, or takes over an existing row whose lease expired at or before now.
// It reports false when another holder's lease is still live.
func (r *LeaseRepository) TryAcquire(ctx context.Context, lease models.SyncLease, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_leases (group_id, platform, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id, platform) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE sync_leases.expires_at <= ?
	`, lease.GroupID, string(lease.Platform), lease.Holder,
		toMillis(lease.AcquiredAt), toMillis(lease.ExpiresAt), toMillis(now))
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// Release deletes the lease if lease.Holder still owns it. Releasing a lease
// that was already taken over or removed reports false and is not an error.
func (r *LeaseRepository) Release(ctx context.Context, lease models.SyncLease) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_leases WHERE group_id = ? AND platform = ? AND holder = ?
	`, lease.GroupID, string(lease.Platform), lease.Holder)
	if err != nil {
		return false, fmt.Errorf("failed to release lease: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// DeleteExpired removes every lease that lapsed at or before now.
func (r *LeaseRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_leases WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired leases: %w", err)
	}
	return result.RowsAffected()
}

// Get returns the stored lease for a pair, expired or not. It returns nil when no row exists.
func (r *LeaseRepository) Get(ctx context.Context, groupID string, p models.Platform) (*models.SyncLease, error) {
	var lease models.SyncLease
	var platform string
	var acquired, expires int64

	err := r.db.QueryRowContext(ctx, `
		SELECT group_id, platform, holder, acquired_at, expires_at
		FROM sync_leases WHERE group_id = ? AND platform = ?
	`, groupID, string(p)).Scan(&lease.GroupID, &platform, &lease.Holder, &acquired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	lease.Platform = models.Platform(platform)
	lease.AcquiredAt = fromMillis(acquired)
	lease.ExpiresAt = fromMillis(expires)
	return &lease, nil
}
