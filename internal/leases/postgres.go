package leases

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps leases in a shared PostgreSQL table so several roundsync
// instances exclude each other.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and ensures the lease table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the lease table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_leases (
			group_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			holder TEXT NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (group_id, platform)
		)
	`)
	if err != nil {
		return fmt.Errorf("creating sync_leases table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) TryAcquire(ctx context.Context, lease models.SyncLease, now time.Time) (bool, error) {
	query := `
		INSERT INTO sync_leases (group_id, platform, holder, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, platform) DO UPDATE SET
			holder = EXCLUDED.holder,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE sync_leases.expires_at <= $6
	`
	tag, err := s.pool.Exec(ctx, query,
		lease.GroupID,
		string(lease.Platform),
		lease.Holder,
		lease.AcquiredAt,
		lease.ExpiresAt,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("upserting lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Release(ctx context.Context, lease models.SyncLease) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sync_leases WHERE group_id = $1 AND platform = $2 AND holder = $3`,
		lease.GroupID, string(lease.Platform), lease.Holder,
	)
	if err != nil {
		return false, fmt.Errorf("deleting lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_leases WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}
