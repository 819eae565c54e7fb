package leases

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
	"github.com/google/uuid"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = 60 * time.Second
)

// Store persists leases. TryAcquire must be atomic per pair: insert the lease, or
// replace a stored one whose ExpiresAt is at or before now, and report whether it did.
type Store interface {
	TryAcquire(ctx context.Context, lease models.SyncLease, now time.Time) (bool, error)
	Release(ctx context.Context, lease models.SyncLease) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Manager hands out and releases sync leases.
type Manager struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	holder   func() string
	logger   *log.Logger
}

// Option configures a [Manager].
type Option func(*Manager)

// WithTTL sets the default lease duration.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithSweepInterval sets how often [Manager.Run] removes expired leases.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHolderFunc replaces the holder id generator.
func WithHolderFunc(fn func() string) Option {
	return func(m *Manager) { m.holder = fn }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a lease manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		ttl:      DefaultTTL,
		interval: DefaultSweepInterval,
		now:      time.Now,
		holder:   uuid.NewString,
		logger:   shared.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the default lease duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire takes the lease for a pair, using the default TTL when ttl is not positive.
// It returns immediately with [shared.ErrLeaseHeld] when another holder's lease is live.
func (m *Manager) Acquire(ctx context.Context, groupID string, p models.Platform, ttl time.Duration) (*models.SyncLease, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}

	now := m.now()
	lease := models.SyncLease{
		GroupID:    groupID,
		Platform:   p,
		Holder:     m.holder(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	ok, err := m.store.TryAcquire(ctx, lease, now)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s/%s: %w", groupID, p, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrLeaseHeld, groupID, p)
	}

	m.logger.Debug("lease acquired", "group", groupID, "platform", p, "holder", lease.Holder, "expires", lease.ExpiresAt)
	return &lease, nil
}

// Release gives the lease back. A lease that expired, was taken over or is
// already gone is left alone without error.
func (m *Manager) Release(ctx context.Context, lease *models.SyncLease) error {
	if lease == nil {
		return nil
	}

	released, err := m.store.Release(ctx, *lease)
	if err != nil {
		return fmt.Errorf("release lease %s/%s: %w", lease.GroupID, lease.Platform, err)
	}
	if !released {
		m.logger.Warn("lease no longer held at release", "group", lease.GroupID, "platform", lease.Platform, "holder", lease.Holder)
	}
	return nil
}

// Sweep deletes every expired lease and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweep leases: %w", err)
	}
	if n > 0 {
		m.logger.Info("swept expired leases", "count", n)
	}
	return n, nil
}

// Run sweeps on every interval until ctx is done. Sweep failures are logged and retried on the next tick.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("lease sweep failed", "error", err)
			}
		}
	}
}
