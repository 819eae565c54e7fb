package leases

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
)

type pair struct {
	group    string
	platform models.Platform
}

// MemoryStore keeps leases in a map. It only excludes holders within one process.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[pair]models.SyncLease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[pair]models.SyncLease)}
}

func (s *MemoryStore) TryAcquire(_ context.Context, lease models.SyncLease, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{lease.GroupID, lease.Platform}
	if current, ok := s.leases[key]; ok && !current.Expired(now) {
		return false, nil
	}
	s.leases[key] = lease
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, lease models.SyncLease) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{lease.GroupID, lease.Platform}
	if current, ok := s.leases[key]; ok && current.Holder == lease.Holder {
		delete(s.leases, key)
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, lease := range s.leases {
		if lease.Expired(now) {
			delete(s.leases, key)
			n++
		}
	}
	return n, nil
}

// Len reports how many leases are stored, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leases)
}
