package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// platformBudget is shared by every bulk match the engine runs against one platform.
// It bounds in-flight searches and the request rate. A rate limited response with
// a retry-after hint pauses the whole platform.
type platformBudget struct {
	workers *semaphore.Weighted
	limiter *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

func newPlatformBudget(c BulkConfig) *platformBudget {
	limit := rate.Inf
	if c.RequestsPerSecond > 0 {
		limit = rate.Limit(c.RequestsPerSecond)
	}
	return &platformBudget{
		workers: semaphore.NewWeighted(int64(max(c.WorkersPerPlatform, 1))),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// budget returns the platform's budget, creating it on first use.
func (e *Engine) budget(p models.Platform) *platformBudget {
	if b, ok := e.budgets.Load(p); ok {
		return b.(*platformBudget)
	}
	b, _ := e.budgets.LoadOrStore(p, newPlatformBudget(e.bulk))
	return b.(*platformBudget)
}

// pause holds every search on the platform until until. An earlier time never shortens a pause.
func (b *platformBudget) pause(until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if until.After(b.blockedUntil) {
		b.blockedUntil = until
	}
}

func (b *platformBudget) pausedFor(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockedUntil.Sub(now)
}

// waitTurn blocks until the platform is not paused and the rate limiter grants a request.
func (e *Engine) waitTurn(ctx context.Context, b *platformBudget) error {
	if d := b.pausedFor(e.now()); d > 0 {
		if err := e.sleep(ctx, d); err != nil {
			return err
		}
	}
	return b.limiter.Wait(ctx)
}
