package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Platform errors
	ErrRateLimited         = fmt.Errorf("rate limited")
	ErrPlatformUnavailable = fmt.Errorf("platform unavailable")
	ErrAuthExpired         = fmt.Errorf("platform authorization expired")
	ErrInvalidPlatform     = fmt.Errorf("invalid platform")

	// Sync errors
	ErrSyncInProgress   = fmt.Errorf("sync already in progress")
	ErrLeaseHeld        = fmt.Errorf("lease already held")
	ErrPlaylistNotFound = fmt.Errorf("playlist not found")
	ErrSongNotFound     = fmt.Errorf("song not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// RateLimitedError is returned by platform adapters when the platform rejects a request for exceeding its quota.
//
// RetryAfter is the platform's hint and is zero when none was given. It unwraps to [ErrRateLimited].
type RateLimitedError struct {
	Platform   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", e.Platform, ErrRateLimited, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", e.Platform, ErrRateLimited)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterHint extracts the retry-after hint from err, if any.
func RetryAfterHint(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
