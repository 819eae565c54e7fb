package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/roundsync/internal/shared"
	"golang.org/x/oauth2"
)

// maxRetryAfter bounds hints from misbehaving servers.
const maxRetryAfter = time.Minute

// parseRetryAfter reads a Retry-After header given either as seconds or as an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	}

	switch {
	case d < 0:
		return 0
	case d > maxRetryAfter:
		return maxRetryAfter
	default:
		return d
	}
}

// statusError maps an unsuccessful HTTP status to the shared error taxonomy.
func statusError(platform string, resp *http.Response, playlistCall bool) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(body))

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &shared.RateLimitedError{Platform: platform, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", shared.ErrAuthExpired, platform, code)
	case code == http.StatusNotFound && playlistCall:
		return fmt.Errorf("%w: %s returned 404", shared.ErrPlaylistNotFound, platform)
	case code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented:
		return fmt.Errorf("%w: %s does not support this operation", shared.ErrNotImplemented, platform)
	case code >= 500:
		return fmt.Errorf("%w: %s returned %d", shared.ErrPlatformUnavailable, platform, code)
	default:
		return fmt.Errorf("%s API error: status %d: %s", platform, code, detail)
	}
}

// rateLimitTransport turns 429 responses into [shared.RateLimitedError] before a
// client library can discard the Retry-After header.
type rateLimitTransport struct {
	platform string
	base     http.RoundTripper
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(t.platform, resp, false)
}

// headerTransport sets fixed headers on every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// transportError classifies errors that happened before a response was read.
func transportError(platform string, err error) error {
	var rl *shared.RateLimitedError
	var re *oauth2.RetrieveError
	switch {
	case errors.As(err, &rl):
		return rl
	case errors.As(err, &re):
		return fmt.Errorf("%w: %s token refresh failed: %v", shared.ErrAuthExpired, platform, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, shared.ErrAuthExpired), errors.Is(err, shared.ErrPlatformUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", shared.ErrPlatformUnavailable, platform, err)
	}
}
