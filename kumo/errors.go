package kumo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAuthFailed means the access token was rejected and the refresh
	// attempt failed too. The caller has to log in again.
	ErrAuthFailed = errors.New("kumo: authentication failed, login required")

	// ErrDeviceNotFound means a device name or serial did not resolve.
	ErrDeviceNotFound = errors.New("kumo: device not found")

	// ErrRefreshTimeout means the realtime channel produced no facet
	// data before the deadline. The returned record is the REST
	// baseline; the operation itself did not fail.
	ErrRefreshTimeout = errors.New("kumo: realtime refresh timed out, using cached data")

	// ErrRefreshUnsupported means no realtime channel is configured at
	// all, as opposed to one that was tried and yielded nothing.
	ErrRefreshUnsupported = errors.New("kumo: realtime refresh unavailable, using cached data")
)

// HTTPStatusError is returned for non-2xx REST responses that do not
// map to a more specific condition.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("kumo api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// RateLimitError is returned on HTTP 429. It is never retried by the
// client; callers decide whether to back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("kumo api rate limited, retry after %s", e.RetryAfter)
	}
	return "kumo api rate limited"
}

// MalformedPayloadError is returned when a payload is missing a field
// the client cannot guess, such as the device serial.
type MalformedPayloadError struct {
	Field string
}

func (e MalformedPayloadError) Error() string {
	return fmt.Sprintf("kumo: malformed payload: missing %s", e.Field)
}
