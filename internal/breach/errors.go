package breach

import (
	"errors"
	"fmt"
)

// ErrRateLimitExceeded marks an upstream failure caused by repeated 429 responses.
var ErrRateLimitExceeded = errors.New("breach: upstream rate limit exceeded")

// ValidationError reports a malformed prefix or suffix. It is never retried.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("breach: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ParseError reports a corrupt line in an upstream range payload.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("breach: parse line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UpstreamError is a definitive failure from the range API: a non-200/non-429 status,
// exhausted 429 retries, a transport error or an unparseable payload.
type UpstreamError struct {
	Prefix      string
	StatusCode  int
	Attempts    int
	RateLimited bool
	Err         error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.RateLimited:
		return fmt.Sprintf("breach: upstream rate limited for %s after %d attempts", e.Prefix, e.Attempts)
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("breach: upstream %s (status %d): %v", e.Prefix, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("breach: upstream %s: %v", e.Prefix, e.Err)
	default:
		return fmt.Sprintf("breach: upstream %s returned status %d", e.Prefix, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.RateLimited {
		return ErrRateLimitExceeded
	}
	return nil
}

// CacheUnavailableError reports that the cache backend could not be reached.
type CacheUnavailableError struct {
	Op  string
	Err error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("breach: cache %s unavailable: %v", e.Op, e.Err)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Err }

// LookupError is terminal: no fresh or stale cache entry exists and the upstream failed.
type LookupError struct {
	Prefix string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("breach: lookup %s: %v", e.Prefix, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }
