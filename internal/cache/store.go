package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is wrapped by every error caused by an unreachable or failing backend.
var ErrUnavailable = errors.New("cache: backend unavailable")

// DefaultStaleRetention keeps logically expired entries around for a week.
const DefaultStaleRetention = 7 * 24 * time.Hour

// Entry is a stored value and its logical expiry. A zero ExpiresAt never expires.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry is logically expired at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store represents a shared cache interface used across the application.
//
// Set marks the value logically expired after ttl but keeps it physically readable for
// an additional stale-retention window; Get returns such entries so callers can decide
// whether to serve them.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}

// Pruner is implemented by backends that must purge physically expired rows themselves.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Options are shared by every backend.
type Options struct {
	// StaleRetention is how long an entry stays readable after its logical expiry.
	// Negative disables retention; zero selects DefaultStaleRetention.
	StaleRetention time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	switch {
	case o.StaleRetention == 0:
		o.StaleRetention = DefaultStaleRetention
	case o.StaleRetention < 0:
		o.StaleRetention = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("cache %s: %w: %w", op, ErrUnavailable, err)
}
