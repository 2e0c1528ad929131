package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charlesng35/breachrange/internal/breach"
	"github.com/charlesng35/breachrange/internal/cache"
	"github.com/charlesng35/breachrange/internal/monitoring"
)

const (
	// DefaultCacheNamespace prefixes every range key, giving keys like "hibp:21BD1".
	DefaultCacheNamespace = "hibp"
	// DefaultRangeTTL is the logical lifetime of a cached range.
	DefaultRangeTTL = 24 * time.Hour
)

// CachedRange is a range payload read back from the cache.
type CachedRange struct {
	Prefix    breach.Prefix
	Raw       []byte
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still within its logical TTL.
func (c CachedRange) Fresh(now time.Time) bool {
	return !cache.Entry{ExpiresAt: c.ExpiresAt}.Expired(now)
}

// Decode parses the stored wire format.
func (c CachedRange) Decode() (breach.RangeResult, error) {
	return breach.DecodeRange(c.Raw)
}

// RangeCache stores range results in a cache.Store under "<namespace>:<PREFIX>".
type RangeCache struct {
	store     cache.Store
	namespace string
}

// NewRangeCache wraps store. An empty namespace selects DefaultCacheNamespace.
func NewRangeCache(store cache.Store, namespace string) (*RangeCache, error) {
	if store == nil {
		return nil, errors.New("range cache: store is required")
	}
	namespace = strings.TrimSuffix(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		namespace = DefaultCacheNamespace
	}
	return &RangeCache{store: store, namespace: namespace}, nil
}

// Key returns the storage key for prefix.
func (c *RangeCache) Key(prefix breach.Prefix) string {
	return c.namespace + ":" + prefix.String()
}

// Get returns the stored entry for prefix, including logically expired entries that
// are still retained. Backend failures surface as *breach.CacheUnavailableError.
func (c *RangeCache) Get(ctx context.Context, prefix breach.Prefix) (CachedRange, bool, error) {
	entry, ok, err := c.store.Get(ctx, c.Key(prefix))
	if err != nil {
		monitoring.RecordCacheOperation("get", "error")
		return CachedRange{}, false, &breach.CacheUnavailableError{Op: "get", Err: err}
	}
	if !ok {
		monitoring.RecordCacheOperation("get", "miss")
		return CachedRange{}, false, nil
	}
	monitoring.RecordCacheOperation("get", "hit")
	return CachedRange{Prefix: prefix, Raw: entry.Value, ExpiresAt: entry.ExpiresAt}, true, nil
}

// Delete drops the entry for prefix.
func (c *RangeCache) Delete(ctx context.Context, prefix breach.Prefix) error {
	if err := c.store.Delete(ctx, c.Key(prefix)); err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return &breach.CacheUnavailableError{Op: "delete", Err: err}
	}
	monitoring.RecordCacheOperation("delete", "success")
	return nil
}

// Set encodes result and stores it with the supplied logical TTL.
func (c *RangeCache) Set(ctx context.Context, prefix breach.Prefix, result breach.RangeResult, ttl time.Duration) error {
	raw, err := result.Encode()
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.Key(prefix), raw, ttl); err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return &breach.CacheUnavailableError{Op: "set", Err: err}
	}
	monitoring.RecordCacheOperation("set", "success")
	return nil
}
