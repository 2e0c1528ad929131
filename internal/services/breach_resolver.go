package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/breachrange/internal/breach"
	"github.com/charlesng35/breachrange/internal/monitoring"
	"github.com/charlesng35/breachrange/pkg/logger"
)

// RangeFetcher retrieves a range from the upstream API.
type RangeFetcher interface {
	Fetch(ctx context.Context, prefix breach.Prefix) (breach.RangeResult, error)
}

// ResolverOptions tune the resolver.
type ResolverOptions struct {
	// TTL is the logical lifetime of freshly fetched ranges. Defaults to DefaultRangeTTL.
	TTL time.Duration
	// Coalesce shares one upstream fetch among concurrent misses for the same prefix.
	Coalesce bool
	// Now overrides the clock used for freshness checks.
	Now func() time.Time
}

// LookupResult is the outcome of a successful lookup.
type LookupResult struct {
	Prefix   breach.Prefix
	Records  breach.RangeResult
	CacheHit bool
	// Stale is set when the upstream failed and a logically expired entry was served.
	Stale bool
}

// Resolver serves range lookups cache-aside, falling back to stale entries when the
// upstream API fails. Safe for concurrent use.
type Resolver struct {
	cache   *RangeCache
	fetcher RangeFetcher
	opts    ResolverOptions
	group   singleflight.Group
	log     *zap.Logger

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by the callers waiting on one coalesced fetch. It is
// cancelled when the last of them stops waiting.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewResolver wires a resolver over cache and fetcher.
func NewResolver(cache *RangeCache, fetcher RangeFetcher, opts ResolverOptions) (*Resolver, error) {
	if cache == nil {
		return nil, errors.New("resolver: range cache is required")
	}
	if fetcher == nil {
		return nil, errors.New("resolver: fetcher is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRangeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		cache:   cache,
		fetcher: fetcher,
		opts:    opts,
		log:     logger.WithModule("resolver"),
		flights: make(map[string]*flight),
	}, nil
}

// Lookup returns every breached suffix for the 5-character prefix raw.
//
// The only errors returned are *breach.ValidationError for a malformed prefix and
// *breach.LookupError when neither the upstream nor the cache can answer.
func (r *Resolver) Lookup(ctx context.Context, raw string) (LookupResult, error) {
	start := time.Now()

	prefix, err := breach.ParsePrefix(raw)
	if err != nil {
		monitoring.RecordLookup(monitoring.LookupInvalid, time.Since(start))
		return LookupResult{}, err
	}

	result, outcome, err := r.lookup(ctx, prefix)
	monitoring.RecordLookup(outcome, time.Since(start))
	return result, err
}

func (r *Resolver) lookup(ctx context.Context, prefix breach.Prefix) (LookupResult, string, error) {
	cached, found, cacheErr := r.cache.Get(ctx, prefix)
	if cacheErr != nil {
		r.log.Warn("cache read failed, treating as miss", zap.String("prefix", prefix.String()), zap.Error(cacheErr))
	}

	if found && cached.Fresh(r.opts.Now()) {
		records, err := cached.Decode()
		if err == nil {
			return LookupResult{Prefix: prefix, Records: records, CacheHit: true}, monitoring.LookupHit, nil
		}
		r.log.Warn("cached range is corrupt, refetching", zap.String("prefix", prefix.String()), zap.Error(err))
		r.evict(ctx, prefix)
		found = false
	}

	records, fetchErr := r.fetch(ctx, prefix)
	if fetchErr == nil {
		return LookupResult{Prefix: prefix, Records: records}, monitoring.LookupMiss, nil
	}

	if cacheErr != nil {
		cached, found, cacheErr = r.cache.Get(ctx, prefix)
		if cacheErr != nil {
			r.log.Warn("cache re-read failed", zap.String("prefix", prefix.String()), zap.Error(cacheErr))
		}
	}
	if found {
		stale, err := cached.Decode()
		if err == nil {
			r.log.Warn("upstream failed, serving stale range",
				zap.String("prefix", prefix.String()),
				zap.Time("expired_at", cached.ExpiresAt),
				zap.Error(fetchErr),
			)
			return LookupResult{Prefix: prefix, Records: stale, CacheHit: true, Stale: true}, monitoring.LookupStale, nil
		}
		r.evict(ctx, prefix)
	}

	r.log.Error("range lookup failed", zap.String("prefix", prefix.String()), zap.Error(fetchErr))
	return LookupResult{}, monitoring.LookupError, &breach.LookupError{Prefix: prefix.String(), Err: fetchErr}
}

// fetch retrieves prefix from upstream and stores it. With coalescing enabled one caller's
// cancellation only stops that caller waiting; the shared fetch is abandoned once every
// waiter has gone.
func (r *Resolver) fetch(ctx context.Context, prefix breach.Prefix) (breach.RangeResult, error) {
	if !r.opts.Coalesce {
		return r.fetchAndStore(ctx, prefix)
	}

	key := prefix.String()
	f := r.join(ctx, key)
	defer r.leave(key, f)

	ch := r.group.DoChan(key, func() (any, error) {
		return r.fetchAndStore(f.ctx, prefix)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(breach.RangeResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// evict removes an undecodable entry so it is neither served stale nor decoded again.
func (r *Resolver) evict(ctx context.Context, prefix breach.Prefix) {
	if err := r.cache.Delete(ctx, prefix); err != nil {
		r.log.Warn("cache evict failed", zap.String("prefix", prefix.String()), zap.Error(err))
	}
}

func (r *Resolver) join(ctx context.Context, key string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	return f
}

func (r *Resolver) leave(key string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flights[key] == f {
		delete(r.flights, key)
		// a cancelled call may still be unwinding; later callers must not join it
		r.group.Forget(key)
	}
}

func (r *Resolver) fetchAndStore(ctx context.Context, prefix breach.Prefix) (breach.RangeResult, error) {
	records, err := r.fetcher.Fetch(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, prefix, records, r.opts.TTL); err != nil {
		r.log.Warn("cache write failed", zap.String("prefix", prefix.String()), zap.Error(err))
	}
	return records, nil
}
