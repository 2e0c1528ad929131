package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/charlesng35/breachrange/pkg/logger"
)

const defaultRedisTimeout = 5 * time.Second

// RedisConfig captures the connection parameters for the Redis backend.
// URL, when set, takes precedence over the discrete fields.
type RedisConfig struct {
	URL      string
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

func (cfg RedisConfig) options() (*redis.Options, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}

	var opts *redis.Options
	if url := strings.TrimSpace(cfg.URL); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		address := strings.TrimSpace(cfg.Address)
		if address == "" {
			return nil, errors.New("redis: address is required")
		}
		opts = &redis.Options{
			Addr:     address,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	opts.MaxRetries = -1
	return opts, nil
}

// RedisStore is a Store backed by Redis. Physical expiry is a native key TTL of
// ttl+stale retention; logical expiry is recovered from the remaining PTTL.
//
// After an I/O error the store disables itself and answers ErrUnavailable without
// touching the network until a background ping succeeds.
type RedisStore struct {
	client *redis.Client
	opts   Options
	log    *zap.Logger

	disabledFlag atomic.Bool
	closeOnce    sync.Once
	closed       chan struct{}
}

// NewRedisStore connects to Redis. An unreachable server is not fatal: the store
// starts disabled and keeps probing in the background.
func NewRedisStore(cfg RedisConfig, opts Options) (*RedisStore, error) {
	redisOpts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	store := newRedisStore(redis.NewClient(redisOpts), opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpts.DialTimeout)
	defer cancel()
	if err := store.client.Ping(ctx).Err(); err != nil {
		store.log.Warn("redis unreachable at startup", zap.String("addr", redisOpts.Addr), zap.Error(err))
		store.disable()
	}
	return store, nil
}

func newRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   opts.withDefaults(),
		log:    logger.WithModule("cache.redis"),
		closed: make(chan struct{}),
	}
}

func (s *RedisStore) disabled() bool {
	return s.disabledFlag.Load()
}

func (s *RedisStore) disable() {
	if !s.disabledFlag.CompareAndSwap(false, true) {
		return
	}
	s.log.Warn("redis temporarily disabled")
	go s.probe()
}

func (s *RedisStore) probe() {
	const maxBackoff = 30 * time.Second
	backoff := 100 * time.Millisecond
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		err := s.client.Ping(ctx).Err()
		cancel()
		if err == nil {
			s.disabledFlag.Store(false)
			s.log.Info("redis re-enabled")
			return
		}

		if backoff < maxBackoff {
			backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
		}
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		s.log.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
		timer.Reset(backoff)
	}
}

// fail records a backend error and disables the client.
func (s *RedisStore) fail(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return unavailable(op, err)
	}
	s.log.Warn("redis "+op, zap.Error(err))
	s.disable()
	return unavailable(op, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if s.disabled() {
		return Entry{}, false, unavailable("get", errors.New("redis disabled"))
	}

	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, s.fail("get", err)
	}

	value, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, s.fail("get", err)
	}

	remaining := pttl.Val()
	switch {
	case remaining == -1:
		// no TTL
		return Entry{Value: value}, true, nil
	case remaining < 0:
		// expired between GET and PTTL
		return Entry{}, false, nil
	}

	expiresAt := s.opts.Now().Add(remaining - s.opts.StaleRetention)
	return Entry{Value: value, ExpiresAt: expiresAt}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.disabled() {
		return unavailable("set", errors.New("redis disabled"))
	}

	var expiration time.Duration
	if ttl > 0 {
		expiration = ttl + s.opts.StaleRetention
	}
	if err := s.client.Set(ctx, key, value, expiration).Err(); err != nil {
		return s.fail("set", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if s.disabled() {
		return unavailable("delete", errors.New("redis disabled"))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return s.fail("delete", err)
	}
	return nil
}

// IncrementWithTTL increments key and starts its window on the first increment.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	if s.disabled() {
		return 0, 0, unavailable("incr", errors.New("redis disabled"))
	}

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, s.fail("incr", err)
	}

	count := incr.Val()
	remaining := pttl.Val()
	if remaining < 0 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, s.fail("incr", err)
		}
		remaining = window
	}
	return count, remaining, nil
}

// Ping bypasses the disabled state so readiness probes see the live server.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.client.Close()
	})
	return err
}
