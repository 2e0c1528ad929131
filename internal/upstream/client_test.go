package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/breachrange/internal/breach"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) (*Client, *recordingSleeper) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL + "/range"
	sleeper := &recordingSleeper{}
	return NewClient(cfg, WithSleeper(sleeper.sleep)), sleeper
}

func TestFetchParsesRange(t *testing.T) {
	var gotPath, gotAgent, gotPadding string
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		gotPadding = r.Header.Get("Add-Padding")
		_, _ = w.Write([]byte("ABCDEF1234567890:10\r\n1234567890ABCDEF:5\r\n"))
	}, DefaultConfig())

	result, err := client.Fetch(context.Background(), breach.Prefix("21BD1"))
	require.NoError(t, err)
	require.Equal(t, breach.RangeResult{
		{Suffix: "ABCDEF1234567890", Count: 10},
		{Suffix: "1234567890ABCDEF", Count: 5},
	}, result)
	require.Equal(t, "/range/21BD1", gotPath)
	require.Equal(t, DefaultUserAgent, gotAgent)
	require.Empty(t, gotPadding)
	require.Empty(t, sleeper.delays)
}

func TestFetchSendsPaddingHeader(t *testing.T) {
	var gotPadding string
	cfg := DefaultConfig()
	cfg.AddPadding = true
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPadding = r.Header.Get("Add-Padding")
		_, _ = w.Write([]byte("ABCDEF1234567890:0"))
	}, cfg)

	result, err := client.Fetch(context.Background(), breach.Prefix("21BD1"))
	require.NoError(t, err)
	require.Equal(t, "true", gotPadding)
	require.Equal(t, 0, result[0].Count)
}

func TestFetchRetriesRateLimitWithBackoff(t *testing.T) {
	var calls atomic.Int32
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ABCDEF1234567890:10"))
	}, DefaultConfig())

	result, err := client.Fetch(context.Background(), breach.Prefix("21BD1"))
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, int32(4), calls.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestFetchRateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, DefaultConfig())

	_, err := client.Fetch(context.Background(), breach.Prefix("21BD1"))
	require.ErrorIs(t, err, breach.ErrRateLimitExceeded)

	var upstreamErr *breach.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	require.True(t, upstreamErr.RateLimited)
	require.Equal(t, 4, upstreamErr.Attempts)
	require.Equal(t, int32(4), calls.Load())
	require.Len(t, sleeper.delays, 3)
}

func TestFetchDoesNotRetryOtherStatuses(t *testing.T) {
	var calls atomic.Int32
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, DefaultConfig())

	_, err := client.Fetch(context.Background(), breach.Prefix("21BD1"))

	var upstreamErr *breach.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	require.Equal(t, http.StatusServiceUnavailable, upstreamErr.StatusCode)
	require.False(t, errors.Is(err, breach.ErrRateLimitExceeded))
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, sleeper.delays)
}

func TestFetchRejectsCorruptPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ABCDEF1234567890:10\nBADBAD:lots"))
	}, DefaultConfig())

	_, err := client.Fetch(context.Background(), breach.Prefix("21BD1"))

	var parseErr *breach.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, 2, parseErr.Line)
}

func TestFetchTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: url})
	_, err := client.Fetch(context.Background(), breach.Prefix("21BD1"))

	var upstreamErr *breach.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	require.Zero(t, upstreamErr.StatusCode)
	require.Error(t, upstreamErr.Err)
}

func TestFetchStopsBackoffOnCancel(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.BackoffBase = time.Hour
	client := NewClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, breach.Prefix("21BD1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int32(1), calls.Load())
}

func TestNewClientNormalisesConfig(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://example.test/range/", MaxRetries: -1})
	require.Equal(t, "https://example.test/range", client.cfg.BaseURL)
	require.Equal(t, DefaultUserAgent, client.cfg.UserAgent)
	require.Equal(t, DefaultTimeout, client.http.Timeout)
	require.Equal(t, 0, client.cfg.MaxRetries)
	require.Nil(t, client.limiter)

	limited := NewClient(Config{RateLimit: 5})
	require.NotNil(t, limited.limiter)
	require.Equal(t, 1, limited.limiter.Burst())
}

func TestBackoffDoubles(t *testing.T) {
	client := NewClient(Config{BackoffBase: 250 * time.Millisecond})
	require.Equal(t, 250*time.Millisecond, client.backoff(0))
	require.Equal(t, time.Second, client.backoff(2))
}

func TestBackoffIsCapped(t *testing.T) {
	client := NewClient(Config{BackoffBase: time.Second, MaxRetries: 100})
	require.Equal(t, 2048*time.Second, client.backoff(11))
	require.Equal(t, maxBackoff, client.backoff(12))
	for _, attempt := range []int{34, 63, 64, 99} {
		require.Equal(t, maxBackoff, client.backoff(attempt))
	}
}
