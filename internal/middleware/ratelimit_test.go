package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/breachrange/internal/cache"
	"github.com/charlesng35/breachrange/pkg/response"
)

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, cache.ErrUnavailable
}

func newRateLimitedRouter(store RateStore, requests int, window time.Duration) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(store, requests, window))
	r.POST("/api/v1/pwned-range", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/api/v1/check", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func doRequest(r http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newRateLimitedRouter(NewMemoryRateStore(), 2, 100*time.Millisecond)

	for i := 0; i < 2; i++ {
		w := doRequest(r, "/api/v1/pwned-range", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := doRequest(r, "/api/v1/pwned-range", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", payload.Error.Code)

	time.Sleep(120 * time.Millisecond)

	w = doRequest(r, "/api/v1/pwned-range", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitKeysByClientAndRoute(t *testing.T) {
	r := newRateLimitedRouter(NewMemoryRateStore(), 1, time.Minute)

	require.Equal(t, http.StatusOK, doRequest(r, "/api/v1/pwned-range", "10.0.0.1:1234").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(r, "/api/v1/pwned-range", "10.0.0.1:1234").Code)

	require.Equal(t, http.StatusOK, doRequest(r, "/api/v1/pwned-range", "10.0.0.2:1234").Code)
	require.Equal(t, http.StatusOK, doRequest(r, "/api/v1/check", "10.0.0.1:1234").Code)
}

func TestRateLimitFailsOpenWhenStoreErrors(t *testing.T) {
	r := newRateLimitedRouter(failingRateStore{}, 1, time.Minute)

	for i := 0; i < 3; i++ {
		w := doRequest(r, "/api/v1/check", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitDisabledWithoutStore(t *testing.T) {
	r := newRateLimitedRouter(nil, 1, time.Minute)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, doRequest(r, "/api/v1/check", "").Code)
	}
}

func TestStoreRateStoreUsesCacheCounters(t *testing.T) {
	backend := cache.NewMemoryStore(cache.Options{})
	store := NewStoreRateStore(backend)
	require.NotNil(t, store)

	count, ttl, err := store.Increment(context.Background(), "rl:client", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	count, _, err = store.Increment(context.Background(), "rl:client", 0)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.Nil(t, NewStoreRateStore(nil))
}
