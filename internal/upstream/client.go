// Package upstream talks to the Have I Been Pwned k-anonymity range API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/charlesng35/breachrange/internal/breach"
	"github.com/charlesng35/breachrange/internal/monitoring"
	"github.com/charlesng35/breachrange/pkg/logger"
)

const (
	DefaultBaseURL     = "https://api.pwnedpasswords.com/range"
	DefaultUserAgent   = "PasswordStrengthTester/1.0"
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second

	// maxBodyBytes bounds a single range response. Real responses are well under 1 MiB.
	maxBodyBytes = 8 << 20
	// maxBackoff caps a single retry delay.
	maxBackoff = time.Hour
)

// Config controls how the client reaches the range API.
type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	// RateLimit caps outbound requests per second. Zero disables the limiter.
	RateLimit  float64
	RateBurst  int
	AddPadding bool
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		UserAgent:   DefaultUserAgent,
		Timeout:     DefaultTimeout,
		MaxRetries:  DefaultMaxRetries,
		BackoffBase: DefaultBackoffBase,
		RateBurst:   1,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Its Timeout is left untouched.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(sleep Sleeper) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Client fetches range results with bounded retry on 429. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	sleep   Sleeper
	log     *zap.Logger
}

// NewClient constructs a client. Empty string and duration fields fall back to DefaultConfig;
// a MaxRetries of zero disables retries.
func NewClient(cfg Config, opts ...Option) *Client {
	defaults := DefaultConfig()
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}

	client := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		sleep: sleepContext,
		log:   logger.WithModule("upstream"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Fetch retrieves and parses the range for prefix. A 429 is retried up to MaxRetries
// times with exponential backoff; any other failure is returned immediately as an
// *breach.UpstreamError.
func (c *Client) Fetch(ctx context.Context, prefix breach.Prefix) (breach.RangeResult, error) {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &breach.UpstreamError{Prefix: prefix.String(), Attempts: attempt, Err: err}
			}
		}

		start := time.Now()
		status, body, err := c.do(ctx, prefix)
		elapsed := time.Since(start)
		if err != nil {
			monitoring.RecordUpstreamAttempt("transport_error", err.Error(), elapsed)
			c.log.Error("range request failed", zap.String("prefix", prefix.String()), zap.Error(err))
			return nil, &breach.UpstreamError{Prefix: prefix.String(), Attempts: attempt + 1, Err: err}
		}

		switch status {
		case http.StatusOK:
			result, err := breach.Parse(body)
			if err != nil {
				monitoring.RecordUpstreamAttempt("invalid_payload", err.Error(), elapsed)
				c.log.Error("range payload rejected", zap.String("prefix", prefix.String()), zap.Error(err))
				return nil, &breach.UpstreamError{Prefix: prefix.String(), StatusCode: status, Attempts: attempt + 1, Err: err}
			}
			monitoring.RecordUpstreamAttempt("success", "", elapsed)
			return result, nil

		case http.StatusTooManyRequests:
			monitoring.RecordUpstreamAttempt("rate_limited", "status 429", elapsed)
			if attempt >= c.cfg.MaxRetries {
				c.log.Error("range api rate limit retries exhausted",
					zap.String("prefix", prefix.String()),
					zap.Int("attempts", attempt+1),
				)
				return nil, &breach.UpstreamError{
					Prefix:      prefix.String(),
					StatusCode:  status,
					Attempts:    attempt + 1,
					RateLimited: true,
				}
			}
			delay := c.backoff(attempt)
			c.log.Warn("range api rate limited, backing off",
				zap.String("prefix", prefix.String()),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, &breach.UpstreamError{Prefix: prefix.String(), StatusCode: status, Attempts: attempt + 1, Err: err}
			}

		default:
			monitoring.RecordUpstreamAttempt("error", fmt.Sprintf("status %d", status), elapsed)
			c.log.Error("range api returned unexpected status",
				zap.String("prefix", prefix.String()),
				zap.Int("status", status),
			)
			return nil, &breach.UpstreamError{Prefix: prefix.String(), StatusCode: status, Attempts: attempt + 1}
		}
	}
}

// backoff returns BackoffBase * 2^attempt, capped at maxBackoff.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.BackoffBase
	for i := 0; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxBackoff)
}

func (c *Client) do(ctx context.Context, prefix breach.Prefix) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/"+prefix.String(), nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.AddPadding {
		req.Header.Set("Add-Padding", "true")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return resp.StatusCode, "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return 0, "", err
	}
	if len(body) > maxBodyBytes {
		return 0, "", errBodyTooLarge
	}
	return resp.StatusCode, string(body), nil
}

var errBodyTooLarge = errors.New("upstream: response body exceeds limit")

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
