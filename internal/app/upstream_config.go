package app

import "github.com/charlesng35/breachrange/internal/upstream"

// ClientConfig converts UpstreamConfig into the upstream client settings.
func (c UpstreamConfig) ClientConfig() upstream.Config {
	return upstream.Config{
		BaseURL:     c.BaseURL,
		UserAgent:   c.UserAgent,
		Timeout:     c.Timeout,
		MaxRetries:  c.MaxRetries,
		BackoffBase: c.BackoffBase,
		RateLimit:   c.RateLimit,
		RateBurst:   c.RateBurst,
		AddPadding:  c.AddPadding,
	}
}
