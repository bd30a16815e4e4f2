package receiver

import (
	"time"

	"github.com/prilive-com/ezsticker/tg"
)

// Config holds long polling configuration.
type Config struct {
	Token tg.SecretToken

	// BaseURL defaults to https://api.telegram.org.
	BaseURL string

	PollingTimeout     int           // seconds to hold the request open (0-60)
	PollingLimit       int           // max updates per request (1-100)
	PollingMaxErrors   int           // consecutive failures before giving up (0 = never)
	DeleteWebhookFirst bool          // getUpdates fails while a webhook is set
	AllowedUpdates     []string      // update types to receive
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	RetryBackoffFactor float64

	UpdateBufferSize int

	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.telegram.org",
		PollingTimeout:     30,
		PollingLimit:       100,
		PollingMaxErrors:   0,
		DeleteWebhookFirst: true,
		AllowedUpdates: []string{
			"message", "callback_query", "inline_query", "chosen_inline_result",
		},
		RetryInitialDelay:  time.Second,
		RetryMaxDelay:      60 * time.Second,
		RetryBackoffFactor: 2.0,
		UpdateBufferSize:   100,
		BreakerMaxRequests: 5,
		BreakerInterval:    2 * time.Minute,
		BreakerTimeout:     60 * time.Second,
	}
}

// Validate checks the polling bounds Telegram enforces.
func (c Config) Validate() error {
	if c.Token.IsEmpty() {
		return ErrTokenRequired
	}
	if c.PollingTimeout < 0 || c.PollingTimeout > 60 {
		return tg.NewValidationError("polling_timeout", "must be 0-60")
	}
	if c.PollingLimit < 1 || c.PollingLimit > 100 {
		return tg.NewValidationError("polling_limit", "must be 1-100")
	}
	return nil
}
