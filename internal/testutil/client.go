package testutil

import (
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/sender"
)

// CircuitBreakerNeverTrip returns settings where the breaker never opens.
func CircuitBreakerNeverTrip() sender.CircuitBreakerSettings {
	return sender.CircuitBreakerSettings{
		MaxRequests: 100,
		Timeout:     time.Hour,
		ReadyToTrip: func(gobreaker.Counts) bool { return false },
	}
}

// CircuitBreakerAggressiveTrip opens after two consecutive failures.
func CircuitBreakerAggressiveTrip() sender.CircuitBreakerSettings {
	return sender.CircuitBreakerSettings{
		MaxRequests: 1,
		Timeout:     2 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	}
}

// NewTestClient creates a sender client against baseURL without retries
// and without rate limiting delays.
func NewTestClient(t *testing.T, baseURL string, opts ...sender.Option) *sender.Client {
	t.Helper()

	defaultOpts := []sender.Option{
		sender.WithBaseURL(baseURL),
		sender.WithRetries(0),
		sender.WithRateLimit(1000, 1000),
		sender.WithPerChatRateLimit(1000, 1000),
		sender.WithCircuitBreakerSettings(CircuitBreakerNeverTrip()),
	}

	client, err := sender.New(TestToken, append(defaultOpts, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() { client.Close() })
	return client
}

// NewRetryTestClient creates a client whose retries are timed by sleeper.
func NewRetryTestClient(t *testing.T, baseURL string, sleeper *FakeSleeper, opts ...sender.Option) *sender.Client {
	t.Helper()

	defaultOpts := []sender.Option{sender.WithRetries(3)}
	if sleeper != nil {
		defaultOpts = append(defaultOpts, sender.WithSleeper(sleeper))
	}
	return NewTestClient(t, baseURL, append(defaultOpts, opts...)...)
}

// NewBreakerTestClient creates a client whose breaker trips quickly.
func NewBreakerTestClient(t *testing.T, baseURL string, opts ...sender.Option) *sender.Client {
	t.Helper()

	defaultOpts := []sender.Option{
		sender.WithCircuitBreakerSettings(CircuitBreakerAggressiveTrip()),
	}
	return NewTestClient(t, baseURL, append(defaultOpts, opts...)...)
}
