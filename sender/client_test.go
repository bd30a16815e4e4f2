package sender_test

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/internal/testutil"
	"github.com/prilive-com/ezsticker/sender"
	"github.com/prilive-com/ezsticker/tg"
)

func TestNew_EmptyToken(t *testing.T) {
	_, err := sender.New("")
	assert.ErrorIs(t, err, tg.ErrInvalidToken)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client, err := sender.New(testutil.TestToken)
	require.NoError(t, err)

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}

func TestClient_ErrorsDoNotLeakToken(t *testing.T) {
	server := testutil.NewMockServer(t)
	baseURL := server.BaseURL()
	server.Close()

	client := testutil.NewTestClient(t, baseURL)
	err := sendHello(client)

	require.Error(t, err)
	assert.NotContains(t, err.Error(), testutil.TestToken)
}

func TestClient_LogsBreakerStateChange(t *testing.T) {
	server := testutil.NewMockServer(t)
	server.OnAPI("sendMessage", func(w http.ResponseWriter, r *http.Request) {
		testutil.ReplyServerError(w, 503, "Service Unavailable")
	})

	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	client := testutil.NewBreakerTestClient(t, server.BaseURL(), sender.WithLogger(logger))

	for range 3 {
		_ = sendHello(client)
	}

	assert.Contains(t, logs.String(), "circuit breaker state changed")
	assert.Contains(t, logs.String(), "to=open")
}

func TestRateLimit_PerChatLimiter(t *testing.T) {
	server := testutil.NewMockServer(t)
	server.OnAPI("sendMessage", func(w http.ResponseWriter, r *http.Request) {
		testutil.ReplyMessage(w, 1)
	})

	client := testutil.NewTestClient(t, server.BaseURL(),
		sender.WithRateLimit(100, 100),
		sender.WithPerChatRateLimit(5, 1),
	)

	start := time.Now()
	for range 3 {
		require.NoError(t, sendHello(client))
	}

	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond, "per-chat limiter should throttle")
	assert.Equal(t, 1, client.ChatLimiterCount())
}

func TestRateLimit_ContextCancelledWhileWaiting(t *testing.T) {
	server := testutil.NewMockServer(t)
	client := testutil.NewTestClient(t, server.BaseURL(), sender.WithPerChatRateLimit(0.01, 1))

	require.NoError(t, client.SendChatAction(context.Background(), testutil.TestChatID, tg.ActionTyping))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.SendChatAction(ctx, testutil.TestChatID, tg.ActionTyping)
	assert.Error(t, err)
	assert.Equal(t, 1, server.CaptureCount())
}
