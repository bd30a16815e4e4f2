package tg_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/tg"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *tg.APIError
		expected string
	}{
		{
			name:     "basic error",
			err:      &tg.APIError{Code: 400, Description: "Bad Request", Method: "sendDocument"},
			expected: "ezsticker: sendDocument failed: Bad Request (code=400)",
		},
		{
			name: "error with retry_after",
			err: &tg.APIError{
				Code:        429,
				Description: "Too Many Requests",
				Method:      "sendMessage",
				RetryAfter:  30 * time.Second,
			},
			expected: "ezsticker: sendMessage failed: Too Many Requests (code=429, retry_after=30s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{400, false},
		{403, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{504, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := &tg.APIError{Code: tt.code}
			assert.Equal(t, tt.retryable, err.IsRetryable())
		})
	}
}

func TestDetectSentinel(t *testing.T) {
	tests := []struct {
		name string
		code int
		desc string
		want error
	}{
		{"blocked", 403, "Forbidden: bot was blocked by the user", tg.ErrBotBlocked},
		{"deactivated", 403, "Forbidden: user is deactivated", tg.ErrUserDeactivated},
		{"never started", 403, "Forbidden: bot can't initiate conversation with a user", tg.ErrCantInitiate},
		{"chat not found", 400, "Bad Request: chat not found", tg.ErrChatNotFound},
		{"wrong file id", 400, "Bad Request: wrong file_id or the file is temporarily unavailable", tg.ErrWrongFileID},
		{"file too big", 400, "Bad Request: file is too big", tg.ErrFileTooBig},
		{"not modified", 400, "Bad Request: message is not modified", tg.ErrMessageNotModified},
		{"plain 401", 401, "Unauthorized", tg.ErrUnauthorized},
		{"plain 403", 403, "Forbidden", tg.ErrForbidden},
		{"plain 429", 429, "Too Many Requests: retry after 5", tg.ErrTooManyRequests},
		{"unknown", 400, "Bad Request: something else", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tg.DetectSentinel(tt.code, tt.desc))
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	err := tg.NewAPIError("sendMessage", 403, "Forbidden: bot was blocked by the user")
	require.NotNil(t, err)

	assert.True(t, errors.Is(err, tg.ErrBotBlocked))

	wrapped := fmt.Errorf("broadcast: %w", err)
	var apiErr *tg.APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, 403, apiErr.Code)
}

func TestIsRecipientUnreachable(t *testing.T) {
	assert.True(t, tg.IsRecipientUnreachable(tg.NewAPIError("sendMessage", 403, "Forbidden: bot was blocked by the user")))
	assert.True(t, tg.IsRecipientUnreachable(tg.NewAPIError("sendMessage", 400, "Bad Request: chat not found")))
	assert.True(t, tg.IsRecipientUnreachable(tg.NewAPIError("sendMessage", 403, "Forbidden")))
	assert.False(t, tg.IsRecipientUnreachable(tg.NewAPIError("sendMessage", 500, "Internal Server Error")))
	assert.False(t, tg.IsRecipientUnreachable(errors.New("dial tcp: timeout")))
	assert.False(t, tg.IsRecipientUnreachable(nil))
}
