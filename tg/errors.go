package tg

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors - use with errors.Is()
var (
	// API errors
	ErrUnauthorized    = errors.New("ezsticker: unauthorized (invalid token)")
	ErrForbidden       = errors.New("ezsticker: forbidden")
	ErrNotFound        = errors.New("ezsticker: not found")
	ErrTooManyRequests = errors.New("ezsticker: too many requests")

	// Message and file errors
	ErrMessageNotFound    = errors.New("ezsticker: message not found")
	ErrMessageNotModified = errors.New("ezsticker: message not modified")
	ErrWrongFileID        = errors.New("ezsticker: wrong file identifier")
	ErrFileTooBig         = errors.New("ezsticker: file is too big")

	// Recipient errors
	ErrBotBlocked      = errors.New("ezsticker: bot blocked by user")
	ErrBotKicked       = errors.New("ezsticker: bot kicked from chat")
	ErrChatNotFound    = errors.New("ezsticker: chat not found")
	ErrUserDeactivated = errors.New("ezsticker: user deactivated")
	ErrCantInitiate    = errors.New("ezsticker: bot can't initiate conversation")

	// Callback and inline errors
	ErrCallbackExpired = errors.New("ezsticker: callback query expired")

	// Client errors
	ErrRateLimited      = errors.New("ezsticker: rate limit exceeded")
	ErrCircuitOpen      = errors.New("ezsticker: circuit breaker open")
	ErrMaxRetries       = errors.New("ezsticker: max retries exceeded")
	ErrResponseTooLarge = errors.New("ezsticker: response too large")

	// Validation errors
	ErrInvalidToken  = errors.New("ezsticker: invalid bot token format")
	ErrInvalidConfig = errors.New("ezsticker: invalid configuration")
)

// ResponseParameters contains information about why a request was unsuccessful.
type ResponseParameters struct {
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
	RetryAfter      int   `json:"retry_after,omitempty"`
}

// APIError represents an error response from Telegram API.
// Use errors.As() to extract details, errors.Is() to match sentinels.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
	Method      string
	Parameters  *ResponseParameters
	cause       error
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("ezsticker: %s failed: %s (code=%d, retry_after=%s)",
			e.Method, e.Description, e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("ezsticker: %s failed: %s (code=%d)", e.Method, e.Description, e.Code)
}

// Unwrap returns the underlying sentinel error for errors.Is() support.
func (e *APIError) Unwrap() error { return e.cause }

// IsRetryable returns true if the error is temporary and may succeed on retry.
func (e *APIError) IsRetryable() bool {
	return e.Code == 429 || (e.Code >= 500 && e.Code <= 504)
}

// NewAPIError creates an APIError with automatic sentinel detection.
func NewAPIError(method string, code int, description string) *APIError {
	return NewAPIErrorWithRetry(method, code, description, 0)
}

// NewAPIErrorWithRetry creates an APIError carrying the server's retry_after hint.
func NewAPIErrorWithRetry(method string, code int, description string, retryAfter time.Duration) *APIError {
	return &APIError{
		Code:        code,
		Description: description,
		Method:      method,
		RetryAfter:  retryAfter,
		cause:       DetectSentinel(code, description),
	}
}

// DetectSentinel maps Telegram error codes/descriptions to sentinel errors.
// The description is checked first since it is more specific than the code.
func DetectSentinel(code int, desc string) error {
	descLower := strings.ToLower(desc)
	switch {
	case strings.Contains(descLower, "message is not modified"):
		return ErrMessageNotModified
	case strings.Contains(descLower, "message to edit not found"),
		strings.Contains(descLower, "message not found"):
		return ErrMessageNotFound
	case strings.Contains(descLower, "wrong file_id"),
		strings.Contains(descLower, "wrong file identifier"),
		strings.Contains(descLower, "wrong remote file"):
		return ErrWrongFileID
	case strings.Contains(descLower, "file is too big"):
		return ErrFileTooBig
	case strings.Contains(descLower, "bot was blocked"):
		return ErrBotBlocked
	case strings.Contains(descLower, "bot was kicked"):
		return ErrBotKicked
	case strings.Contains(descLower, "chat not found"):
		return ErrChatNotFound
	case strings.Contains(descLower, "user is deactivated"):
		return ErrUserDeactivated
	case strings.Contains(descLower, "can't initiate conversation"):
		return ErrCantInitiate
	case strings.Contains(descLower, "query is too old"):
		return ErrCallbackExpired
	}

	switch code {
	case 401:
		return ErrUnauthorized
	case 403:
		return ErrForbidden
	case 404:
		return ErrNotFound
	case 429:
		return ErrTooManyRequests
	}

	return nil
}

// IsRecipientUnreachable reports whether err means the user can no longer be
// messaged at all. Such failures are never retried.
func IsRecipientUnreachable(err error) bool {
	return errors.Is(err, ErrBotBlocked) ||
		errors.Is(err, ErrBotKicked) ||
		errors.Is(err, ErrChatNotFound) ||
		errors.Is(err, ErrUserDeactivated) ||
		errors.Is(err, ErrCantInitiate) ||
		errors.Is(err, ErrForbidden)
}

// ValidationError represents a request validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ezsticker: validation: %s - %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
