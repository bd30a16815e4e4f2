// Package validate checks values against Telegram's limits before they are
// sent: bot token shape, message and caption length, callback data size.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Telegram Bot API limits.
const (
	MaxTextLength         = 4096
	MaxCaptionLength      = 1024
	MaxCallbackDataLength = 64
)

// Error represents a validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation: %s - %s", e.Field, e.Message)
}

// New creates a new validation error.
func New(field, message string) *Error {
	return &Error{Field: field, Message: message}
}

// Newf creates a new validation error with formatted message.
func Newf(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Token validates a bot token: {bot_id}:{secret} with a numeric bot_id.
func Token(token string) error {
	if token == "" {
		return New("token", "cannot be empty")
	}

	botID, secret, ok := strings.Cut(token, ":")
	if !ok {
		return New("token", "invalid format, expected {bot_id}:{secret}")
	}
	if botID == "" {
		return New("token", "bot_id cannot be empty")
	}
	for _, c := range botID {
		if c < '0' || c > '9' {
			return New("token", "bot_id must be numeric")
		}
	}
	if secret == "" {
		return New("token", "secret cannot be empty")
	}
	return nil
}

// Text validates message text. Telegram counts characters, not bytes.
func Text(text string) error {
	if strings.TrimSpace(text) == "" {
		return New("text", "cannot be empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return Newf("text", "has %d characters, maximum is %d", n, MaxTextLength)
	}
	return nil
}

// Caption validates a document caption.
func Caption(caption string) error {
	if n := utf8.RuneCountInString(caption); n > MaxCaptionLength {
		return Newf("caption", "has %d characters, maximum is %d", n, MaxCaptionLength)
	}
	return nil
}

// CallbackData validates inline keyboard callback data, limited in bytes.
func CallbackData(data string) error {
	if data == "" {
		return New("callback_data", "cannot be empty")
	}
	if len(data) > MaxCallbackDataLength {
		return Newf("callback_data", "is %d bytes, maximum is %d", len(data), MaxCallbackDataLength)
	}
	return nil
}
