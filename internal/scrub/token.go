// Package scrub removes the bot token from errors and text before they are
// logged or sent anywhere.
package scrub

import (
	"strings"

	"github.com/prilive-com/ezsticker/tg"
)

const redacted = "[REDACTED]"

// TokenFromError removes the bot token from an error's message. http.Client
// errors embed the request URL, and with it the token. The original error
// stays reachable through Unwrap.
func TokenFromError(err error, token tg.SecretToken) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := String(msg, token)
	if clean == msg {
		return err
	}
	return &scrubbedError{msg: clean, err: err}
}

// String replaces every occurrence of the token in s.
func String(s string, token tg.SecretToken) string {
	tokenVal := token.Value()
	if tokenVal == "" {
		return s
	}
	return strings.ReplaceAll(s, tokenVal, redacted)
}

// Bytes is String for byte slices, used on log file contents.
func Bytes(b []byte, token tg.SecretToken) []byte {
	tokenVal := token.Value()
	if tokenVal == "" {
		return b
	}
	return []byte(strings.ReplaceAll(string(b), tokenVal, redacted))
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }
