package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrTooLarge is returned when the resource exceeds the size limit,
// either by its Content-Length or by the bytes actually read.
var ErrTooLarge = errors.New("ezsticker: remote file too large")

// ErrTooManyURLs is returned by Normalize for input with more than one word.
var ErrTooManyURLs = errors.New("ezsticker: more than one url")

// Kind classifies a failed fetch.
type Kind int

const (
	KindInvalidURL Kind = iota + 1
	KindNotExist
	KindTimeout
	KindUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindNotExist:
		return "not_exist"
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "unreachable"
	}
	return "unknown"
}

// Error is an upstream fetch failure.
type Error struct {
	Kind Kind
	URL  string
	// Status is the HTTP status for KindNotExist.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func classify(rawURL string, err error) error {
	if errors.Is(err, ErrTooLarge) {
		return err
	}
	kind := KindUnreachable
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, ErrForbiddenAddress):
		kind = KindInvalidURL
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.As(err, &urlErr) && isInvalidURL(urlErr.Err):
		kind = KindInvalidURL
	}
	return &Error{Kind: kind, URL: rawURL, Err: err}
}

func isInvalidURL(err error) bool {
	var escErr url.EscapeError
	var hostErr url.InvalidHostError
	return errors.As(err, &escErr) || errors.As(err, &hostErr)
}
