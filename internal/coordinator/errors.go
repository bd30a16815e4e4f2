package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/prilive-com/ezsticker/internal/transform"
	"github.com/prilive-com/ezsticker/tg"
)

// errDocumentNotImage marks a document whose MIME type is not a supported
// image. It still matches transform.ErrUnsupportedMedia.
var errDocumentNotImage = fmt.Errorf("%w: document is not an image", transform.ErrUnsupportedMedia)

// RateLimitedError is returned when the user is on cooldown.
type RateLimitedError struct {
	Max     int
	Window  int // minutes
	Minutes int
	Seconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ezsticker: rate limited for %d:%02d", e.Minutes, e.Seconds)
}

// OversizedError is returned for inputs over the size limit.
type OversizedError struct {
	Size  int64
	Limit int64
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("ezsticker: file of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// DeliveryError wraps a failed Bot API call made while serving a request.
type DeliveryError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("ezsticker: %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ezsticker: %s failed: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Unreachable reports whether the user blocked the bot or is gone.
func (e *DeliveryError) Unreachable() bool {
	return tg.IsRecipientUnreachable(e.Err) || errors.Is(e.Err, tg.ErrUnauthorized)
}

func deliveryError(op string, err error) error {
	if errors.Is(err, tg.ErrFileTooBig) {
		return err
	}
	return &DeliveryError{Op: op, Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
