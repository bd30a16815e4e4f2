package sender

import (
	"fmt"

	"github.com/prilive-com/ezsticker/tg"
)

// validateChatID rejects missing, zero and unsupported chat identifiers.
func validateChatID(id tg.ChatID) error {
	switch v := id.(type) {
	case nil:
		return tg.NewValidationError("chat_id", "required")
	case int64:
		if v == 0 {
			return tg.NewValidationError("chat_id", "cannot be zero")
		}
	case int:
		if v == 0 {
			return tg.NewValidationError("chat_id", "cannot be zero")
		}
	case string:
		if v == "" {
			return tg.NewValidationError("chat_id", "cannot be empty string")
		}
	default:
		return tg.NewValidationError("chat_id", fmt.Sprintf("must be int64, int, or string, got %T", id))
	}
	return nil
}
