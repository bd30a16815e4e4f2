package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/prilive-com/ezsticker/internal/scrub"
	"github.com/prilive-com/ezsticker/tg"
)

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// DeleteWebhook removes any webhook so getUpdates can be used.
func DeleteWebhook(ctx context.Context, client *http.Client, baseURL string, token tg.SecretToken, dropPending bool) error {
	if client == nil {
		client = http.DefaultClient
	}

	apiURL := fmt.Sprintf("%s/bot%s/deleteWebhook?drop_pending_updates=%t",
		baseURL, token.Value(), dropPending)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", scrub.TokenFromError(err, token))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", scrub.TokenFromError(err, token))
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !result.OK {
		return &APIError{
			Code:        result.ErrorCode,
			Description: result.Description,
		}
	}

	return nil
}
