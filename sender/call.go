package sender

import (
	"context"
	"encoding/json"
	"fmt"
)

// callJSON runs method through executeRequest and decodes the result into
// out. A nil out discards the result (methods returning true).
func (c *Client) callJSON(ctx context.Context, method string, payload any, out any, chatIDs ...string) error {
	resp, err := c.executeRequest(ctx, method, payload, chatIDs...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("ezsticker: %s: failed to parse response: %w", method, err)
	}
	return nil
}

// callJSONResult is the generic form of callJSON.
//
//	file, err := callJSONResult[tg.File](c, ctx, "getFile", req)
func callJSONResult[T any](c *Client, ctx context.Context, method string, payload any, chatIDs ...string) (T, error) {
	var result T
	if err := c.callJSON(ctx, method, payload, &result, chatIDs...); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
