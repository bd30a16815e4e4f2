package sender

import (
	"context"

	"github.com/prilive-com/ezsticker/tg"
)

// SendMessage sends a text message. Retried on 429 and 5xx.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*tg.Message, error) {
	if err := validateChatID(req.ChatID); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, tg.NewValidationError("text", "required")
	}
	return withRetry(c, ctx, func() (*tg.Message, error) {
		resp, err := c.executeRequest(ctx, "sendMessage", req, extractChatID(req.ChatID))
		if err != nil {
			return nil, err
		}
		return parseMessage(resp)
	})
}

// SendDocument uploads or re-sends a document. Uploads built with FromBytes
// are retry-safe; a plain reader is sent once.
func (c *Client) SendDocument(ctx context.Context, req SendDocumentRequest) (*tg.Message, error) {
	if err := validateChatID(req.ChatID); err != nil {
		return nil, err
	}
	if req.Document.IsEmpty() {
		return nil, tg.NewValidationError("document", "required")
	}
	send := func() (*tg.Message, error) {
		resp, err := c.executeRequest(ctx, "sendDocument", req, extractChatID(req.ChatID))
		if err != nil {
			return nil, err
		}
		return parseMessage(resp)
	}
	if req.Document.Reader != nil && req.Document.Source == nil {
		return send()
	}
	return withRetry(c, ctx, send)
}

// EditMessageText edits message text.
func (c *Client) EditMessageText(ctx context.Context, req EditMessageTextRequest) (*tg.Message, error) {
	resp, err := c.executeRequest(ctx, "editMessageText", req, extractChatID(req.ChatID))
	if err != nil {
		return nil, err
	}
	return parseMessage(resp)
}

// EditMessageReplyMarkup replaces the inline keyboard of a message.
func (c *Client) EditMessageReplyMarkup(ctx context.Context, req EditMessageReplyMarkupRequest) (*tg.Message, error) {
	resp, err := c.executeRequest(ctx, "editMessageReplyMarkup", req, extractChatID(req.ChatID))
	if err != nil {
		return nil, err
	}
	return parseMessage(resp)
}

// AnswerCallbackQuery answers a callback query.
func (c *Client) AnswerCallbackQuery(ctx context.Context, req AnswerCallbackQueryRequest) error {
	if req.CallbackQueryID == "" {
		return tg.NewValidationError("callback_query_id", "required")
	}
	return c.callJSON(ctx, "answerCallbackQuery", req, nil)
}

// AnswerInlineQuery sends answers to an inline query.
func (c *Client) AnswerInlineQuery(ctx context.Context, req AnswerInlineQueryRequest) error {
	if req.InlineQueryID == "" {
		return tg.NewValidationError("inline_query_id", "required")
	}
	if len(req.Results) == 0 {
		return tg.NewValidationError("results", "at least one result required")
	}
	return c.callJSON(ctx, "answerInlineQuery", req, nil)
}

// SendChatAction shows a status such as "typing" in the chat header.
func (c *Client) SendChatAction(ctx context.Context, chatID tg.ChatID, action tg.ChatAction) error {
	if err := validateChatID(chatID); err != nil {
		return err
	}
	return c.callJSON(ctx, "sendChatAction", SendChatActionRequest{
		ChatID: chatID,
		Action: action,
	}, nil, extractChatID(chatID))
}

// GetFile resolves a file_id to a downloadable file path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*tg.File, error) {
	if fileID == "" {
		return nil, tg.NewValidationError("file_id", "required")
	}
	file, err := callJSONResult[tg.File](c, ctx, "getFile", GetFileRequest{FileID: fileID})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*tg.User, error) {
	user, err := callJSONResult[tg.User](c, ctx, "getMe", struct{}{})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
