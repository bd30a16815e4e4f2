package sender

import "github.com/prilive-com/ezsticker/tg"

// SendMessageRequest represents a sendMessage request.
type SendMessageRequest struct {
	ChatID                tg.ChatID                `json:"chat_id"`
	Text                  string                   `json:"text"`
	ParseMode             tg.ParseMode             `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                     `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool                     `json:"disable_notification,omitempty"`
	ReplyToMessageID      int                      `json:"reply_to_message_id,omitempty"`
	ReplyMarkup           *tg.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendDocumentRequest represents a sendDocument request.
type SendDocumentRequest struct {
	ChatID                      tg.ChatID                `json:"chat_id"`
	Document                    InputFile                `json:"document"`
	Caption                     string                   `json:"caption,omitempty"`
	ParseMode                   tg.ParseMode             `json:"parse_mode,omitempty"`
	DisableContentTypeDetection bool                     `json:"disable_content_type_detection,omitempty"`
	ReplyToMessageID            int                      `json:"reply_to_message_id,omitempty"`
	ReplyMarkup                 *tg.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageTextRequest represents an editMessageText request.
type EditMessageTextRequest struct {
	ChatID          tg.ChatID                `json:"chat_id,omitempty"`
	MessageID       int                      `json:"message_id,omitempty"`
	InlineMessageID string                   `json:"inline_message_id,omitempty"`
	Text            string                   `json:"text"`
	ParseMode       tg.ParseMode             `json:"parse_mode,omitempty"`
	ReplyMarkup     *tg.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageReplyMarkupRequest represents an editMessageReplyMarkup request.
type EditMessageReplyMarkupRequest struct {
	ChatID          tg.ChatID                `json:"chat_id,omitempty"`
	MessageID       int                      `json:"message_id,omitempty"`
	InlineMessageID string                   `json:"inline_message_id,omitempty"`
	ReplyMarkup     *tg.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// AnswerCallbackQueryRequest represents an answerCallbackQuery request.
type AnswerCallbackQueryRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert,omitempty"`
	CacheTime       int    `json:"cache_time,omitempty"`
}

// AnswerInlineQueryRequest represents an answerInlineQuery request.
type AnswerInlineQueryRequest struct {
	InlineQueryID string                       `json:"inline_query_id"`
	Results       []tg.InlineQueryResult       `json:"results"`
	CacheTime     int                          `json:"cache_time,omitempty"`
	IsPersonal    bool                         `json:"is_personal,omitempty"`
	NextOffset    string                       `json:"next_offset,omitempty"`
	Button        *tg.InlineQueryResultsButton `json:"button,omitempty"`
}

// SendChatActionRequest represents a sendChatAction request.
type SendChatActionRequest struct {
	ChatID tg.ChatID     `json:"chat_id"`
	Action tg.ChatAction `json:"action"`
}

// GetFileRequest represents a getFile request.
type GetFileRequest struct {
	FileID string `json:"file_id"`
}
