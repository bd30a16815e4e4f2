package tg

// InlineQueryResult represents one result of an inline query.
// The bot only answers with articles (sharing) and cached documents
// (forwarding a converted sticker file).
type InlineQueryResult interface {
	inlineQueryResultTag()
	GetType() string
}

// InlineQueryResultArticle represents a link to an article or web page.
type InlineQueryResultArticle struct {
	Type                string                `json:"type"` // Always "article"
	ID                  string                `json:"id"`
	Title               string                `json:"title"`
	InputMessageContent InputMessageContent   `json:"input_message_content"`
	ReplyMarkup         *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
	URL                 string                `json:"url,omitempty"`
	Description         string                `json:"description,omitempty"`
	ThumbnailURL        string                `json:"thumbnail_url,omitempty"`
}

func (InlineQueryResultArticle) inlineQueryResultTag() {}
func (InlineQueryResultArticle) GetType() string       { return "article" }

// InlineQueryResultCachedDocument represents a file already stored on the
// Telegram servers, identified by its file_id.
type InlineQueryResultCachedDocument struct {
	Type           string                `json:"type"` // Always "document"
	ID             string                `json:"id"`
	Title          string                `json:"title"`
	DocumentFileID string                `json:"document_file_id"`
	Description    string                `json:"description,omitempty"`
	Caption        string                `json:"caption,omitempty"`
	ParseMode      ParseMode             `json:"parse_mode,omitempty"`
	ReplyMarkup    *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

func (InlineQueryResultCachedDocument) inlineQueryResultTag() {}
func (InlineQueryResultCachedDocument) GetType() string       { return "document" }

// InputMessageContent represents the content of a message to be sent
// as a result of an inline query.
type InputMessageContent interface {
	inputMessageContentTag()
}

// InputTextMessageContent represents text content for an inline query result.
type InputTextMessageContent struct {
	MessageText           string    `json:"message_text"`
	ParseMode             ParseMode `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool      `json:"disable_web_page_preview,omitempty"`
}

func (InputTextMessageContent) inputMessageContentTag() {}

// InlineQueryResultsButton represents a button above inline query results.
type InlineQueryResultsButton struct {
	Text           string `json:"text"`
	StartParameter string `json:"start_parameter,omitempty"`
}
