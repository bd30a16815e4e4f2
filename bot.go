package ezsticker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prilive-com/ezsticker/receiver"
	"github.com/prilive-com/ezsticker/sender"
	"github.com/prilive-com/ezsticker/tg"
)

// Bot combines the long polling receiver and the Bot API sender.
type Bot struct {
	token    tg.SecretToken
	logger   *slog.Logger
	receiver *receiver.PollingClient
	sender   *sender.Client
	updates  chan tg.Update
	config   botConfig

	closeOnce sync.Once
	closeErr  error
}

type botConfig struct {
	// Polling settings
	pollingTimeout   int
	pollingLimit     int
	pollingMaxErrors int
	deleteWebhook    bool
	allowedUpdates   []string

	senderConfig   sender.Config
	receiverConfig receiver.Config

	updateBufferSize int

	logger *slog.Logger
}

// Option configures the Bot.
type Option func(*botConfig)

// WithPolling sets the long polling timeout in seconds and the batch limit.
func WithPolling(timeout, limit int) Option {
	return func(c *botConfig) {
		c.pollingTimeout = timeout
		c.pollingLimit = limit
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *botConfig) {
		c.logger = logger
	}
}

// WithBaseURL points both directions at another Bot API server.
func WithBaseURL(url string) Option {
	return func(c *botConfig) {
		c.senderConfig.BaseURL = url
		c.receiverConfig.BaseURL = url
	}
}

// WithRequestTimeout sets the timeout of outgoing API calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *botConfig) {
		c.senderConfig.RequestTimeout = d
	}
}

// WithRetries sets max retry attempts.
func WithRetries(max int) Option {
	return func(c *botConfig) {
		c.senderConfig.MaxRetries = max
	}
}

// WithRateLimit sets the global send rate.
func WithRateLimit(globalRPS float64, burst int) Option {
	return func(c *botConfig) {
		c.senderConfig.GlobalRPS = globalRPS
		c.senderConfig.GlobalBurst = burst
	}
}

// WithPerChatRateLimit sets the send rate to a single chat.
func WithPerChatRateLimit(rps float64, burst int) Option {
	return func(c *botConfig) {
		c.senderConfig.PerChatRPS = rps
		c.senderConfig.PerChatBurst = burst
	}
}

// WithMaxDownloadSize caps file downloads.
func WithMaxDownloadSize(n int64) Option {
	return func(c *botConfig) {
		c.senderConfig.MaxDownloadSize = n
	}
}

// WithPollingMaxErrors sets max consecutive errors.
func WithPollingMaxErrors(max int) Option {
	return func(c *botConfig) {
		c.pollingMaxErrors = max
	}
}

// WithAllowedUpdates filters update types.
func WithAllowedUpdates(types ...string) Option {
	return func(c *botConfig) {
		c.allowedUpdates = types
	}
}

// WithDeleteWebhook deletes existing webhook before polling.
func WithDeleteWebhook(delete bool) Option {
	return func(c *botConfig) {
		c.deleteWebhook = delete
	}
}

// WithUpdateBufferSize sets the updates channel buffer size.
func WithUpdateBufferSize(size int) Option {
	return func(c *botConfig) {
		c.updateBufferSize = size
	}
}

// New creates a Bot.
func New(token string, opts ...Option) (*Bot, error) {
	if token == "" {
		return nil, tg.ErrInvalidToken
	}

	rcfg := receiver.DefaultConfig()
	cfg := botConfig{
		pollingTimeout:   rcfg.PollingTimeout,
		pollingLimit:     rcfg.PollingLimit,
		pollingMaxErrors: 10,
		deleteWebhook:    true,
		allowedUpdates:   rcfg.AllowedUpdates,
		updateBufferSize: rcfg.UpdateBufferSize,
		senderConfig:     sender.DefaultConfig(),
		receiverConfig:   rcfg,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	secretToken := tg.SecretToken(token)
	cfg.senderConfig.Token = secretToken
	cfg.receiverConfig.Token = secretToken
	cfg.receiverConfig.PollingTimeout = cfg.pollingTimeout
	cfg.receiverConfig.PollingLimit = cfg.pollingLimit
	cfg.receiverConfig.PollingMaxErrors = cfg.pollingMaxErrors
	cfg.receiverConfig.DeleteWebhookFirst = cfg.deleteWebhook
	cfg.receiverConfig.AllowedUpdates = cfg.allowedUpdates

	if err := cfg.receiverConfig.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	senderClient, err := sender.NewFromConfig(cfg.senderConfig, sender.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	updates := make(chan tg.Update, cfg.updateBufferSize)

	return &Bot{
		token:    secretToken,
		logger:   logger,
		sender:   senderClient,
		updates:  updates,
		config:   cfg,
		receiver: receiver.NewPollingClient(secretToken, updates, logger, cfg.receiverConfig),
	}, nil
}

// Start begins receiving updates.
func (b *Bot) Start(ctx context.Context) error {
	return b.receiver.Start(ctx)
}

// Stop stops polling. Updates already buffered stay readable.
func (b *Bot) Stop() {
	b.receiver.Stop()
}

// Close stops polling, closes the updates channel and releases the sender.
// It is safe to call more than once.
func (b *Bot) Close() error {
	b.closeOnce.Do(func() {
		b.receiver.Stop()
		close(b.updates)
		b.closeErr = b.sender.Close()
	})
	return b.closeErr
}

// Updates returns the updates channel. It is closed by Close.
func (b *Bot) Updates() <-chan tg.Update {
	return b.updates
}

// IsHealthy reports whether polling is running without tripped breakers.
func (b *Bot) IsHealthy() bool {
	return b.receiver.IsHealthy()
}

// Me returns the bot's own account.
func (b *Bot) Me(ctx context.Context) (*tg.User, error) {
	return b.sender.GetMe(ctx)
}

// Sender returns the underlying sender client.
func (b *Bot) Sender() *sender.Client {
	return b.sender
}

// SendMessage sends a text message.
func (b *Bot) SendMessage(ctx context.Context, chatID tg.ChatID, text string, opts ...SendOption) (*tg.Message, error) {
	req := sender.SendMessageRequest{
		ChatID: chatID,
		Text:   text,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return b.sender.SendMessage(ctx, req)
}

// SendOption configures send message requests.
type SendOption func(*sender.SendMessageRequest)

// WithParseMode sets the parse mode.
func WithParseMode(mode tg.ParseMode) SendOption {
	return func(r *sender.SendMessageRequest) {
		r.ParseMode = mode
	}
}

// WithKeyboard sets the inline keyboard.
func WithKeyboard(kb *tg.InlineKeyboardMarkup) SendOption {
	return func(r *sender.SendMessageRequest) {
		r.ReplyMarkup = kb
	}
}

// WithReplyTo sets the reply-to message ID.
func WithReplyTo(messageID int) SendOption {
	return func(r *sender.SendMessageRequest) {
		r.ReplyToMessageID = messageID
	}
}

// Silent disables notification.
func Silent() SendOption {
	return func(r *sender.SendMessageRequest) {
		r.DisableNotification = true
	}
}
