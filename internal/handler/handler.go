// Package handler routes Telegram updates: commands and callbacks are
// answered here, convertible media is handed to the coordinator and inline
// queries are answered with share or forward results.
package handler

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/prilive-com/ezsticker/internal/broadcast"
	"github.com/prilive-com/ezsticker/internal/config"
	"github.com/prilive-com/ezsticker/internal/coordinator"
	"github.com/prilive-com/ezsticker/internal/i18n"
	"github.com/prilive-com/ezsticker/internal/metrics"
	"github.com/prilive-com/ezsticker/internal/syncutil"
	"github.com/prilive-com/ezsticker/internal/userstore"
	"github.com/prilive-com/ezsticker/sender"
	"github.com/prilive-com/ezsticker/tg"
)

// Messenger is the part of the Bot API client the handler uses.
type Messenger interface {
	SendMessage(ctx context.Context, req sender.SendMessageRequest) (*tg.Message, error)
	SendDocument(ctx context.Context, req sender.SendDocumentRequest) (*tg.Message, error)
	EditMessageText(ctx context.Context, req sender.EditMessageTextRequest) (*tg.Message, error)
	SendChatAction(ctx context.Context, chatID tg.ChatID, action tg.ChatAction) error
	AnswerCallbackQuery(ctx context.Context, req sender.AnswerCallbackQueryRequest) error
	AnswerInlineQuery(ctx context.Context, req sender.AnswerInlineQueryRequest) error
	GetFile(ctx context.Context, fileID string) (*tg.File, error)
}

// MediaHandler converts one media event.
type MediaHandler interface {
	Handle(ctx context.Context, ev coordinator.MediaEvent)
}

// Broadcaster schedules admin announcements.
type Broadcaster interface {
	Trigger(ctx context.Context, job broadcast.Job) (string, error)
}

// Config holds the settings commands read.
type Config struct {
	Admins         []int64
	AllowedChatIDs []int64
	// BotUsername is shown in share texts, without the leading @.
	BotUsername string
	Token       tg.SecretToken
	LogFile     string
	Links       config.Links
	Donate      config.Donate
	Workers     int
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Bot       Messenger
	Store     userstore.Store
	Sessions  *userstore.Sessions
	Catalog   *i18n.Catalog
	Media     MediaHandler
	Broadcast Broadcaster
}

// Handler dispatches updates.
type Handler struct {
	cfg       Config
	bot       Messenger
	store     userstore.Store
	sessions  *userstore.Sessions
	catalog   *i18n.Catalog
	media     MediaHandler
	broadcast Broadcaster
	metrics   metrics.Recorder
	logger    *slog.Logger
	shutdown  func()
	logReader func() (io.ReadCloser, error)

	commands map[string]commandFunc
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithShutdown sets the function /restart calls.
func WithShutdown(fn func()) Option {
	return func(h *Handler) { h.shutdown = fn }
}

// New creates a Handler.
func New(cfg Config, deps Deps, opts ...Option) *Handler {
	if cfg.Workers < 1 {
		cfg.Workers = 10
	}
	h := &Handler{
		cfg:       cfg,
		bot:       deps.Bot,
		store:     deps.Store,
		sessions:  deps.Sessions,
		catalog:   deps.Catalog,
		media:     deps.Media,
		broadcast: deps.Broadcast,
		metrics:   metrics.Noop(),
		logger:    slog.Default(),
		shutdown:  func() {},
	}
	h.logReader = h.openLog
	for _, opt := range opts {
		opt(h)
	}
	h.commands = h.commandTable()
	return h
}

// Run handles updates on a bounded worker pool until updates is closed or
// ctx ends, then waits for in-flight handlers.
func (h *Handler) Run(ctx context.Context, updates <-chan tg.Update) {
	pool := syncutil.NewPool(h.cfg.Workers)
	defer pool.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := pool.Submit(ctx, func() { h.HandleUpdate(ctx, u) }); err != nil {
				return
			}
		}
	}
}

// HandleUpdate serves one update synchronously.
func (h *Handler) HandleUpdate(ctx context.Context, u tg.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panic", "update_id", u.UpdateID, "panic", r)
		}
	}()

	switch {
	case u.Message != nil:
		h.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		h.handleCallback(ctx, u.CallbackQuery)
	case u.InlineQuery != nil:
		h.handleInlineQuery(ctx, u.InlineQuery)
	case u.ChosenInlineResult != nil:
		h.handleChosenResult(ctx, u.ChosenInlineResult)
	}
}

func (h *Handler) chatAllowed(chatID int64) bool {
	return len(h.cfg.AllowedChatIDs) == 0 || slices.Contains(h.cfg.AllowedChatIDs, chatID)
}

func (h *Handler) isAdmin(userID int64) bool {
	return slices.Contains(h.cfg.Admins, userID)
}

// user loads or creates the record of u, detecting the language on first
// contact.
func (h *Handler) user(ctx context.Context, u *tg.User) (userstore.Record, error) {
	hint := userstore.LanguageHint(h.catalog.Match(u.LanguageCode))
	return h.store.GetOrCreate(ctx, u.Key(), hint)
}

func (h *Handler) handleMessage(ctx context.Context, msg *tg.Message) {
	if !msg.Chat.IsPrivate() || msg.From == nil {
		return
	}
	if !h.chatAllowed(msg.Chat.ID) {
		h.logger.Info("unauthorized chat", "chat_id", msg.Chat.ID, "username", msg.From.Username)
		return
	}

	rec, err := h.user(ctx, msg.From)
	if err != nil {
		h.logger.Error("load user", "user_id", msg.From.ID, "error", err)
		return
	}
	req := &request{msg: msg, user: msg.From, rec: rec}

	if name, args, ok := msg.Command(); ok {
		h.runCommand(ctx, req, name, args)
		return
	}

	if ev, ok := mediaEvent(msg, rec.Lang); ok {
		h.media.Handle(ctx, ev)
		return
	}

	h.typing(ctx, msg.Chat.ID)
	h.reply(ctx, req, h.text(req, "cant_process"))
	h.reply(ctx, req, h.text(req, "send_sticker_photo"))
}

// mediaEvent builds the conversion request a message carries, if any.
func mediaEvent(msg *tg.Message, lang string) (coordinator.MediaEvent, bool) {
	ev := coordinator.MediaEvent{
		UserID:    msg.From.Key(),
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Lang:      lang,
	}

	switch {
	case msg.Document != nil:
		ev.Kind = coordinator.KindDocument
		ev.FileID = msg.Document.FileID
		ev.FileUniqueID = msg.Document.FileUniqueID
		ev.MIME = msg.Document.MimeType
		ev.Size = msg.Document.FileSize
	case msg.Video != nil:
		ev.Kind = coordinator.KindVideo
		ev.FileID = msg.Video.FileID
		ev.FileUniqueID = msg.Video.FileUniqueID
		ev.MIME = msg.Video.MimeType
		ev.Size = msg.Video.FileSize
	case len(msg.Photo) > 0:
		p := msg.LargestPhoto()
		ev.Kind = coordinator.KindPhoto
		ev.FileID = p.FileID
		ev.FileUniqueID = p.FileUniqueID
		ev.Size = p.FileSize
	case msg.Sticker != nil:
		s := msg.Sticker
		switch {
		case s.IsAnimated:
			ev.Kind = coordinator.KindAnimatedSticker
		case s.IsVideo:
			ev.Kind = coordinator.KindVideo
		default:
			ev.Kind = coordinator.KindSticker
		}
		ev.FileID = s.FileID
		ev.FileUniqueID = s.FileUniqueID
		ev.Size = s.FileSize
	case strings.TrimSpace(msg.Text) != "":
		ev.Kind = coordinator.KindURL
		ev.URL = strings.TrimSpace(msg.Text)
	default:
		return ev, false
	}
	return ev, true
}

// request is one incoming message with its sender's record.
type request struct {
	msg  *tg.Message
	user *tg.User
	rec  userstore.Record
}

func (h *Handler) text(req *request, key string, args ...any) string {
	if len(args) == 0 {
		return h.catalog.Get(req.rec.Lang, key)
	}
	return h.catalog.Format(req.rec.Lang, key, args...)
}

func (h *Handler) reply(ctx context.Context, req *request, text string, opts ...replyOption) {
	r := sender.SendMessageRequest{
		ChatID:    req.msg.Chat.ID,
		Text:      text,
		ParseMode: tg.ParseModeHTML,
	}
	for _, opt := range opts {
		opt(&r)
	}
	if _, err := h.bot.SendMessage(ctx, r); err != nil {
		h.logger.Warn("reply failed", "chat_id", req.msg.Chat.ID, "error", err)
	}
}

type replyOption func(*sender.SendMessageRequest)

func withKeyboard(kb *tg.InlineKeyboardMarkup) replyOption {
	return func(r *sender.SendMessageRequest) { r.ReplyMarkup = kb }
}

func withoutPreview() replyOption {
	return func(r *sender.SendMessageRequest) { r.DisableWebPagePreview = true }
}

func (h *Handler) typing(ctx context.Context, chatID int64) {
	h.action(ctx, chatID, tg.ActionTyping)
}

func (h *Handler) action(ctx context.Context, chatID int64, action tg.ChatAction) {
	if err := h.bot.SendChatAction(ctx, chatID, action); err != nil {
		h.logger.Debug("chat action failed", "chat_id", chatID, "error", err)
	}
}
