// Package coordinator serves one media request end to end: cooldown check,
// input resolution, conversion, delivery and bookkeeping.
package coordinator

import (
	"context"
	"errors"
	"html"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prilive-com/ezsticker/internal/cooldown"
	"github.com/prilive-com/ezsticker/internal/fetch"
	"github.com/prilive-com/ezsticker/internal/i18n"
	"github.com/prilive-com/ezsticker/internal/metrics"
	"github.com/prilive-com/ezsticker/internal/transform"
	"github.com/prilive-com/ezsticker/internal/userstore"
	"github.com/prilive-com/ezsticker/sender"
	"github.com/prilive-com/ezsticker/tg"
)

// Kind is the kind of media in a MediaEvent.
type Kind int

const (
	KindPhoto Kind = iota + 1
	KindDocument
	KindSticker
	KindAnimatedSticker
	KindVideo
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindDocument:
		return "document"
	case KindSticker:
		return "sticker"
	case KindAnimatedSticker:
		return "animated_sticker"
	case KindVideo:
		return "video"
	case KindURL:
		return "url"
	}
	return "unknown"
}

// MediaEvent is one convertible message.
type MediaEvent struct {
	UserID       string
	ChatID       int64
	MessageID    int
	Lang         string
	Kind         Kind
	FileID       string
	FileUniqueID string
	URL          string
	MIME         string
	Size         int64
}

// Messenger is the part of the Bot API client the coordinator uses.
type Messenger interface {
	SendMessage(ctx context.Context, req sender.SendMessageRequest) (*tg.Message, error)
	SendDocument(ctx context.Context, req sender.SendDocumentRequest) (*tg.Message, error)
	EditMessageReplyMarkup(ctx context.Context, req sender.EditMessageReplyMarkupRequest) (*tg.Message, error)
	SendChatAction(ctx context.Context, chatID tg.ChatID, action tg.ChatAction) error
	Download(ctx context.Context, fileID string, w io.Writer) (*tg.File, error)
}

// Fetcher downloads an image URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Transcoder converts a video file to a WebM sticker.
type Transcoder interface {
	Transcode(ctx context.Context, in, out string) (*transform.VideoInfo, error)
}

// Config holds request limits.
type Config struct {
	MaxFileSize     int64
	DeliveryTimeout time.Duration
	TempDir         string
	// DonateInterval suggests /donate every this many uses. 0 disables it.
	DonateInterval int
}

// Deps are the collaborators every Coordinator needs.
type Deps struct {
	Bot      Messenger
	Store    userstore.Store
	Sessions *userstore.Sessions
	Tracker  *cooldown.Tracker
	Catalog  *i18n.Catalog
}

// Coordinator handles media events.
type Coordinator struct {
	cfg        Config
	bot        Messenger
	store      userstore.Store
	sessions   *userstore.Sessions
	tracker    *cooldown.Tracker
	catalog    *i18n.Catalog
	fetcher    Fetcher
	transcoder Transcoder
	cache      Cache
	metrics    metrics.Recorder
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithFetcher sets the URL fetcher.
func WithFetcher(f Fetcher) Option {
	return func(c *Coordinator) { c.fetcher = f }
}

// WithTranscoder sets the video transcoder.
func WithTranscoder(t Transcoder) Option {
	return func(c *Coordinator) { c.transcoder = t }
}

// WithCache sets the conversion cache.
func WithCache(cache Cache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a Coordinator.
func New(cfg Config, deps Deps, opts ...Option) *Coordinator {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	c := &Coordinator{
		cfg:        cfg,
		bot:        deps.Bot,
		store:      deps.Store,
		sessions:   deps.Sessions,
		tracker:    deps.Tracker,
		catalog:    deps.Catalog,
		fetcher:    fetch.New(fetch.DefaultConfig()),
		transcoder: transform.NewVideoTranscoder("ffmpeg", "ffprobe"),
		cache:      noopCache{},
		metrics:    metrics.Noop(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle serves ev. Failures are reported to the user and never returned.
func (c *Coordinator) Handle(ctx context.Context, ev MediaEvent) {
	start := time.Now()
	logger := c.logger.With("user_id", ev.UserID, "kind", ev.Kind.String())

	slot, on, minutes, seconds := c.tracker.Reserve(ev.UserID)
	if on {
		c.metrics.IncCooldownRejections()
		c.fail(ctx, logger, ev, &RateLimitedError{
			Max:     c.tracker.Max(),
			Window:  int(c.tracker.Window() / time.Minute),
			Minutes: minutes,
			Seconds: seconds,
		})
		return
	}
	defer slot.Release()

	mode := transform.ModeSticker
	if c.sessions.IconMode(ev.UserID) {
		mode = transform.ModeIcon
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.DeliveryTimeout)
	defer cancel()

	var err error
	switch ev.Kind {
	case KindAnimatedSticker:
		err = c.passThroughAnimated(reqCtx, ev)
	case KindVideo:
		err = c.convertVideo(reqCtx, ev)
	case KindDocument:
		if isVideoMIME(ev.MIME) {
			err = c.convertVideo(reqCtx, ev)
			break
		}
		err = c.convertImage(reqCtx, ev, mode)
	case KindPhoto, KindSticker, KindURL:
		err = c.convertImage(reqCtx, ev, mode)
	default:
		err = errors.New("ezsticker: unknown media kind")
	}
	if err != nil {
		slot.Release()
		c.fail(ctx, logger, ev, err)
		return
	}

	slot.Commit()
	c.succeed(ctx, logger, ev, mode)
	c.metrics.ObserveConversionDuration(ev.Kind.String(), time.Since(start))
}

func (c *Coordinator) succeed(ctx context.Context, logger *slog.Logger, ev MediaEvent, mode transform.Mode) {
	if mode == transform.ModeIcon && usesMode(ev) {
		c.sessions.SetIconMode(ev.UserID, false)
	}
	c.metrics.IncConversions(ev.Kind.String(), mode.String())

	rec, err := c.store.IncrementUsage(ctx, ev.UserID)
	if err != nil {
		logger.Error("failed to record usage", "error", err)
		return
	}
	logger.Info("conversion delivered", "mode", mode.String(), "uses", rec.Uses)

	if n := int64(c.cfg.DonateInterval); n > 0 && rec.Uses%n == 0 {
		c.reply(ctx, ev, c.catalog.Format(ev.Lang, "donate_suggest", rec.Uses))
	}
}

// usesMode reports whether the event went through the image transform,
// where icon mode applies.
func usesMode(ev MediaEvent) bool {
	switch ev.Kind {
	case KindAnimatedSticker, KindVideo:
		return false
	case KindDocument:
		return !isVideoMIME(ev.MIME)
	}
	return true
}

func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, ev MediaEvent, err error) {
	key, args, silent := c.failureMessage(ev, err)
	c.metrics.IncFailures(key)
	if silent {
		logger.Debug("recipient unreachable, dropping reply", "error", err)
		return
	}
	logger.Warn("media request failed", "reason", key, "error", err)

	if key == "doc_not_img" || key == "file_too_large" {
		c.chatAction(ctx, ev.ChatID, tg.ActionTyping)
	}
	c.reply(ctx, ev, c.catalog.Format(ev.Lang, key, args...))
}

// failureMessage maps err to a catalog key and its arguments. silent is
// true when nothing should be sent.
func (c *Coordinator) failureMessage(ev MediaEvent, err error) (key string, args []any, silent bool) {
	var (
		limited   *RateLimitedError
		oversized *OversizedError
		fetchErr  *fetch.Error
		delivery  *DeliveryError
	)
	link := html.EscapeString(ev.URL)

	switch {
	case errors.As(err, &limited):
		return "spam_limit_reached", []any{limited.Max, limited.Window, limited.Minutes, limited.Seconds}, false
	case errors.Is(err, fetch.ErrTooManyURLs):
		return "too_many_urls", nil, false
	case errors.Is(err, errDocumentNotImage):
		return "doc_not_img", nil, false
	case errors.As(err, &oversized), errors.Is(err, fetch.ErrTooLarge), errors.Is(err, tg.ErrFileTooBig):
		return "file_too_large", nil, false
	case errors.As(err, &fetchErr):
		if fetchErr.URL != "" {
			link = html.EscapeString(fetchErr.URL)
		}
		switch fetchErr.Kind {
		case fetch.KindInvalidURL:
			return "invalid_url", []any{link}, false
		case fetch.KindNotExist:
			return "url_does_not_exist", []any{link}, false
		case fetch.KindTimeout:
			return "url_timeout", []any{link}, false
		default:
			return "unable_to_connect", []any{link}, false
		}
	case errors.Is(err, transform.ErrUnsupportedMedia):
		if ev.Kind == KindURL {
			return "url_not_img", []any{link}, false
		}
		return "not_img", nil, false
	case errors.As(err, &delivery):
		if delivery.Unreachable() {
			return "unreachable", nil, true
		}
		if delivery.Timeout {
			return "send_timeout", nil, false
		}
		return "send_failed", nil, false
	case isTimeout(err):
		return "send_timeout", nil, false
	}
	return "send_failed", nil, false
}

func (c *Coordinator) reply(ctx context.Context, ev MediaEvent, text string) {
	_, err := c.bot.SendMessage(ctx, sender.SendMessageRequest{
		ChatID:    ev.ChatID,
		Text:      text,
		ParseMode: tg.ParseModeHTML,
	})
	if err != nil {
		c.logger.Warn("failed to send reply", "user_id", ev.UserID, "error", err)
	}
}

func (c *Coordinator) chatAction(ctx context.Context, chatID int64, action tg.ChatAction) {
	if err := c.bot.SendChatAction(ctx, chatID, action); err != nil {
		c.logger.Debug("chat action failed", "chat_id", chatID, "error", err)
	}
}
