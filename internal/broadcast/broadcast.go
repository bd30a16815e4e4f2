// Package broadcast sends an admin announcement to every opted-in user in
// throttled batches.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/prilive-com/ezsticker/internal/i18n"
	"github.com/prilive-com/ezsticker/internal/metrics"
	"github.com/prilive-com/ezsticker/internal/userstore"
	"github.com/prilive-com/ezsticker/internal/validate"
	"github.com/prilive-com/ezsticker/sender"
	"github.com/prilive-com/ezsticker/tg"
)

// ErrRecipientUnreachable marks a recipient that blocked the bot, was
// deactivated or never opened a chat.
var ErrRecipientUnreachable = errors.New("ezsticker: recipient unreachable")

// ErrBusy is returned when another broadcast is scheduled or running.
var ErrBusy = errors.New("ezsticker: broadcast already running")

// Messenger sends text messages.
type Messenger interface {
	SendMessage(ctx context.Context, req sender.SendMessageRequest) (*tg.Message, error)
}

// Sleeper waits between batches.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config holds broadcast throttling.
type Config struct {
	BatchSize  int
	Interval   time.Duration
	StartDelay time.Duration
	// OverrideOptOut sends to every user regardless of opt_in.
	OverrideOptOut bool
	// SendOptOutMessage follows each announcement with opt_out_info.
	SendOptOutMessage bool
}

// Job is one announcement. Text is HTML. ID names the trigger source;
// duplicate deliveries of one trigger carry the same ID.
type Job struct {
	ID   string
	Text string
}

// Report summarises a finished job.
type Report struct {
	Recipients  int
	Sent        int
	Failed      int
	Unreachable int
	Skipped     int
	Pauses      int
}

// Dispatcher runs broadcast jobs.
type Dispatcher struct {
	cfg     Config
	bot     Messenger
	store   userstore.Store
	catalog *i18n.Catalog
	sleeper Sleeper
	metrics metrics.Recorder
	logger  *slog.Logger

	jobs    singleflight.Group
	running atomic.Bool
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithSleeper replaces the real timer, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) { d.sleeper = s }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher.
func New(cfg Config, bot Messenger, store userstore.Store, catalog *i18n.Catalog, opts ...Option) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	d := &Dispatcher{
		cfg:     cfg,
		bot:     bot,
		store:   store,
		catalog: catalog,
		sleeper: realSleeper{},
		metrics: metrics.Noop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Busy reports whether a job is scheduled or running.
func (d *Dispatcher) Busy() bool {
	return d.running.Load()
}

// Trigger claims the dispatcher and runs job in the background after the
// configured start delay. It returns the job id, or ErrBusy while another
// job holds the dispatcher. An empty job id is replaced by a new one.
func (d *Dispatcher) Trigger(ctx context.Context, job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if err := validate.Text(job.Text); err != nil {
		return "", err
	}
	if !d.running.CompareAndSwap(false, true) {
		return job.ID, ErrBusy
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.running.Store(false)
		if d.cfg.StartDelay > 0 {
			if err := d.sleeper.Sleep(ctx, d.cfg.StartDelay); err != nil {
				d.logger.Warn("broadcast canceled before start", "job_id", job.ID, "error", err)
				return
			}
		}
		if _, err := d.run(ctx, job); err != nil {
			d.logger.Error("broadcast failed", "job_id", job.ID, "error", err)
		}
	}()
	return job.ID, nil
}

// Wait blocks until every triggered job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch runs job now. Concurrent calls with the same job id share one
// run and its report; a different job while one holds the dispatcher gets
// ErrBusy.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) (Report, error) {
	if err := validate.Text(job.Text); err != nil {
		return Report{}, err
	}
	v, err, _ := d.jobs.Do(job.ID, func() (any, error) {
		if !d.running.CompareAndSwap(false, true) {
			return Report{}, ErrBusy
		}
		defer d.running.Store(false)
		return d.run(ctx, job)
	})
	report, _ := v.(Report)
	return report, err
}

func (d *Dispatcher) run(ctx context.Context, job Job) (Report, error) {
	logger := d.logger.With("job_id", job.ID)

	users, err := d.store.Users(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("ezsticker: list recipients: %w", err)
	}

	var report Report
	recipients := make([]userstore.Entry, 0, len(users))
	for _, u := range users {
		if u.Record.OptIn || d.cfg.OverrideOptOut {
			recipients = append(recipients, u)
			continue
		}
		report.Skipped++
	}
	report.Recipients = len(recipients)
	logger.Info("broadcast started", "recipients", report.Recipients, "skipped", report.Skipped)

	for i, u := range recipients {
		if i > 0 && i%d.cfg.BatchSize == 0 {
			report.Pauses++
			if err := d.sleeper.Sleep(ctx, d.cfg.Interval); err != nil {
				logger.Warn("broadcast interrupted", "error", err, "sent", report.Sent)
				return report, err
			}
		}

		err := d.send(ctx, u, job.Text)
		switch {
		case err == nil:
			report.Sent++
			d.metrics.IncBroadcastSends("sent")
		case errors.Is(err, ErrRecipientUnreachable):
			report.Unreachable++
			d.metrics.IncBroadcastSends("unreachable")
			logger.Debug("recipient unreachable", "user_id", u.ID, "error", err)
		default:
			report.Failed++
			d.metrics.IncBroadcastSends("failed")
			logger.Warn("broadcast delivery failed", "user_id", u.ID, "error", err)
		}
	}

	logger.Info("broadcast finished",
		"recipients", report.Recipients,
		"sent", report.Sent,
		"failed", report.Failed,
		"unreachable", report.Unreachable,
		"skipped", report.Skipped,
		"pauses", report.Pauses)
	return report, nil
}

func (d *Dispatcher) send(ctx context.Context, u userstore.Entry, text string) error {
	chatID, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("ezsticker: bad user id %q: %w", u.ID, err)
	}

	_, err = d.bot.SendMessage(ctx, sender.SendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             tg.ParseModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		if tg.IsRecipientUnreachable(err) {
			return fmt.Errorf("%w: %w", ErrRecipientUnreachable, err)
		}
		return err
	}

	if d.cfg.SendOptOutMessage && !d.cfg.OverrideOptOut {
		if _, err := d.bot.SendMessage(ctx, sender.SendMessageRequest{
			ChatID:    chatID,
			Text:      d.catalog.Get(u.Record.Lang, "opt_out_info"),
			ParseMode: tg.ParseModeHTML,
		}); err != nil {
			d.logger.Debug("opt-out notice failed", "user_id", u.ID, "error", err)
		}
	}
	return nil
}
