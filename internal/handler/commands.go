package handler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/prilive-com/ezsticker/internal/broadcast"
	"github.com/prilive-com/ezsticker/internal/scrub"
	"github.com/prilive-com/ezsticker/internal/userstore"
	"github.com/prilive-com/ezsticker/sender"
	"github.com/prilive-com/ezsticker/tg"
)

// Callback data prefixes.
const (
	callbackLang       = "lang:"
	callbackIconCancel = "icon_cancel"
)

type commandFunc func(ctx context.Context, req *request, args string)

func (h *Handler) commandTable() map[string]commandFunc {
	return map[string]commandFunc{
		"start":     h.cmdStart,
		"help":      h.cmdHelp,
		"icon":      h.cmdIcon,
		"info":      h.cmdInfo,
		"lang":      h.cmdLang,
		"langstats": h.cmdLangStats,
		"optin":     h.cmdOptIn,
		"optout":    h.cmdOptOut,
		"stats":     h.cmdStats,
		"donate":    h.cmdDonate,
		"broadcast": h.cmdBroadcast,
		"log":       h.cmdLog,
		"restart":   h.cmdRestart,
	}
}

func (h *Handler) runCommand(ctx context.Context, req *request, name, args string) {
	cmd, ok := h.commands[name]
	if !ok {
		h.typing(ctx, req.msg.Chat.ID)
		h.reply(ctx, req, h.text(req, "invalid_command"))
		return
	}
	h.logger.Debug("command", "command", name, "user_id", req.user.ID)
	h.metrics.IncCommands(name)
	cmd(ctx, req, args)
}

func (h *Handler) cmdStart(ctx context.Context, req *request, _ string) {
	h.typing(ctx, req.msg.Chat.ID)
	h.reply(ctx, req, h.text(req, "start"))
}

func (h *Handler) cmdHelp(ctx context.Context, req *request, _ string) {
	h.typing(ctx, req.msg.Chat.ID)
	h.reply(ctx, req, h.text(req, "help"))
}

func (h *Handler) cmdIcon(ctx context.Context, req *request, _ string) {
	h.typing(ctx, req.msg.Chat.ID)
	h.sessions.SetIconMode(req.user.Key(), true)

	if !req.rec.IconWarned {
		h.reply(ctx, req, h.text(req, "icon_command_info"))
		if _, err := userstore.SetIconWarned(ctx, h.store, req.user.Key()); err != nil {
			h.logger.Warn("mark icon explanation shown", "user_id", req.user.ID, "error", err)
		}
	}

	kb := tg.InlineKeyboard(tg.Row(tg.Btn(h.text(req, "cancel"), callbackIconCancel)))
	h.reply(ctx, req, h.text(req, "icon_command"), withKeyboard(kb))
}

func (h *Handler) cmdInfo(ctx context.Context, req *request, _ string) {
	h.typing(ctx, req.msg.Chat.ID)

	uses, err := h.store.Counters().Get(ctx, userstore.CounterUses)
	if err != nil {
		h.logger.Warn("read uses counter", "error", err)
	}

	links := h.cfg.Links
	kb := tg.NewKeyboard().
		Row(urlButtons(
			tg.BtnURL(h.text(req, "contact_dev"), links.ContactDev),
			tg.BtnURL(h.text(req, "source"), links.Source),
		)...).
		Row(urlButtons(
			tg.BtnURL(h.text(req, "rate"), links.Rate),
			tg.BtnSwitch(h.text(req, "share"), "share"),
		)...)
	h.reply(ctx, req, h.text(req, "info", uses), withKeyboard(kb.Build()))
}

// urlButtons drops URL buttons whose link is not configured.
func urlButtons(buttons ...tg.InlineKeyboardButton) []tg.InlineKeyboardButton {
	return slices.DeleteFunc(buttons, func(b tg.InlineKeyboardButton) bool {
		return b.URL == "" && b.SwitchInlineQuery == "" && b.CallbackData == ""
	})
}

func (h *Handler) cmdLang(ctx context.Context, req *request, _ string) {
	kb := tg.Grid(h.catalog.Languages(), 3, func(code string) tg.InlineKeyboardButton {
		return tg.Btn(h.catalog.Name(code), callbackLang+code)
	})
	h.reply(ctx, req, h.text(req, "select_lang"), withKeyboard(kb))
}

type langCount struct {
	code  string
	count int
}

func (h *Handler) cmdLangStats(ctx context.Context, req *request, _ string) {
	h.typing(ctx, req.msg.Chat.ID)

	users, err := h.store.Users(ctx)
	if err != nil {
		h.logger.Error("list users", "error", err)
		return
	}

	counts := map[string]int{}
	for _, u := range users {
		counts[u.Record.Lang]++
	}
	stats := make([]langCount, 0, len(counts))
	for code, n := range counts {
		stats = append(stats, langCount{code: code, count: n})
	}
	slices.SortFunc(stats, func(a, b langCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.code, b.code)
	})

	p := message.NewPrinter(language.English)
	var b strings.Builder
	b.WriteString(h.text(req, "lang_stats"))
	for _, s := range stats {
		// U+200E keeps right-to-left language names from flipping the line.
		b.WriteString(p.Sprintf("\n\u200e%s: %d", html.EscapeString(h.catalog.Name(s.code)), s.count))
	}
	h.reply(ctx, req, b.String())
}

func (h *Handler) cmdOptIn(ctx context.Context, req *request, _ string) {
	h.setOptIn(ctx, req, true)
}

func (h *Handler) cmdOptOut(ctx context.Context, req *request, _ string) {
	h.setOptIn(ctx, req, false)
}

func (h *Handler) setOptIn(ctx context.Context, req *request, optIn bool) {
	h.typing(ctx, req.msg.Chat.ID)

	if req.rec.OptIn == optIn {
		key := "already_opted_out"
		if optIn {
			key = "already_opted_in"
		}
		h.reply(ctx, req, h.text(req, key))
		return
	}

	if _, err := userstore.SetOptIn(ctx, h.store, req.user.Key(), optIn); err != nil {
		h.logger.Error("set opt-in", "user_id", req.user.ID, "error", err)
		return
	}
	key := "opted_out"
	if optIn {
		key = "opted_in"
	}
	h.reply(ctx, req, h.text(req, key))
}

func (h *Handler) cmdStats(ctx context.Context, req *request, _ string) {
	h.typing(ctx, req.msg.Chat.ID)

	counters, err := h.store.Counters().All(ctx)
	if err != nil {
		h.logger.Error("read counters", "error", err)
		return
	}
	users, err := h.store.Users(ctx)
	if err != nil {
		h.logger.Error("list users", "error", err)
		return
	}

	var optedIn, optedOut int
	for _, u := range users {
		if u.Record.OptIn {
			optedIn++
		} else {
			optedOut++
		}
	}

	h.reply(ctx, req, h.text(req, "stats",
		counters[userstore.CounterUses],
		len(users),
		req.rec.Uses,
		counters[userstore.CounterLangsAutoSet],
		counters[userstore.CounterTimesShared],
		optedIn+optedOut,
		optedIn,
		optedOut,
	))
}

func (h *Handler) cmdDonate(ctx context.Context, req *request, _ string) {
	d := h.cfg.Donate
	text := h.text(req, "donate") + fmt.Sprintf(
		"\n\n<b>PayPal:</b> %s\n<b>CashApp:</b> %s\n<b>BTC:</b> <code>%s</code>\n<b>ETH:</b> <code>%s</code>",
		html.EscapeString(d.PayPal),
		html.EscapeString(d.CashApp),
		html.EscapeString(d.BTC),
		html.EscapeString(d.ETH),
	)
	h.reply(ctx, req, text, withoutPreview())
}

func (h *Handler) cmdBroadcast(ctx context.Context, req *request, _ string) {
	h.typing(ctx, req.msg.Chat.ID)

	if !h.isAdmin(req.user.ID) {
		h.reply(ctx, req, h.text(req, "no_permission"))
		return
	}
	target := req.msg.ReplyToMessage
	if target == nil {
		h.reply(ctx, req, h.text(req, "broadcast_in_reply"))
		return
	}
	if target.Text == "" {
		h.reply(ctx, req, h.text(req, "broadcast_only_text"))
		return
	}

	job := broadcast.Job{
		ID:   fmt.Sprintf("%d:%d", req.msg.Chat.ID, target.MessageID),
		Text: EntitiesToHTML(target.Text, target.Entities),
	}
	id, err := h.broadcast.Trigger(context.WithoutCancel(ctx), job)
	switch {
	case errors.Is(err, broadcast.ErrBusy):
		h.reply(ctx, req, h.text(req, "broadcast_busy"))
		return
	case err != nil:
		h.logger.Warn("broadcast rejected", "admin_id", req.user.ID, "error", err)
		h.reply(ctx, req, h.text(req, "broadcast_only_text"))
		return
	}
	h.reply(ctx, req, h.text(req, "will_broadcast"))
	h.logger.Info("broadcast scheduled", "job_id", id, "admin_id", req.user.ID)
}

func (h *Handler) openLog() (io.ReadCloser, error) {
	if h.cfg.LogFile == "" {
		return nil, fs.ErrNotExist
	}
	return os.Open(h.cfg.LogFile)
}

func (h *Handler) cmdLog(ctx context.Context, req *request, _ string) {
	if !h.isAdmin(req.user.ID) {
		h.typing(ctx, req.msg.Chat.ID)
		h.reply(ctx, req, h.text(req, "no_permission"))
		return
	}
	h.action(ctx, req.msg.Chat.ID, tg.ActionUploadDocument)

	data, err := h.readLog()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.logger.Warn("read log file", "error", err)
	}
	if len(data) == 0 {
		h.reply(ctx, req, h.text(req, "empty_log"))
		return
	}

	_, err = h.bot.SendDocument(ctx, sender.SendDocumentRequest{
		ChatID:           req.msg.Chat.ID,
		Document:         sender.FromBytes(scrub.Bytes(data, h.cfg.Token), "ezsticker.log"),
		ReplyToMessageID: req.msg.MessageID,
	})
	if err != nil {
		h.logger.Warn("send log file", "error", err)
		h.reply(ctx, req, h.text(req, "empty_log"))
	}
}

func (h *Handler) readLog() ([]byte, error) {
	f, err := h.logReader()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (h *Handler) cmdRestart(ctx context.Context, req *request, _ string) {
	h.typing(ctx, req.msg.Chat.ID)

	if !h.isAdmin(req.user.ID) {
		h.reply(ctx, req, h.text(req, "no_permission"))
		return
	}
	h.reply(ctx, req, h.text(req, "restarting"))
	h.logger.Info("restart requested", "admin_id", req.user.ID, "name", req.user.FirstName)
	h.shutdown()
}
