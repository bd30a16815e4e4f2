package handler

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/prilive-com/ezsticker/internal/userstore"
	"github.com/prilive-com/ezsticker/sender"
	"github.com/prilive-com/ezsticker/tg"
)

const (
	shareResultID   = "share"
	inlineCacheTime = 5
)

func (h *Handler) handleCallback(ctx context.Context, cb *tg.CallbackQuery) {
	if cb.From == nil || !h.chatAllowed(cb.From.ID) {
		return
	}
	defer h.answerCallback(ctx, cb)

	rec, err := h.user(ctx, cb.From)
	if err != nil {
		h.logger.Error("load user", "user_id", cb.From.ID, "error", err)
		return
	}

	switch {
	case strings.HasPrefix(cb.Data, callbackLang):
		code := strings.TrimPrefix(cb.Data, callbackLang)
		if !h.catalog.Has(code) {
			h.logger.Debug("unknown language in callback", "lang", code)
			return
		}
		if _, err := userstore.SetLang(ctx, h.store, cb.From.Key(), code); err != nil {
			h.logger.Error("set language", "user_id", cb.From.ID, "error", err)
			return
		}
		h.editCallbackText(ctx, cb, h.catalog.Get(code, "lang_set"))

	case cb.Data == callbackIconCancel:
		h.sessions.SetIconMode(cb.From.Key(), false)
		h.editCallbackText(ctx, cb, h.catalog.Get(rec.Lang, "icon_canceled"))
	}
}

func (h *Handler) answerCallback(ctx context.Context, cb *tg.CallbackQuery) {
	if err := h.bot.AnswerCallbackQuery(ctx, sender.AnswerCallbackQueryRequest{CallbackQueryID: cb.ID}); err != nil {
		h.logger.Debug("answer callback", "error", err)
	}
}

// editCallbackText replaces the message carrying the pressed button,
// removing its keyboard.
func (h *Handler) editCallbackText(ctx context.Context, cb *tg.CallbackQuery, text string) {
	req := sender.EditMessageTextRequest{
		Text:      text,
		ParseMode: tg.ParseModeHTML,
	}
	switch {
	case cb.Message != nil:
		req.ChatID = cb.Message.ChatIDValue()
		req.MessageID = cb.Message.MessageID
	case cb.InlineMessageID != "":
		req.InlineMessageID = cb.InlineMessageID
	default:
		return
	}
	if _, err := h.bot.EditMessageText(ctx, req); err != nil {
		h.logger.Warn("edit callback message", "error", err)
	}
}

func (h *Handler) handleInlineQuery(ctx context.Context, q *tg.InlineQuery) {
	if q.From == nil || !h.chatAllowed(q.From.ID) {
		return
	}
	rec, err := h.user(ctx, q.From)
	if err != nil {
		h.logger.Error("load user", "user_id", q.From.ID, "error", err)
		return
	}

	query := strings.TrimSpace(q.Query)
	result := h.shareResult(rec.Lang)
	if query != "" && !strings.EqualFold(query, shareResultID) {
		if file, err := h.bot.GetFile(ctx, query); err == nil {
			result = h.documentResult(rec.Lang, file.FileID)
		} else {
			h.logger.Debug("inline file lookup failed", "user_id", q.From.ID, "error", err)
		}
	}

	err = h.bot.AnswerInlineQuery(ctx, sender.AnswerInlineQueryRequest{
		InlineQueryID: q.ID,
		Results:       []tg.InlineQueryResult{result},
		CacheTime:     inlineCacheTime,
		IsPersonal:    true,
	})
	if err != nil {
		// Answering after the user moved on fails with "query is too old".
		h.logger.Debug("answer inline query", "user_id", q.From.ID, "error", err)
	}
}

func (h *Handler) shareResult(lang string) tg.InlineQueryResult {
	article := tg.InlineQueryResultArticle{
		Type:         "article",
		ID:           shareResultID,
		Title:        h.catalog.Get(lang, "share"),
		Description:  h.catalog.Get(lang, "share_desc"),
		ThumbnailURL: h.cfg.Links.ShareThumb,
		InputMessageContent: tg.InputTextMessageContent{
			MessageText: h.catalog.Format(lang, "share_text", h.cfg.BotUsername),
			ParseMode:   tg.ParseModeHTML,
		},
	}
	if h.cfg.BotUsername != "" {
		article.ReplyMarkup = tg.InlineKeyboard(tg.Row(
			tg.BtnURL(h.catalog.Get(lang, "make_sticker_button"), "https://t.me/"+h.cfg.BotUsername),
		))
	}
	return article
}

func (h *Handler) documentResult(lang, fileID string) tg.InlineQueryResult {
	caption := ""
	if h.cfg.BotUsername != "" {
		caption = "@" + h.cfg.BotUsername
	}
	return tg.InlineQueryResultCachedDocument{
		Type:           "document",
		ID:             uuid.NewString(),
		Title:          h.catalog.Get(lang, "your_sticker"),
		DocumentFileID: fileID,
		Description:    h.catalog.Get(lang, "forward_desc"),
		Caption:        caption,
	}
}

func (h *Handler) handleChosenResult(ctx context.Context, r *tg.ChosenInlineResult) {
	if r.From == nil || !h.chatAllowed(r.From.ID) {
		return
	}

	if r.ResultID == shareResultID {
		if err := h.store.Counters().Increment(ctx, userstore.CounterTimesShared); err != nil {
			h.logger.Warn("count share", "error", err)
		}
		return
	}

	fileID := strings.TrimSpace(r.Query)
	if fileID == "" {
		return
	}
	if _, err := h.user(ctx, r.From); err != nil {
		h.logger.Error("load user", "user_id", r.From.ID, "error", err)
		return
	}
	if _, added, err := h.store.AddToPack(ctx, r.From.Key(), fileID); err != nil {
		h.logger.Warn("add to personal pack", "user_id", r.From.ID, "error", err)
	} else if added {
		h.logger.Debug("personal pack slot added", "user_id", r.From.ID)
	}
}
