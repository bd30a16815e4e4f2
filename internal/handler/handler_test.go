package handler_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/internal/broadcast"
	"github.com/prilive-com/ezsticker/internal/config"
	"github.com/prilive-com/ezsticker/internal/coordinator"
	"github.com/prilive-com/ezsticker/internal/handler"
	"github.com/prilive-com/ezsticker/internal/i18n"
	"github.com/prilive-com/ezsticker/internal/testutil"
	"github.com/prilive-com/ezsticker/internal/userstore"
	"github.com/prilive-com/ezsticker/tg"
)

var userKey = strconv.FormatInt(testutil.TestUserID, 10)

type fakeMedia struct {
	mu     sync.Mutex
	events []coordinator.MediaEvent
}

func (f *fakeMedia) Handle(_ context.Context, ev coordinator.MediaEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeMedia) Events() []coordinator.MediaEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]coordinator.MediaEvent(nil), f.events...)
}

type fakeBroadcaster struct {
	busy bool
	jobs []broadcast.Job
}

func (f *fakeBroadcaster) Trigger(_ context.Context, job broadcast.Job) (string, error) {
	if f.busy {
		return job.ID, broadcast.ErrBusy
	}
	f.jobs = append(f.jobs, job)
	return job.ID, nil
}

type harness struct {
	server    *testutil.MockTelegramServer
	handler   *handler.Handler
	store     *userstore.MemoryStore
	sessions  *userstore.Sessions
	media     *fakeMedia
	broadcast *fakeBroadcaster
	shutdowns atomic.Int32
}

func newHarness(t *testing.T, mutate ...func(*handler.Config)) *harness {
	t.Helper()
	cfg := handler.Config{
		Admins:      []int64{testutil.TestUserID},
		BotUsername: "EzStickerBot",
		Token:       tg.SecretToken(testutil.TestToken),
		Links: config.Links{
			ContactDev: "https://t.me/dev",
			Source:     "https://example.com/src",
			Rate:       "https://example.com/rate",
			ShareThumb: "https://example.com/thumb.png",
		},
		Donate:  config.Donate{PayPal: "paypal.me/ez", BTC: "bc1qxyz"},
		Workers: 4,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{
		server:    testutil.NewMockServer(t),
		store:     userstore.NewMemoryStore(slog.New(slog.NewTextHandler(io.Discard, nil))),
		sessions:  &userstore.Sessions{},
		media:     &fakeMedia{},
		broadcast: &fakeBroadcaster{},
	}
	h.handler = handler.New(cfg, handler.Deps{
		Bot:       testutil.NewTestClient(t, h.server.BaseURL()),
		Store:     h.store,
		Sessions:  h.sessions,
		Catalog:   i18n.MustLoad(),
		Media:     h.media,
		Broadcast: h.broadcast,
	},
		handler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		handler.WithShutdown(func() { h.shutdowns.Add(1) }),
	)
	return h
}

func (h *harness) send(msg *tg.Message) {
	h.handler.HandleUpdate(context.Background(), testutil.TestUpdate(1, msg))
}

func (h *harness) texts(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, c := range h.server.CapturesFor("sendMessage") {
		out = append(out, c.BodyMap(t)["text"].(string))
	}
	return out
}

func (h *harness) record(t *testing.T) userstore.Record {
	t.Helper()
	rec, ok, err := h.store.Get(context.Background(), userKey)
	require.NoError(t, err)
	require.True(t, ok)
	return rec
}

func TestStart_RepliesInUserLanguage(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, "/start"))

	msgs := h.server.CapturesFor("sendMessage")
	require.Len(t, msgs, 1)
	msgs[0].AssertJSONField(t, "chat_id", float64(testutil.TestChatID))
	msgs[0].AssertJSONField(t, "parse_mode", "HTML")
	assert.Contains(t, h.texts(t)[0], "Hi! Send me an image")
	assert.Len(t, h.server.CapturesFor("sendChatAction"), 1)
}

func TestFirstContact_DetectsLanguage(t *testing.T) {
	h := newHarness(t)
	msg := testutil.TestMessage(1, "/help")
	msg.From.LanguageCode = "de-DE"
	h.send(msg)

	assert.Equal(t, "de", h.record(t).Lang)
	n, err := h.store.Counters().Get(context.Background(), userstore.CounterLangsAutoSet)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, "/frobnicate"))
	assert.Equal(t, []string{"Unknown command. See /help."}, h.texts(t))
}

func TestGroupChatsAreIgnored(t *testing.T) {
	h := newHarness(t)
	msg := testutil.TestMessage(1, "/start")
	msg.Chat = testutil.TestGroupChat(-100)
	h.send(msg)

	assert.Zero(t, h.server.CaptureCount())
	assert.Zero(t, h.store.Len(), "no record for ignored updates")
}

func TestAllowList(t *testing.T) {
	h := newHarness(t, func(c *handler.Config) { c.AllowedChatIDs = []int64{1} })
	h.send(testutil.TestMessage(1, "/start"))
	assert.Zero(t, h.server.CaptureCount())
}

func TestMedia_BuildsEvents(t *testing.T) {
	h := newHarness(t)

	h.send(testutil.TestPhotoMessage(10, "photo-1"))
	h.send(testutil.TestDocumentMessage(11, "doc-1", "image/png", 2048))
	h.send(testutil.TestStickerMessage(12, "stk-1", false))
	h.send(testutil.TestStickerMessage(13, "stk-2", true))
	h.send(testutil.TestMessage(14, "  example.com/cat.png "))

	events := h.media.Events()
	require.Len(t, events, 5)

	assert.Equal(t, coordinator.KindPhoto, events[0].Kind)
	assert.Equal(t, "photo-1", events[0].FileID, "largest size is used")
	assert.Equal(t, "u-photo-1", events[0].FileUniqueID)
	assert.Equal(t, userKey, events[0].UserID)
	assert.Equal(t, testutil.TestChatID, events[0].ChatID)
	assert.Equal(t, 10, events[0].MessageID)
	assert.Equal(t, "en", events[0].Lang)

	assert.Equal(t, coordinator.KindDocument, events[1].Kind)
	assert.Equal(t, "image/png", events[1].MIME)
	assert.Equal(t, int64(2048), events[1].Size)

	assert.Equal(t, coordinator.KindSticker, events[2].Kind)
	assert.Equal(t, coordinator.KindAnimatedSticker, events[3].Kind)

	assert.Equal(t, coordinator.KindURL, events[4].Kind)
	assert.Equal(t, "example.com/cat.png", events[4].URL)

	assert.Empty(t, h.server.CapturesFor("sendMessage"))
}

func TestMedia_VideoEvent(t *testing.T) {
	h := newHarness(t)
	msg := testutil.TestMessage(1, "")
	msg.Video = &tg.Video{FileID: "vid", FileUniqueID: "u-vid", MimeType: "video/mp4", FileSize: 10}
	h.send(msg)

	events := h.media.Events()
	require.Len(t, events, 1)
	assert.Equal(t, coordinator.KindVideo, events[0].Kind)
	assert.Equal(t, "video/mp4", events[0].MIME)
}

func TestUnsupportedContent(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, ""))

	texts := h.texts(t)
	require.Len(t, texts, 2)
	assert.Equal(t, "I can't process this.", texts[0])
	assert.Contains(t, texts[1], "<b>photo</b>")
	assert.Empty(t, h.media.Events())
}

func TestIcon_ExplainsOnce(t *testing.T) {
	h := newHarness(t)

	h.send(testutil.TestMessage(1, "/icon"))
	require.Len(t, h.texts(t), 2)
	assert.Contains(t, h.texts(t)[0], "<b>Pack icons</b>")
	assert.True(t, h.sessions.IconMode(userKey))
	assert.True(t, h.record(t).IconWarned)

	last := h.server.CapturesFor("sendMessage")[1]
	markup := last.BodyMap(t)["reply_markup"].(map[string]any)
	button := markup["inline_keyboard"].([]any)[0].([]any)[0].(map[string]any)
	assert.Equal(t, "icon_cancel", button["callback_data"])
	assert.Equal(t, "Cancel", button["text"])

	h.server.ResetCaptures()
	h.send(testutil.TestMessage(2, "/icon"))
	assert.Equal(t, []string{"Send me the image to turn into a pack icon."}, h.texts(t))
}

func TestIconCancelCallback(t *testing.T) {
	h := newHarness(t)
	h.sessions.SetIconMode(userKey, true)

	h.handler.HandleUpdate(context.Background(), tg.Update{UpdateID: 1, CallbackQuery: testutil.TestCallbackQuery("cb-1", "icon_cancel")})

	assert.False(t, h.sessions.IconMode(userKey))
	edits := h.server.CapturesFor("editMessageText")
	require.Len(t, edits, 1)
	edits[0].AssertJSONField(t, "text", "Icon mode canceled. Images will be converted to stickers again.")
	edits[0].AssertJSONFieldAbsent(t, "reply_markup")

	answers := h.server.CapturesFor("answerCallbackQuery")
	require.Len(t, answers, 1)
	answers[0].AssertJSONField(t, "callback_query_id", "cb-1")
}

func TestLang_KeyboardThreePerRow(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, "/lang"))

	msgs := h.server.CapturesFor("sendMessage")
	require.Len(t, msgs, 1)
	rows := msgs[0].BodyMap(t)["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	require.Len(t, rows, 3)
	assert.Len(t, rows[0], 3)
	assert.Len(t, rows[2], 1)

	first := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "English", first["text"])
	assert.Equal(t, "lang:en", first["callback_data"])
	second := rows[0].([]any)[1].(map[string]any)
	assert.Equal(t, "lang:de", second["callback_data"])
}

func TestLangCallback_SetsLanguageAndResetsIconWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.GetOrCreate(ctx, userKey, "")
	require.NoError(t, err)
	_, err = userstore.SetIconWarned(ctx, h.store, userKey)
	require.NoError(t, err)

	h.handler.HandleUpdate(ctx, tg.Update{UpdateID: 1, CallbackQuery: testutil.TestCallbackQuery("cb", "lang:de")})

	rec := h.record(t)
	assert.Equal(t, "de", rec.Lang)
	assert.False(t, rec.IconWarned)

	edits := h.server.CapturesFor("editMessageText")
	require.Len(t, edits, 1)
	edits[0].AssertJSONField(t, "text", "Sprache auf Deutsch gestellt.")
	edits[0].AssertJSONField(t, "message_id", float64(1))
}

func TestLangCallback_UnknownLanguage(t *testing.T) {
	h := newHarness(t)
	h.handler.HandleUpdate(context.Background(), tg.Update{UpdateID: 1, CallbackQuery: testutil.TestCallbackQuery("cb", "lang:xx")})

	assert.Equal(t, "en", h.record(t).Lang)
	assert.Empty(t, h.server.CapturesFor("editMessageText"))
	assert.Len(t, h.server.CapturesFor("answerCallbackQuery"), 1)
}

func TestOptOutAndIn(t *testing.T) {
	h := newHarness(t)

	h.send(testutil.TestMessage(1, "/optout"))
	h.send(testutil.TestMessage(2, "/optout"))
	assert.False(t, h.record(t).OptIn)
	h.send(testutil.TestMessage(3, "/optin"))
	h.send(testutil.TestMessage(4, "/optin"))

	assert.Equal(t, []string{
		"You will no longer receive announcements.",
		"You already opted out of announcements.",
		"You will now receive announcements.",
		"You already receive announcements.",
	}, h.texts(t))
	assert.True(t, h.record(t).OptIn)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.GetOrCreate(ctx, "1", "")
	require.NoError(t, err)
	_, err = userstore.SetOptIn(ctx, h.store, "1", false)
	require.NoError(t, err)
	_, err = h.store.GetOrCreate(ctx, userKey, "")
	require.NoError(t, err)
	_, err = h.store.IncrementUsage(ctx, userKey)
	require.NoError(t, err)

	h.send(testutil.TestMessage(1, "/stats"))

	text := h.texts(t)[0]
	assert.Contains(t, text, "Files converted: 1\n")
	assert.Contains(t, text, "Users: 2\n")
	assert.Contains(t, text, "Your conversions: 1\n")
	assert.Contains(t, text, "Opted in: 1\nOpted out: 1")
}

func TestLangStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, lang := range []userstore.LanguageHint{"de", "de", "es"} {
		_, err := h.store.GetOrCreate(ctx, strconv.Itoa(i+1), lang)
		require.NoError(t, err)
	}

	h.send(testutil.TestMessage(1, "/langstats"))
	assert.Equal(t, "<b>Languages</b>\n\u200eDeutsch: 2\n\u200eEnglish: 1\n\u200eEspañol: 1", h.texts(t)[0])
}

func TestInfo_Buttons(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, "/info"))

	body := h.server.CapturesFor("sendMessage")[0].BodyMap(t)
	assert.Equal(t, "EzSticker has converted <b>0</b> files so far.", body["text"])
	rows := body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	require.Len(t, rows, 2)
	share := rows[1].([]any)[1].(map[string]any)
	assert.Equal(t, "share", share["switch_inline_query"])
}

func TestInfo_SkipsUnsetLinks(t *testing.T) {
	h := newHarness(t, func(c *handler.Config) { c.Links = config.Links{} })
	h.send(testutil.TestMessage(1, "/info"))

	body := h.server.CapturesFor("sendMessage")[0].BodyMap(t)
	rows := body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	require.Len(t, rows, 1, "only the share row is left")
	assert.Len(t, rows[0], 1)
}

func TestDonate(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, "/donate"))

	msgs := h.server.CapturesFor("sendMessage")
	require.Len(t, msgs, 1)
	assert.Contains(t, h.texts(t)[0], "<b>BTC:</b> <code>bc1qxyz</code>")
	msgs[0].AssertJSONField(t, "disable_web_page_preview", true)
}

func TestBroadcast_Permissions(t *testing.T) {
	h := newHarness(t, func(c *handler.Config) { c.Admins = nil })
	h.send(testutil.TestMessage(1, "/broadcast"))
	assert.Equal(t, []string{"You don't have permission to do that."}, h.texts(t))
	assert.Empty(t, h.broadcast.jobs)
}

func TestBroadcast_NeedsReplyToText(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, "/broadcast"))

	msg := testutil.TestMessage(2, "/broadcast")
	msg.ReplyToMessage = testutil.TestPhotoMessage(1, "p")
	h.send(msg)

	assert.Equal(t, []string{
		"Use /broadcast in reply to the message to send.",
		"Only text messages can be broadcast.",
	}, h.texts(t))
	assert.Empty(t, h.broadcast.jobs)
}

func TestBroadcast_SchedulesHTML(t *testing.T) {
	h := newHarness(t)
	target := testutil.TestMessage(1, "Big news & more")
	target.Entities = []tg.MessageEntity{{Type: "bold", Offset: 0, Length: 8}}
	msg := testutil.TestMessage(2, "/broadcast")
	msg.ReplyToMessage = target
	h.send(msg)

	assert.Equal(t, []string{"Broadcast scheduled."}, h.texts(t))
	require.Len(t, h.broadcast.jobs, 1)
	assert.Equal(t, "<b>Big news</b> &amp; more", h.broadcast.jobs[0].Text)
	assert.Equal(t, fmt.Sprintf("%d:1", testutil.TestChatID), h.broadcast.jobs[0].ID)
}

func TestBroadcast_Busy(t *testing.T) {
	h := newHarness(t)
	h.broadcast.busy = true
	msg := testutil.TestMessage(2, "/broadcast")
	msg.ReplyToMessage = testutil.TestMessage(1, "hello")
	h.send(msg)

	assert.Equal(t, []string{"A broadcast is already running."}, h.texts(t))
	assert.Empty(t, h.broadcast.jobs)
}

func TestBroadcast_BackToBackCommandsRunOnce(t *testing.T) {
	server := testutil.NewMockServer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := userstore.NewMemoryStore(logger)
	for _, id := range []string{"1001", "1002", "1003"} {
		_, err := store.GetOrCreate(context.Background(), id, "")
		require.NoError(t, err)
	}
	bot := testutil.NewTestClient(t, server.BaseURL())
	catalog := i18n.MustLoad()
	dispatcher := broadcast.New(broadcast.Config{BatchSize: 10, StartDelay: 200 * time.Millisecond},
		bot, store, catalog, broadcast.WithLogger(logger))

	h := handler.New(handler.Config{Admins: []int64{testutil.TestUserID}, Workers: 1}, handler.Deps{
		Bot:       bot,
		Store:     store,
		Sessions:  &userstore.Sessions{},
		Catalog:   catalog,
		Media:     &fakeMedia{},
		Broadcast: dispatcher,
	}, handler.WithLogger(logger))

	for i := range 2 {
		msg := testutil.TestMessage(10+i, "/broadcast")
		msg.ReplyToMessage = testutil.TestMessage(1, "news")
		h.HandleUpdate(context.Background(), testutil.TestUpdate(10+i, msg))
	}
	dispatcher.Wait()

	var announced, busy int
	for _, c := range server.CapturesFor("sendMessage") {
		switch c.BodyMap(t)["text"] {
		case "news":
			announced++
		case "A broadcast is already running.":
			busy++
		}
	}
	// Three seeded users plus the admin, who is opted in too.
	assert.Equal(t, 4, announced)
	assert.Equal(t, 1, busy)
}

func TestLog_SendsScrubbedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	require.NoError(t, os.WriteFile(path, []byte("GET /bot"+testutil.TestToken+"/getMe\n"), 0o600))
	h := newHarness(t, func(c *handler.Config) { c.LogFile = path })

	h.send(testutil.TestMessage(1, "/log"))

	docs := h.server.CapturesFor("sendDocument")
	require.Len(t, docs, 1)
	form := docs[0].Multipart(t)
	file := form.Files["document"]
	assert.Equal(t, "ezsticker.log", file.FileName)
	assert.NotContains(t, string(file.Content), testutil.TestToken)
	assert.Contains(t, string(file.Content), "[REDACTED]")
}

func TestLog_Empty(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, "/log"))
	assert.Equal(t, []string{"The log is empty."}, h.texts(t))
	assert.Empty(t, h.server.CapturesFor("sendDocument"))
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	h.send(testutil.TestMessage(1, "/restart"))
	assert.Equal(t, []string{"Shutting down for restart."}, h.texts(t))
	assert.Equal(t, int32(1), h.shutdowns.Load())

	other := newHarness(t, func(c *handler.Config) { c.Admins = []int64{1} })
	other.send(testutil.TestMessage(1, "/restart"))
	assert.Zero(t, other.shutdowns.Load())
}

func inlineUpdate(query string) tg.Update {
	return tg.Update{UpdateID: 1, InlineQuery: &tg.InlineQuery{ID: "iq-1", From: testutil.TestUser(), Query: query}}
}

func TestInlineQuery_Share(t *testing.T) {
	h := newHarness(t)
	h.handler.HandleUpdate(context.Background(), inlineUpdate(""))

	answers := h.server.CapturesFor("answerInlineQuery")
	require.Len(t, answers, 1)
	body := answers[0].BodyMap(t)
	assert.Equal(t, float64(5), body["cache_time"])
	assert.Equal(t, true, body["is_personal"])

	result := body["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "article", result["type"])
	assert.Equal(t, "share", result["id"])
	content := result["input_message_content"].(map[string]any)
	assert.Equal(t, "Make Telegram stickers from any image with @EzStickerBot", content["message_text"])
}

func TestInlineQuery_FileID(t *testing.T) {
	h := newHarness(t)
	h.server.OnAPI("getFile", func(w http.ResponseWriter, r *http.Request) {
		testutil.ReplyFile(w, "file-9", "documents/file_9.png", 100)
	})
	h.handler.HandleUpdate(context.Background(), inlineUpdate("file-9"))

	result := h.server.CapturesFor("answerInlineQuery")[0].BodyMap(t)["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "document", result["type"])
	assert.Equal(t, "file-9", result["document_file_id"])
	assert.Equal(t, "@EzStickerBot", result["caption"])
	assert.NotEmpty(t, result["id"])
}

func TestInlineQuery_UnknownFileFallsBackToShare(t *testing.T) {
	h := newHarness(t)
	h.server.OnAPI("getFile", func(w http.ResponseWriter, r *http.Request) {
		testutil.ReplyBadRequest(w, "Bad Request: invalid file_id")
	})
	h.handler.HandleUpdate(context.Background(), inlineUpdate("nope"))

	result := h.server.CapturesFor("answerInlineQuery")[0].BodyMap(t)["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "share", result["id"])
}

func TestChosenResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handler.HandleUpdate(ctx, tg.Update{ChosenInlineResult: &tg.ChosenInlineResult{ResultID: "share", From: testutil.TestUser()}})
	shared, err := h.store.Counters().Get(ctx, userstore.CounterTimesShared)
	require.NoError(t, err)
	assert.Equal(t, int64(1), shared)

	for range 2 {
		h.handler.HandleUpdate(ctx, tg.Update{ChosenInlineResult: &tg.ChosenInlineResult{
			ResultID: "0b6e", From: testutil.TestUser(), Query: "file-9",
		}})
	}
	rec := h.record(t)
	require.Len(t, rec.Pack, 1)
	assert.Equal(t, userstore.PackSlot{AssetRef: "file-9", UseCount: 2}, rec.Pack[0])
}

func TestRun_HandlesEveryUpdate(t *testing.T) {
	h := newHarness(t)
	updates := make(chan tg.Update, 10)
	for i := range 10 {
		updates <- testutil.TestUpdate(i, testutil.TestPhotoMessage(i, "p"+strconv.Itoa(i)))
	}
	close(updates)

	done := make(chan struct{})
	go func() {
		h.handler.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.Len(t, h.media.Events(), 10)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.handler.Run(ctx, make(chan tg.Update))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
