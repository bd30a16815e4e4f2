// Package ezsticker is the Telegram side of EzStickerBot: a bot that turns
// images, stickers, image links and short videos into files that meet the
// sticker pack rules.
//
// Bot joins the long polling receiver and the rate limited sender:
//
//	bot, err := ezsticker.New(token,
//	    ezsticker.WithPolling(30, 100),
//	    ezsticker.WithRetries(3),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bot.Close()
//
//	if err := bot.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	for update := range bot.Updates() {
//	    // ...
//	}
//
// Telegram types live in the tg subpackage. The conversion pipeline, user
// store and command routing are internal; cmd/ezstickerbot wires them.
//
// # Resilience
//
//   - Circuit breaker with sony/gobreaker
//   - Per-chat and global rate limiting
//   - Retry with exponential backoff and crypto jitter
//   - Token redaction in logs and errors
package ezsticker
