// Package sender is the outbound half of the Telegram transport: a Bot API
// client with a global and per-chat rate limit, a circuit breaker and retry
// with jittered exponential backoff.
//
// Only the methods the sticker bot needs are exposed: text messages,
// document uploads, reply-markup and text edits, chat actions, callback and
// inline answers, and file lookup plus download.
//
//	client, err := sender.NewFromConfig(cfg, sender.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	msg, err := client.SendDocument(ctx, sender.SendDocumentRequest{
//	    ChatID:   chatID,
//	    Document: sender.FromBytes(png, "sticker.png"),
//	})
package sender
