// Package receiver pulls updates from Telegram with getUpdates long polling.
//
//	updates := make(chan tg.Update, cfg.UpdateBufferSize)
//	poller := receiver.NewPollingClient(token, updates, logger, cfg)
//	if err := poller.Start(ctx); err != nil {
//	    return err
//	}
//	defer poller.Stop()
//
// The offset only advances after an update was handed to the channel, so a
// stop in the middle of a batch leaves the rest for the next getUpdates.
// Failed polls back off exponentially and go through a circuit breaker.
package receiver
