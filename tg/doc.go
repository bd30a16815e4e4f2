// Package tg holds the Telegram Bot API types the sticker bot exchanges with
// Telegram, shared by the receiver and sender packages.
//
// Only the subset of the API the bot touches is modelled: messages carrying
// photos, documents, videos and stickers, callback and inline queries, inline
// keyboards and the two inline result kinds used for sharing.
//
// Errors returned by the Bot API are represented by APIError, which unwraps
// to one of the sentinel errors in this package so callers can use errors.Is:
//
//	if errors.Is(err, tg.ErrBotBlocked) {
//		// recipient unreachable, skip
//	}
package tg
