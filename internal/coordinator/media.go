package coordinator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/prilive-com/ezsticker/internal/fetch"
	"github.com/prilive-com/ezsticker/internal/transform"
	"github.com/prilive-com/ezsticker/sender"
	"github.com/prilive-com/ezsticker/tg"
)

var imageMIMEs = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

func isVideoMIME(mime string) bool {
	return strings.HasPrefix(strings.ToLower(mime), "video/")
}

func cacheKey(uniqueID string, kind string) string {
	return uniqueID + ":" + kind
}

func (c *Coordinator) checkDocument(ev MediaEvent) error {
	if !imageMIMEs[strings.ToLower(ev.MIME)] {
		return errDocumentNotImage
	}
	return c.checkSize(ev.Size)
}

func (c *Coordinator) checkSize(size int64) error {
	if c.cfg.MaxFileSize > 0 && size > c.cfg.MaxFileSize {
		return &OversizedError{Size: size, Limit: c.cfg.MaxFileSize}
	}
	return nil
}

// load returns the raw bytes of an image event.
func (c *Coordinator) load(ctx context.Context, ev MediaEvent) ([]byte, error) {
	if ev.Kind == KindURL {
		link, err := fetch.Normalize(ev.URL)
		if err != nil {
			return nil, err
		}
		return c.fetcher.Fetch(ctx, link)
	}

	var buf bytes.Buffer
	if _, err := c.bot.Download(ctx, ev.FileID, &buf); err != nil {
		return nil, deliveryError("download", err)
	}
	if err := c.checkSize(int64(buf.Len())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Coordinator) convertImage(ctx context.Context, ev MediaEvent, mode transform.Mode) error {
	if ev.Kind == KindDocument {
		if err := c.checkDocument(ev); err != nil {
			return err
		}
	}

	key := ""
	if ev.FileUniqueID != "" {
		key = cacheKey(ev.FileUniqueID, mode.String())
		if fileID, ok := c.cache.Get(key); ok {
			c.metrics.IncCacheHits()
			c.chatAction(ctx, ev.ChatID, tg.ActionUploadDocument)
			_, err := c.deliver(ctx, ev, sender.FromFileID(fileID))
			return err
		}
		c.metrics.IncCacheMisses()
	}

	if ev.Kind != KindURL {
		c.chatAction(ctx, ev.ChatID, tg.ActionUploadDocument)
	}
	data, err := c.load(ctx, ev)
	if err != nil {
		return err
	}

	img, err := transform.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if ev.Kind == KindURL {
		c.chatAction(ctx, ev.ChatID, tg.ActionUploadDocument)
	}

	asset, err := transform.Transform(img, mode)
	if err != nil {
		return err
	}

	fileID, err := c.deliver(ctx, ev, sender.FromBytes(asset.Data, asset.Name))
	if err != nil {
		return err
	}
	if key != "" && fileID != "" {
		c.cache.Set(key, fileID)
	}
	return nil
}

func (c *Coordinator) convertVideo(ctx context.Context, ev MediaEvent) error {
	key := ""
	if ev.FileUniqueID != "" {
		key = cacheKey(ev.FileUniqueID, "video")
		if fileID, ok := c.cache.Get(key); ok {
			c.metrics.IncCacheHits()
			_, err := c.deliver(ctx, ev, sender.FromFileID(fileID))
			return err
		}
		c.metrics.IncCacheMisses()
	}

	c.chatAction(ctx, ev.ChatID, tg.ActionUploadDocument)

	id := uuid.NewString()
	in := filepath.Join(c.cfg.TempDir, id+".video")
	out := filepath.Join(c.cfg.TempDir, id+".webm")
	defer os.Remove(in)
	defer os.Remove(out)

	f, err := os.Create(in)
	if err != nil {
		return err
	}
	file, err := c.bot.Download(ctx, ev.FileID, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return deliveryError("download", err)
	}
	if ext := path.Ext(file.FilePath); ext != "" {
		renamed := filepath.Join(c.cfg.TempDir, id+ext)
		if err := os.Rename(in, renamed); err == nil {
			in = renamed
			defer os.Remove(renamed)
		}
	}

	info, err := c.transcoder.Transcode(ctx, in, out)
	if err != nil {
		return err
	}
	c.logger.Debug("video transcoded", "user_id", ev.UserID, "width", info.Width, "height", info.Height)

	data, err := os.ReadFile(out)
	if err != nil {
		return err
	}
	fileID, err := c.deliver(ctx, ev, sender.FromBytes(data, "sticker.webm"))
	if err != nil {
		return err
	}
	if key != "" && fileID != "" {
		c.cache.Set(key, fileID)
	}
	return nil
}

// passThroughAnimated re-sends an animated sticker as a .tgs document with
// a forward button, since it cannot be converted.
func (c *Coordinator) passThroughAnimated(ctx context.Context, ev MediaEvent) error {
	c.chatAction(ctx, ev.ChatID, tg.ActionUploadDocument)

	var buf bytes.Buffer
	if _, err := c.bot.Download(ctx, ev.FileID, &buf); err != nil {
		return deliveryError("download", err)
	}

	doc, err := c.bot.SendDocument(ctx, sender.SendDocumentRequest{
		ChatID:   ev.ChatID,
		Document: sender.FromBytes(buf.Bytes(), "sticker.tgs"),
	})
	if err != nil {
		return deliveryError("sendDocument", err)
	}

	_, err = c.bot.SendMessage(ctx, sender.SendMessageRequest{
		ChatID:           ev.ChatID,
		Text:             c.catalog.Get(ev.Lang, "forward_animated_sticker"),
		ParseMode:        tg.ParseModeHTML,
		ReplyToMessageID: doc.MessageID,
		ReplyMarkup:      c.forwardKeyboard(ev.Lang, deliveredFileID(doc)),
	})
	if err != nil {
		return deliveryError("sendMessage", err)
	}
	return nil
}

// deliver sends the converted document as a reply to the source message,
// then attaches a forward button carrying the new file_id.
func (c *Coordinator) deliver(ctx context.Context, ev MediaEvent, doc sender.InputFile) (string, error) {
	msg, err := c.bot.SendDocument(ctx, sender.SendDocumentRequest{
		ChatID:           ev.ChatID,
		Document:         doc,
		Caption:          c.catalog.Get(ev.Lang, "forward_to_stickers"),
		ParseMode:        tg.ParseModeHTML,
		ReplyToMessageID: ev.MessageID,
	})
	if err != nil {
		return "", deliveryError("sendDocument", err)
	}

	fileID := deliveredFileID(msg)
	if fileID == "" {
		return "", &DeliveryError{Op: "sendDocument", Err: errors.New("response carries no file")}
	}

	_, err = c.bot.EditMessageReplyMarkup(ctx, sender.EditMessageReplyMarkupRequest{
		ChatID:      ev.ChatID,
		MessageID:   msg.MessageID,
		ReplyMarkup: c.forwardKeyboard(ev.Lang, fileID),
	})
	if err != nil {
		// the file is already with the user
		c.logger.Warn("failed to attach forward button", "user_id", ev.UserID, "error", err)
	}
	return fileID, nil
}

func (c *Coordinator) forwardKeyboard(lang, fileID string) *tg.InlineKeyboardMarkup {
	return tg.InlineKeyboard(tg.Row(tg.BtnSwitch(c.catalog.Get(lang, "forward"), fileID)))
}

func deliveredFileID(msg *tg.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.Document != nil:
		return msg.Document.FileID
	case msg.Sticker != nil:
		return msg.Sticker.FileID
	}
	return ""
}
