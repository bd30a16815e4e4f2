package testutil

import "github.com/prilive-com/ezsticker/tg"

const (
	// TestToken is a valid-format bot token for testing.
	TestToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"

	// TestUserID is the user every fixture message comes from.
	TestUserID = int64(987654321)

	// TestChatID is the private chat with TestUserID (same id, as on Telegram).
	TestChatID = TestUserID

	// TestUsername is a test username.
	TestUsername = "testuser"
)

// TestUser returns a test user fixture.
func TestUser() *tg.User {
	return &tg.User{
		ID:           TestUserID,
		FirstName:    "Test",
		LastName:     "User",
		Username:     TestUsername,
		LanguageCode: "en",
	}
}

// TestChat returns a test private chat fixture.
func TestChat() *tg.Chat {
	return &tg.Chat{
		ID:        TestChatID,
		Type:      "private",
		FirstName: "Test",
		Username:  TestUsername,
	}
}

// TestGroupChat returns a test group chat fixture.
func TestGroupChat(id int64) *tg.Chat {
	return &tg.Chat{ID: id, Type: "group", Title: "Test group"}
}

// TestMessage returns a text message fixture.
func TestMessage(messageID int, text string) *tg.Message {
	return &tg.Message{
		MessageID: messageID,
		Date:      1234567890,
		Chat:      TestChat(),
		From:      TestUser(),
		Text:      text,
	}
}

// TestPhotoMessage returns a photo message with three sizes, the last one
// identified by fileID.
func TestPhotoMessage(messageID int, fileID string) *tg.Message {
	msg := TestMessage(messageID, "")
	msg.Photo = []tg.PhotoSize{
		{FileID: fileID + "-s", FileUniqueID: "u-" + fileID + "-s", Width: 90, Height: 60},
		{FileID: fileID + "-m", FileUniqueID: "u-" + fileID + "-m", Width: 320, Height: 213},
		{FileID: fileID, FileUniqueID: "u-" + fileID, Width: 1280, Height: 853, FileSize: 120_000},
	}
	return msg
}

// TestDocumentMessage returns a document message fixture.
func TestDocumentMessage(messageID int, fileID, mimeType string, size int64) *tg.Message {
	msg := TestMessage(messageID, "")
	msg.Document = &tg.Document{
		FileID:       fileID,
		FileUniqueID: "u-" + fileID,
		FileName:     "upload",
		MimeType:     mimeType,
		FileSize:     size,
	}
	return msg
}

// TestStickerMessage returns a sticker message fixture.
func TestStickerMessage(messageID int, fileID string, animated bool) *tg.Message {
	msg := TestMessage(messageID, "")
	msg.Sticker = &tg.Sticker{
		FileID:       fileID,
		FileUniqueID: "u-" + fileID,
		Type:         "regular",
		Width:        512,
		Height:       512,
		IsAnimated:   animated,
	}
	return msg
}

// TestUpdate returns an update carrying msg.
func TestUpdate(updateID int, msg *tg.Message) tg.Update {
	return tg.Update{UpdateID: updateID, Message: msg}
}

// TestCallbackQuery returns a callback query fixture.
func TestCallbackQuery(id, data string) *tg.CallbackQuery {
	return &tg.CallbackQuery{
		ID:           id,
		From:         TestUser(),
		Message:      TestMessage(1, "Original message"),
		ChatInstance: "instance_123",
		Data:         data,
	}
}
