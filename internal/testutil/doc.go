// Package testutil provides a mock Telegram Bot API server, request
// captures, fixtures and a fake sleeper for the bot's tests.
//
//	server := testutil.NewMockServer(t)
//	server.OnAPI("sendDocument", func(w http.ResponseWriter, r *http.Request) {
//	    testutil.ReplyDocumentMessage(w, 10, "BQACAgIAAx")
//	})
//	client := testutil.NewTestClient(t, server.BaseURL())
//
// Every request is captured and can be inspected afterwards:
//
//	req := server.LastCapture()
//	req.AssertJSONField(t, "chat_id", float64(testutil.TestChatID))
//
// FakeSleeper records pauses without sleeping, which keeps retry and
// broadcast throttling tests instant.
package testutil
