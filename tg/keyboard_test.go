package tg_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/tg"
)

func TestButtons(t *testing.T) {
	btn := tg.Btn("Cancel", "icon_cancel")
	assert.Equal(t, "icon_cancel", btn.CallbackData)
	assert.Empty(t, btn.URL)

	link := tg.BtnURL("Source", "https://github.com/example/bot")
	assert.Equal(t, "https://github.com/example/bot", link.URL)

	fwd := tg.BtnSwitch("Forward", "BQACAgIAAxkBAAI")
	assert.Equal(t, "BQACAgIAAxkBAAI", fwd.SwitchInlineQuery)
	assert.Empty(t, fwd.CallbackData)
}

func TestKeyboard_Build(t *testing.T) {
	kb := tg.NewKeyboard().
		Row(tg.Btn("A", "a"), tg.Btn("B", "b")).
		Row().
		Row(tg.BtnURL("C", "https://example.com"))

	assert.False(t, kb.Empty())
	markup := kb.Build()
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 1)
}

func TestKeyboard_MarshalJSON(t *testing.T) {
	kb := tg.NewKeyboard().Row(tg.BtnSwitch("Forward", "file-id"))

	data, err := json.Marshal(kb)
	require.NoError(t, err)
	assert.JSONEq(t, `{"inline_keyboard":[[{"text":"Forward","switch_inline_query":"file-id"}]]}`, string(data))
}

func TestGrid(t *testing.T) {
	langs := []string{"en", "de", "es", "fr", "it", "pt", "ru"}

	markup := tg.Grid(langs, 3, func(code string) tg.InlineKeyboardButton {
		return tg.Btn(code, "lang:"+code)
	})

	require.Len(t, markup.InlineKeyboard, 3)
	assert.Len(t, markup.InlineKeyboard[0], 3)
	assert.Len(t, markup.InlineKeyboard[1], 3)
	assert.Len(t, markup.InlineKeyboard[2], 1)
	assert.Equal(t, "lang:ru", markup.InlineKeyboard[2][0].CallbackData)
}

func TestGrid_ZeroColumns(t *testing.T) {
	markup := tg.Grid([]int{1, 2}, 0, func(i int) tg.InlineKeyboardButton {
		return tg.Btn("x", "x")
	})
	assert.Len(t, markup.InlineKeyboard, 2)
}
