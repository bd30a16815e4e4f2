package handler

import (
	"cmp"
	"html"
	"slices"
	"strings"
	"unicode/utf16"

	"github.com/prilive-com/ezsticker/tg"
)

// EntitiesToHTML renders text with its formatting entities as Telegram
// HTML. Entity offsets count UTF-16 code units. Entities without an HTML
// form are dropped and their text kept.
func EntitiesToHTML(text string, entities []tg.MessageEntity) string {
	units := utf16.Encode([]rune(text))

	type tag struct {
		pos   int
		order int
		open  bool
		html  string
	}
	var tags []tag
	for i, e := range entities {
		openTag, closeTag, ok := entityTags(e)
		if !ok || e.Length <= 0 || e.Offset < 0 || e.Offset+e.Length > len(units) {
			continue
		}
		// Longer entities open first and close last so nesting stays valid.
		tags = append(tags,
			tag{pos: e.Offset, order: -e.Length*len(entities) + i, open: true, html: openTag},
			tag{pos: e.Offset + e.Length, order: e.Length*len(entities) - i, html: closeTag},
		)
	}
	slices.SortStableFunc(tags, func(a, b tag) int {
		if c := cmp.Compare(a.pos, b.pos); c != 0 {
			return c
		}
		if a.open != b.open {
			if a.open {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.order, b.order)
	})

	var b strings.Builder
	last := 0
	for _, t := range tags {
		b.WriteString(html.EscapeString(string(utf16.Decode(units[last:t.pos]))))
		b.WriteString(t.html)
		last = t.pos
	}
	b.WriteString(html.EscapeString(string(utf16.Decode(units[last:]))))
	return b.String()
}

func entityTags(e tg.MessageEntity) (open, close string, ok bool) {
	switch e.Type {
	case "bold":
		return "<b>", "</b>", true
	case "italic":
		return "<i>", "</i>", true
	case "underline":
		return "<u>", "</u>", true
	case "strikethrough":
		return "<s>", "</s>", true
	case "spoiler":
		return "<tg-spoiler>", "</tg-spoiler>", true
	case "code":
		return "<code>", "</code>", true
	case "pre":
		return "<pre>", "</pre>", true
	case "text_link":
		return `<a href="` + html.EscapeString(e.URL) + `">`, "</a>", true
	}
	return "", "", false
}
