// Package i18n holds the embedded message catalog. Every language falls
// back to English for keys it does not translate.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Fallback is the language used for missing translations and unknown codes.
const Fallback = "en"

//go:embed locales/*.json
var locales embed.FS

type language struct {
	Name     string            `json:"lang_name"`
	Order    int               `json:"order"`
	Messages map[string]string `json:"messages"`
}

// Catalog maps language codes to translated messages.
type Catalog struct {
	langs map[string]*language
	order []string
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	sub, err := fs.Sub(locales, "locales")
	if err != nil {
		return nil, err
	}
	return New(sub)
}

// MustLoad is Load for package initialisation and tests.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// New parses every <code>.json file at the root of fsys.
func New(fsys fs.FS) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("ezsticker: read catalog: %w", err)
	}

	c := &Catalog{langs: make(map[string]*language)}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("ezsticker: read %s: %w", e.Name(), err)
		}
		var lang language
		if err := json.Unmarshal(data, &lang); err != nil {
			return nil, fmt.Errorf("ezsticker: parse %s: %w", e.Name(), err)
		}
		code := strings.TrimSuffix(e.Name(), ".json")
		c.langs[code] = &lang
		c.order = append(c.order, code)
	}
	if _, ok := c.langs[Fallback]; !ok {
		return nil, fmt.Errorf("ezsticker: catalog has no %q language", Fallback)
	}

	sort.SliceStable(c.order, func(i, j int) bool {
		a, b := c.langs[c.order[i]], c.langs[c.order[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return c.order[i] < c.order[j]
	})
	return c, nil
}

// Get returns the message for key in lang, falling back to English and
// finally to the key itself.
func (c *Catalog) Get(lang, key string) string {
	if l, ok := c.langs[lang]; ok {
		if msg, ok := l.Messages[key]; ok {
			return msg
		}
	}
	if msg, ok := c.langs[Fallback].Messages[key]; ok {
		return msg
	}
	return key
}

// Format is Get followed by fmt.Sprintf.
func (c *Catalog) Format(lang, key string, args ...any) string {
	return fmt.Sprintf(c.Get(lang, key), args...)
}

// Languages returns the language codes in display order.
func (c *Catalog) Languages() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Has reports whether lang is in the catalog.
func (c *Catalog) Has(lang string) bool {
	_, ok := c.langs[lang]
	return ok
}

// Name returns the language's own name, or the code when unknown.
func (c *Catalog) Name(lang string) string {
	if l, ok := c.langs[lang]; ok {
		return l.Name
	}
	return lang
}

// Match resolves a client language_code such as "pt-br" to a catalog
// language by prefix. It returns "" when nothing matches.
func (c *Catalog) Match(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	for _, lang := range c.order {
		if strings.HasPrefix(code, lang) {
			return lang
		}
	}
	return ""
}
