// Package userstore keeps per-user records and the global counters. Two
// backends implement Store: an in-memory map persisted as a snapshot file
// and a Postgres database.
package userstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned for operations on a user that was never created.
var ErrNotFound = errors.New("ezsticker: user not found")

// LanguageHint is a catalog language resolved from the client's
// language_code at first contact, or "" when none matched.
type LanguageHint string

// Entry pairs a user id with its record.
type Entry struct {
	ID     string
	Record Record
}

// Store is the user record store. Operations on one user are linearizable.
type Store interface {
	// GetOrCreate returns the record of userID, creating it with defaults
	// on first contact. hint is used only when the record is created.
	GetOrCreate(ctx context.Context, userID string, hint LanguageHint) (Record, error)
	Get(ctx context.Context, userID string) (Record, bool, error)
	// Update applies fn to the preference fields (Lang, OptIn, IconWarned).
	// Uses and Pack change only through IncrementUsage and AddToPack.
	Update(ctx context.Context, userID string, fn func(*Record)) (Record, error)
	IncrementUsage(ctx context.Context, userID string) (Record, error)
	// AddToPack records assetRef in the user's personal pack. added is true
	// when a new slot was taken.
	AddToPack(ctx context.Context, userID, assetRef string) (rec Record, added bool, err error)
	Users(ctx context.Context) ([]Entry, error)
	Counters() Counters
}

// SetLang changes the user's language and clears the icon explanation
// flag so the next /icon explains itself in the new language.
func SetLang(ctx context.Context, s Store, userID, lang string) (Record, error) {
	return s.Update(ctx, userID, func(r *Record) {
		r.Lang = lang
		r.IconWarned = false
	})
}

// SetOptIn changes whether the user receives broadcasts.
func SetOptIn(ctx context.Context, s Store, userID string, optIn bool) (Record, error) {
	return s.Update(ctx, userID, func(r *Record) {
		r.OptIn = optIn
	})
}

// SetIconWarned marks the one-time /icon explanation as shown.
func SetIconWarned(ctx context.Context, s Store, userID string) (Record, error) {
	return s.Update(ctx, userID, func(r *Record) {
		r.IconWarned = true
	})
}

func applyPreferences(dst *Record, fn func(*Record)) {
	tmp := dst.Clone()
	fn(&tmp)
	dst.Lang = tmp.Lang
	dst.OptIn = tmp.OptIn
	dst.IconWarned = tmp.IconWarned
}
