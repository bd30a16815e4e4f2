package userstore

import (
	json "github.com/goccy/go-json"
)

// SchemaVersion is the current Record layout. Version 0 is the original
// flat users file, version 1 added icon_warned and version 2 the pack.
const SchemaVersion = 2

// DefaultLang is the language of new users without a usable hint.
const DefaultLang = "en"

// PackSlot is one entry of a user's personal pack.
type PackSlot struct {
	AssetRef string `json:"asset_ref"`
	UseCount int    `json:"use_count"`
}

// Record is the stored configuration of one user.
type Record struct {
	SchemaVersion int        `json:"schema_version"`
	Lang          string     `json:"lang"`
	OptIn         bool       `json:"opt_in"`
	Uses          int64      `json:"uses"`
	IconWarned    bool       `json:"icon_warned"`
	Pack          []PackSlot `json:"pack,omitempty"`
}

// NewRecord returns a record holding the defaults for a first contact.
func NewRecord() Record {
	return Record{
		SchemaVersion: SchemaVersion,
		Lang:          DefaultLang,
		OptIn:         true,
	}
}

// UnmarshalJSON decodes on top of the defaults, so fields missing from
// older files keep their default value.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	p := plain(NewRecord())
	p.SchemaVersion = 0
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	return nil
}

// FillDefaults brings a record loaded from an older schema up to date.
func FillDefaults(r Record) Record {
	if r.Lang == "" {
		r.Lang = DefaultLang
	}
	if r.Uses < 0 {
		r.Uses = 0
	}
	if r.SchemaVersion < SchemaVersion {
		r.SchemaVersion = SchemaVersion
	}
	return r
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	if r.Pack != nil {
		r.Pack = append([]PackSlot(nil), r.Pack...)
	}
	return r
}
