// Package record models the local content records the sync engine mirrors
// to Splio, together with the sources they are loaded from. Records are
// schemaless: fields hold ordered lists of scalar values, matching the
// multi-value field model of the CMS that produces them.
package record

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record cannot be located in a source.
var ErrNotFound = errors.New("record not found")

// Record is a local content record. Fields map a field name to its list
// of values; single-valued fields hold one element.
type Record struct {
	Type   string             `json:"type"`
	ID     string             `json:"id"`
	Bundle string             `json:"bundle"`
	Fields map[string][]any   `json:"fields"`
	Lang   string             `json:"lang,omitempty"`
	Langs  map[string]*Record `json:"-"`

	// Original carries the pre-change snapshot of the record, attached by
	// the queue worker so builders can address the remote object by its
	// previous key value.
	Original *Record `json:"original,omitempty"`
}

// New creates a record of the given local type, id and bundle.
func New(localType, id, bundle string) *Record {
	return &Record{
		Type:   localType,
		ID:     id,
		Bundle: bundle,
		Fields: map[string][]any{},
	}
}

// Values returns all values of a field, or nil when the field is absent.
func (r *Record) Values(field string) []any {
	if r == nil || r.Fields == nil {
		return nil
	}
	return r.Fields[field]
}

// Value returns the first value of a field, or nil when absent.
func (r *Record) Value(field string) any {
	vals := r.Values(field)
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

// Set replaces the values of a field.
func (r *Record) Set(field string, values ...any) *Record {
	if r.Fields == nil {
		r.Fields = map[string][]any{}
	}
	r.Fields[field] = values
	return r
}

// HasTranslation reports whether the record carries a translation for lang.
func (r *Record) HasTranslation(lang string) bool {
	_, ok := r.Langs[lang]
	return ok
}

// Translation returns the record's translation for lang, or the record
// itself when no such translation exists.
func (r *Record) Translation(lang string) *Record {
	if t, ok := r.Langs[lang]; ok {
		return t
	}
	return r
}

// Clone returns a deep copy of the record's fields. Original and
// translations are not copied.
func (r *Record) Clone() *Record {
	c := New(r.Type, r.ID, r.Bundle)
	c.Lang = r.Lang
	for name, vals := range r.Fields {
		copied := make([]any, len(vals))
		copy(copied, vals)
		c.Fields[name] = copied
	}
	return c
}

// Source loads local records for the sync engine. Load addresses a record
// by its primary identifier; LoadByProperty looks records up by the value
// of an arbitrary field.
type Source interface {
	Load(ctx context.Context, localType, id string) (*Record, error)
	LoadByProperty(ctx context.Context, localType, field string, value any) ([]*Record, error)
}

// ValueString renders a field value the way it is compared and sent on
// the wire: numbers without a trailing ".0" for integral floats, booleans
// as 1/0, everything else via fmt.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case float32:
		return ValueString(float64(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ValueEquals compares two field values loosely, the way lookups by
// property behave: 1 matches "1", "a" matches "a".
func ValueEquals(a, b any) bool {
	return ValueString(a) == ValueString(b)
}
