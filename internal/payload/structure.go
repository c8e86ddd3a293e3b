// Package payload builds the JSON entity structures the Splio data API
// accepts. A structure carries an entity's default fields at the top
// level, mapped custom fields under "fields", the single key field
// entry, and for receipts and contacts their nested order lines and
// list subscriptions.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/record"
)

// DefaultValue is one top-level default field of an entity structure.
type DefaultValue struct {
	Name  string
	Value any
}

// CustomField is one admin-mapped non-default field. On the wire it
// renders as {"name": ..., "value": ...}.
type CustomField struct {
	Name  string
	Value any
}

// MarshalJSON renders the field in its wire form.
func (c CustomField) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}{c.Name, c.Value})
}

// SubscriptionAction marks a contact-list entry as an unsubscription.
// Subscriptions carry no action at all.
const SubscriptionAction = "unsubscribe"

// ListSubscription is one entry of a contact's "lists" array.
type ListSubscription struct {
	Name   string `json:"name"`
	Action string `json:"action,omitempty"`
}

// OrderLine is one nested product entry of a receipt structure: default
// fields at the top level plus a "fields" array of custom fields.
type OrderLine struct {
	Defaults []DefaultValue
	Fields   []CustomField
}

// Default returns the value of a default field, or nil when absent.
func (o *OrderLine) Default(name string) any {
	for _, d := range o.Defaults {
		if d.Name == name {
			return d.Value
		}
	}
	return nil
}

// MarshalJSON renders the order line with default fields in catalog
// order followed by the custom "fields" array.
func (o *OrderLine) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, d := range o.Defaults {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, d.Name, d.Value); err != nil {
			return nil, err
		}
	}
	if len(o.Fields) > 0 {
		if len(o.Defaults) > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, "fields", o.Fields); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Structure is the full wire payload for one entity. Marshaling is
// deterministic: default fields render in catalog order, custom fields
// in mapping order, followed by keyField, the entity-specific nested
// members and the entity type tag.
type Structure struct {
	Entity mapping.EntityType

	Defaults []DefaultValue
	Customs  []CustomField

	// KeyField names the remote field configured as the entity key;
	// KeyValue holds its resolved value. Both are zero when no key
	// mapping exists.
	KeyField string
	KeyValue any

	// Products is the nested order-lines array of a receipt. HasProducts
	// distinguishes an intentionally empty array (the receipt-removal
	// form) from a structure that is not a receipt at all.
	Products    []*OrderLine
	HasProducts bool

	// Lists carries a contact's list subscription directives.
	Lists    []ListSubscription
	HasLists bool
}

// Default returns the value of a top-level default field, or nil.
func (s *Structure) Default(name string) any {
	for _, d := range s.Defaults {
		if d.Name == name {
			return d.Value
		}
	}
	return nil
}

// SetDefault replaces the value of a default field, appending the field
// when it is not present yet. Request listeners use this to rewrite
// payloads before dispatch.
func (s *Structure) SetDefault(name string, value any) {
	for i := range s.Defaults {
		if s.Defaults[i].Name == name {
			s.Defaults[i].Value = value
			if s.KeyField == name {
				s.KeyValue = value
			}
			return
		}
	}
	s.Defaults = append(s.Defaults, DefaultValue{Name: name, Value: value})
}

// KeyString renders the key value the way it is placed in request URIs.
func (s *Structure) KeyString() string {
	return record.ValueString(s.KeyValue)
}

// Clone returns a deep copy of the structure. Listeners that replace a
// payload start from a clone so the dispatch loop's copy stays intact.
func (s *Structure) Clone() *Structure {
	c := *s
	c.Defaults = append([]DefaultValue(nil), s.Defaults...)
	c.Customs = append([]CustomField(nil), s.Customs...)
	if s.Products != nil {
		c.Products = make([]*OrderLine, len(s.Products))
		for i, ol := range s.Products {
			line := &OrderLine{
				Defaults: append([]DefaultValue(nil), ol.Defaults...),
				Fields:   append([]CustomField(nil), ol.Fields...),
			}
			c.Products[i] = line
		}
	}
	c.Lists = append([]ListSubscription(nil), s.Lists...)
	return &c
}

// MarshalJSON renders the structure in its wire form.
func (s *Structure) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true

	member := func(name string, v any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		return writeMember(&buf, name, v)
	}

	for _, d := range s.Defaults {
		if err := member(d.Name, d.Value); err != nil {
			return nil, err
		}
	}

	if len(s.Customs) > 0 {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeCustoms(&buf, s.Customs); err != nil {
			return nil, err
		}
	}

	if s.KeyField != "" {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(s.KeyField)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.KeyValue)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, `"keyField":{%s:%s}`, key, val)
	}

	if s.HasLists {
		lists := s.Lists
		if lists == nil {
			lists = []ListSubscription{}
		}
		if err := member("lists", lists); err != nil {
			return nil, err
		}
	}

	if s.HasProducts {
		products := s.Products
		if products == nil {
			products = []*OrderLine{}
		}
		if err := member("products", products); err != nil {
			return nil, err
		}
	}

	if err := member("splioEntityType", string(s.Entity)); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, name string, v any) error {
	key, err := json.Marshal(name)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal member %s: %w", name, err)
	}
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(val)
	return nil
}

// writeCustoms renders the "fields" object: custom fields keyed by name
// in mapping order.
func writeCustoms(buf *bytes.Buffer, customs []CustomField) error {
	buf.WriteString(`"fields":{`)
	for i, c := range customs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(buf, c.Name, c); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
