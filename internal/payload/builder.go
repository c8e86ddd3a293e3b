package payload

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/atriumdigital/spliosync/internal/config"
	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/record"
	"github.com/atriumdigital/spliosync/internal/resolve"
)

// dateFormat is the timestamp rendering the Splio data API expects.
const dateFormat = "2006-01-02 15:04:05"

// RemovalFields are the receipt defaults that, when all zero, mark the
// receipt as removed: the API has no DELETE for orders, so deletion is
// an update that zeroes these and empties the products array.
var RemovalFields = []string{
	"shipping_amount",
	"discount_amount",
	"total_price",
	"order_completed",
}

// Catalog is the slice of the mapping store the builder needs.
type Catalog interface {
	FieldsFor(ctx context.Context, entity mapping.EntityType) ([]mapping.Field, error)
}

// Builder assembles wire structures from local records using the
// admin-configured field mappings.
type Builder struct {
	catalog  Catalog
	source   record.Source
	resolver *resolve.Resolver
	entities config.EntityMap
	log      *slog.Logger
}

// NewBuilder wires a builder over its collaborators.
func NewBuilder(catalog Catalog, source record.Source, resolver *resolve.Resolver, entities config.EntityMap) *Builder {
	return &Builder{
		catalog:  catalog,
		source:   source,
		resolver: resolver,
		entities: entities,
		log:      slog.Default().With("component", "payload"),
	}
}

// Build assembles the wire structure of one record. Unresolvable field
// values degrade to null members; only mapping-catalog failures return
// an error.
func (b *Builder) Build(ctx context.Context, entity mapping.EntityType, rec *record.Record) (*Structure, error) {
	fields, err := b.catalog.FieldsFor(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("build %s structure: %w", entity, err)
	}

	st := &Structure{Entity: entity}
	for _, f := range fields {
		value := b.fieldValue(ctx, f, rec)
		if f.IsDefault {
			st.Defaults = append(st.Defaults, DefaultValue{Name: f.SplioField, Value: value})
		} else {
			st.Customs = append(st.Customs, CustomField{Name: f.SplioField, Value: value})
		}
		if f.IsKey {
			st.KeyField = f.SplioField
			st.KeyValue = value
		}
	}

	switch entity {
	case mapping.EntityReceipts:
		st.HasProducts = true
		if receiptRemoved(st) {
			// An all-zero receipt is the removal form; its order lines
			// must go with it.
			st.Products = []*OrderLine{}
		} else {
			st.Products = b.buildOrderLines(ctx, st)
		}
	case mapping.EntityContacts:
		st.HasLists = true
		st.Lists = b.buildLists(ctx, rec)
	}

	return st, nil
}

// fieldValue resolves and formats one mapped field on a record.
func (b *Builder) fieldValue(ctx context.Context, f mapping.Field, rec *record.Record) any {
	if f.Ref == nil {
		// Default fields legitimately sit unmapped; a custom field row
		// with no local path is a configuration error.
		if f.LocalField == "" && !f.IsDefault {
			b.log.Error("custom field has no local mapping",
				"mapping_id", f.ID,
				"splio_field", f.SplioField,
			)
		}
		return nil
	}
	value := b.resolver.Resolve(ctx, f.Ref, rec)
	return formatValue(f.Type, value)
}

// buildOrderLines loads and renders all order lines belonging to the
// receipt whose structure was just built. Lookup failures log and
// produce an empty array rather than aborting the batch.
func (b *Builder) buildOrderLines(ctx context.Context, receipt *Structure) []*OrderLine {
	lineConf, ok := b.entities[string(mapping.EntityOrderLines)]
	if !ok || lineConf.LocalType == "" {
		return nil
	}

	lineFields, err := b.catalog.FieldsFor(ctx, mapping.EntityOrderLines)
	if err != nil {
		b.log.Error("order line mappings unavailable", "error", err)
		return nil
	}

	// The order_id mapping tells us which field on the line records
	// carries the parent receipt's key. A reference path stores the key
	// under the chain's leaf name on the record that holds it.
	var orderIDRef *mapping.FieldRef
	for _, f := range lineFields {
		if f.SplioField == "order_id" {
			orderIDRef = f.Ref
			break
		}
	}
	if orderIDRef == nil {
		b.log.Error("order_id mapping for order lines is missing or unmapped")
		return nil
	}

	orderID := receipt.KeyString()
	if orderID == "" {
		return nil
	}

	lineRecords, err := b.source.LoadByProperty(ctx, lineConf.LocalType, orderIDRef.Leaf(), orderID)
	if err != nil {
		b.log.Error("loading order lines failed",
			"local_type", lineConf.LocalType,
			"order_id", orderID,
			"error", err,
		)
		return nil
	}

	lines := make([]*OrderLine, 0, len(lineRecords))
	for _, lineRec := range lineRecords {
		line := &OrderLine{}
		for _, f := range lineFields {
			value := b.fieldValue(ctx, f, lineRec)
			if f.IsDefault {
				line.Defaults = append(line.Defaults, DefaultValue{Name: f.SplioField, Value: value})
			} else {
				line.Fields = append(line.Fields, CustomField{Name: f.SplioField, Value: value})
			}
		}
		// Lines without an external id cannot be addressed remotely.
		if record.ValueString(line.Default("extid")) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// buildLists renders a contact's list subscription directives. Each
// configured list whose local field is mapped and non-empty yields one
// entry: a truthy value, the list's own name, or a multi-value set
// containing it subscribes; any other non-empty value unsubscribes.
// Unmapped or empty-valued lists are omitted entirely.
func (b *Builder) buildLists(ctx context.Context, rec *record.Record) []ListSubscription {
	listFields, err := b.catalog.FieldsFor(ctx, mapping.EntityContactsLists)
	if err != nil {
		b.log.Error("contact list mappings unavailable", "error", err)
		return nil
	}

	var lists []ListSubscription
	for _, f := range listFields {
		if f.Ref == nil {
			continue
		}
		raw := b.resolver.ResolveRaw(ctx, f.Ref, rec)
		switch classifySubscription(raw, f.SplioField) {
		case subscribe:
			lists = append(lists, ListSubscription{Name: f.SplioField})
		case unsubscribe:
			lists = append(lists, ListSubscription{Name: f.SplioField, Action: SubscriptionAction})
		}
	}
	return lists
}

type subscriptionState int

const (
	omit subscriptionState = iota
	subscribe
	unsubscribe
)

func classifySubscription(value any, listName string) subscriptionState {
	if vals, ok := value.([]any); ok {
		if len(vals) == 0 {
			return omit
		}
		for _, v := range vals {
			if record.ValueString(v) == listName {
				return subscribe
			}
		}
		return unsubscribe
	}

	s := record.ValueString(value)
	switch {
	case s == "" || s == "0":
		return omit
	case s == "1" || s == listName:
		return subscribe
	default:
		return unsubscribe
	}
}

// receiptRemoved reports whether the structure is the removal form of a
// receipt: every removal default zero, empty or absent.
func receiptRemoved(st *Structure) bool {
	for _, name := range RemovalFields {
		if !isZero(st.Default(name)) {
			return false
		}
	}
	return true
}

func isZero(v any) bool {
	s := record.ValueString(v)
	return s == "" || s == "0"
}

// formatValue coerces a resolved value to its mapping-declared type.
// Only dates need work: numeric values are epoch seconds rendered in
// the API's timestamp form. Everything else passes through untouched.
func formatValue(t mapping.ValueType, value any) any {
	if t != mapping.TypeDate || value == nil {
		return value
	}

	var epoch int64
	switch n := value.(type) {
	case int:
		epoch = int64(n)
	case int64:
		epoch = n
	case float64:
		epoch = int64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return value
		}
		epoch = int64(parsed)
	default:
		return value
	}

	return time.Unix(epoch, 0).UTC().Format(dateFormat)
}
