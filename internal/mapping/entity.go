// Package mapping holds the field-mapping catalog: which Splio entity
// types are in play, which local field feeds each remote field, and how
// local field paths are parsed. The catalog is written by admin tooling
// (out of scope here) and read-only to the sync engine.
package mapping

// EntityType is one of the fixed object kinds the Splio data API
// understands. contacts_lists is synthetic: its mappings describe
// per-list subscription fields on contacts, not a standalone object.
type EntityType string

const (
	EntityContacts      EntityType = "contacts"
	EntityProducts      EntityType = "products"
	EntityReceipts      EntityType = "receipts"
	EntityOrderLines    EntityType = "order_lines"
	EntityStores        EntityType = "stores"
	EntityContactsLists EntityType = "contacts_lists"
)

// EntityTypes lists all entity types in their canonical order. Iteration
// over configured entities follows this order so classification is
// deterministic.
var EntityTypes = []EntityType{
	EntityContacts,
	EntityProducts,
	EntityReceipts,
	EntityOrderLines,
	EntityStores,
	EntityContactsLists,
}

// Valid reports whether t is a known Splio entity type.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DefaultFields enumerates the schema-intrinsic fields of each entity
// type. These are always present at the top level of the wire payload;
// anything else the admin maps becomes a custom field in the "fields"
// sub-array.
var DefaultFields = map[EntityType][]string{
	EntityContacts: {
		"email",
		"date",
		"firstname",
		"lastname",
		"lang",
		"cellphone",
	},
	EntityProducts: {
		"extid",
		"date_added",
		"date_updated",
		"name",
		"brand",
		"description",
		"price",
		"sku",
		"category",
		"img_url",
	},
	EntityReceipts: {
		"extid",
		"customer",
		"id_store",
		"date_added",
		"date_order",
		"shipping_amount",
		"discount_amount",
		"total_price",
		"order_completed",
		"tax_amount",
		"currency",
		"salesperson",
	},
	EntityOrderLines: {
		"extid",
		"order_id",
		"unit_price",
		"quantity",
		"discount_amount",
		"tax_amount",
		"total_line_amount",
		"currency",
	},
	EntityStores: {
		"extid",
		"date_added",
		"date_updated",
		"name",
		"channel",
		"store_type",
		"manager",
	},
	EntityContactsLists: {},
}

// IsDefaultField reports whether name is a schema-intrinsic field of
// entity type t.
func IsDefaultField(t EntityType, name string) bool {
	for _, f := range DefaultFields[t] {
		if f == name {
			return true
		}
	}
	return false
}
