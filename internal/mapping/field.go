package mapping

import "fmt"

// ValueType is the admin-declared type of a mapped field's value.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeDouble  ValueType = "double"
	TypeDate    ValueType = "date"
)

// ValueTypes lists all valid field value types.
var ValueTypes = []ValueType{TypeString, TypeInteger, TypeDouble, TypeDate}

// Field maps one remote Splio field onto a local field path.
type Field struct {
	// ID is unique across all mappings, conventionally
	// "<splio_field>_<splio_entity>".
	ID string

	Entity     EntityType
	SplioField string

	// LocalField is the configured local path; empty means the admin left
	// the remote field unmapped (default fields always have a row, mapped
	// or not).
	LocalField string

	// Ref is LocalField parsed once at load time; nil when unmapped.
	Ref *FieldRef

	Type      ValueType
	IsKey     bool
	IsDefault bool
}

// Validate checks the mapping row's internal consistency.
func (f Field) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("field mapping missing id")
	}
	if !f.Entity.Valid() {
		return fmt.Errorf("field mapping %s: unknown entity type %q", f.ID, f.Entity)
	}
	if f.SplioField == "" {
		return fmt.Errorf("field mapping %s: splio field name is required", f.ID)
	}
	if f.Type != "" {
		valid := false
		for _, t := range ValueTypes {
			if f.Type == t {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("field mapping %s: unknown value type %q", f.ID, f.Type)
		}
	}
	if f.IsKey && f.Entity == EntityOrderLines {
		return fmt.Errorf("field mapping %s: order_lines carry no key field", f.ID)
	}
	return nil
}

// FieldID builds the conventional mapping id for an entity's remote field.
func FieldID(entity EntityType, splioField string) string {
	return splioField + "_" + string(entity)
}
