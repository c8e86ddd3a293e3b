package mapping

import (
	"fmt"
	"strings"
)

// FieldRef is the parsed form of a local field path. A direct field is a
// single node; a reference expression `{{field.targetType.targetField}}`
// becomes a chain: the node's Name holds the foreign-key field on the
// current record, TargetType the referenced record type, and Next the
// path to resolve on the referenced record. Chains nest to arbitrary
// depth (`{{a.b.c.d.e}}` hops a→b then c→d then reads e), even though
// the mapping admin UI currently only authors one level.
type FieldRef struct {
	Name       string
	TargetType string
	Next       *FieldRef
}

// IsReference reports whether the node dereferences another record.
func (f *FieldRef) IsReference() bool {
	return f != nil && f.TargetType != ""
}

// Leaf returns the final field name of the chain: the name a referenced
// value is known by on the record that actually stores it.
func (f *FieldRef) Leaf() string {
	if f == nil {
		return ""
	}
	for f.Next != nil {
		f = f.Next
	}
	return f.Name
}

// String renders the path back to its configured form.
func (f *FieldRef) String() string {
	if f == nil {
		return ""
	}
	if !f.IsReference() {
		return f.Name
	}
	var parts []string
	for f != nil {
		parts = append(parts, f.Name)
		if f.TargetType != "" {
			parts = append(parts, f.TargetType)
		}
		f = f.Next
	}
	return "{{" + strings.Join(parts, ".") + "}}"
}

// ParseFieldRef parses a configured local field path into its FieldRef
// form. Plain names parse to a single direct node. Reference expressions
// are wrapped in double braces and contain an odd number of dot-separated
// segments: field, target type, field, target type, ..., final field.
// Parsing happens once when mappings are loaded, not on every resolve.
func ParseFieldRef(path string) (*FieldRef, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}

	if !strings.HasPrefix(path, "{{") {
		if strings.Contains(path, "{{") || strings.Contains(path, "}}") {
			return nil, fmt.Errorf("malformed field path %q", path)
		}
		return &FieldRef{Name: path}, nil
	}

	if !strings.HasSuffix(path, "}}") {
		return nil, fmt.Errorf("malformed field path %q: missing closing braces", path)
	}

	inner := path[2 : len(path)-2]
	segments := strings.Split(inner, ".")
	if len(segments)%2 == 0 || len(segments) < 3 {
		return nil, fmt.Errorf("malformed reference path %q: want field.targetType.targetField", path)
	}
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return nil, fmt.Errorf("malformed reference path %q: empty segment", path)
		}
	}

	// Build the chain back to front: the last segment is the leaf field.
	ref := &FieldRef{Name: segments[len(segments)-1]}
	for i := len(segments) - 3; i >= 0; i -= 2 {
		ref = &FieldRef{
			Name:       segments[i],
			TargetType: segments[i+1],
			Next:       ref,
		}
	}
	return ref, nil
}
