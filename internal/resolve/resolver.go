// Package resolve turns configured local field paths into scalar values.
// Reference chains are followed through the record source; failures
// degrade to empty values with a log entry, never to an error that could
// abort a sync batch.
package resolve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/record"
)

// Resolver resolves field references against a record source.
type Resolver struct {
	source record.Source
}

// New creates a resolver over the given record source.
func New(source record.Source) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the value of ref on rec. Multi-valued direct fields
// come back as one comma-joined string; single values are unwrapped
// scalars. Missing referenced records, incompatible fields and empty
// paths all resolve to nil after a log entry.
func (r *Resolver) Resolve(ctx context.Context, ref *mapping.FieldRef, rec *record.Record) any {
	value := r.ResolveRaw(ctx, ref, rec)
	if vals, ok := value.([]any); ok {
		parts := make([]string, 0, len(vals))
		for _, v := range vals {
			parts = append(parts, record.ValueString(v))
		}
		return strings.Join(parts, ", ")
	}
	return value
}

// ResolveRaw behaves like Resolve but keeps multi-valued direct fields
// as a value slice. The contact-list builder needs the raw shape to
// check whether a list name is contained in the set.
func (r *Resolver) ResolveRaw(ctx context.Context, ref *mapping.FieldRef, rec *record.Record) any {
	if ref == nil {
		// An unmapped remote field; the builder logs the mapping id, we
		// just produce the empty value.
		return nil
	}
	if rec == nil {
		return nil
	}

	if !ref.IsReference() {
		vals := rec.Values(ref.Name)
		switch len(vals) {
		case 0:
			return nil
		case 1:
			return vals[0]
		default:
			return vals
		}
	}

	return r.resolveReference(ctx, ref, rec)
}

func (r *Resolver) resolveReference(ctx context.Context, ref *mapping.FieldRef, rec *record.Record) any {
	fk := rec.Value(ref.Name)
	if fk == nil || record.ValueString(fk) == "" {
		return nil
	}

	target, err := r.source.Load(ctx, ref.TargetType, record.ValueString(fk))
	if err != nil {
		slog.Warn("referenced record could not be loaded",
			"component", "resolver",
			"field", ref.Name,
			"target_type", ref.TargetType,
			"target_id", record.ValueString(fk),
			"error", err,
		)
		return nil
	}

	// Recurse: the rest of the chain resolves on the referenced record.
	return r.ResolveRaw(ctx, ref.Next, target)
}
