package resolve

import (
	"context"
	"testing"

	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/record"
)

// fakeSource serves records keyed by type and id.
type fakeSource struct {
	records map[string]*record.Record
}

func (f *fakeSource) Load(_ context.Context, localType, id string) (*record.Record, error) {
	if r, ok := f.records[localType+"/"+id]; ok {
		return r, nil
	}
	return nil, record.ErrNotFound
}

func (f *fakeSource) LoadByProperty(_ context.Context, localType, field string, value any) ([]*record.Record, error) {
	var out []*record.Record
	for _, r := range f.records {
		if r.Type != localType {
			continue
		}
		for _, v := range r.Values(field) {
			if record.ValueEquals(v, value) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func mustParse(t *testing.T, path string) *mapping.FieldRef {
	t.Helper()
	ref, err := mapping.ParseFieldRef(path)
	if err != nil {
		t.Fatalf("ParseFieldRef(%q): %v", path, err)
	}
	return ref
}

func TestResolve_DirectField(t *testing.T) {
	r := New(&fakeSource{})
	rec := record.New("user", "1", "customer").Set("mail", "a@example.com")

	got := r.Resolve(context.Background(), mustParse(t, "mail"), rec)
	if got != "a@example.com" {
		t.Errorf("got %v, want a@example.com", got)
	}
}

func TestResolve_MissingFieldIsNil(t *testing.T) {
	r := New(&fakeSource{})
	rec := record.New("user", "1", "customer")

	if got := r.Resolve(context.Background(), mustParse(t, "mail"), rec); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestResolve_MultiValueJoined(t *testing.T) {
	r := New(&fakeSource{})
	rec := record.New("node", "1", "product").Set("tags", "red", "blue")

	got := r.Resolve(context.Background(), mustParse(t, "tags"), rec)
	if got != "red, blue" {
		t.Errorf("got %v, want %q", got, "red, blue")
	}
}

func TestResolveRaw_MultiValueKeepsSlice(t *testing.T) {
	r := New(&fakeSource{})
	rec := record.New("node", "1", "product").Set("tags", "red", "blue")

	got := r.ResolveRaw(context.Background(), mustParse(t, "tags"), rec)
	vals, ok := got.([]any)
	if !ok || len(vals) != 2 {
		t.Fatalf("got %v, want a 2-element slice", got)
	}
}

func TestResolve_ReferenceChain(t *testing.T) {
	src := &fakeSource{records: map[string]*record.Record{
		"profile/42": record.New("profile", "42", "customer_profile").Set("field_email", "chain@example.com"),
	}}
	r := New(src)
	rec := record.New("user", "1", "customer").Set("field_profile", "42")

	got := r.Resolve(context.Background(), mustParse(t, "{{field_profile.profile.field_email}}"), rec)
	if got != "chain@example.com" {
		t.Errorf("got %v, want chain@example.com", got)
	}
}

func TestResolve_TwoHopReference(t *testing.T) {
	src := &fakeSource{records: map[string]*record.Record{
		"profile/42": record.New("profile", "42", "customer_profile").Set("field_address", "7"),
		"address/7":  record.New("address", "7", "postal").Set("city", "Lyon"),
	}}
	r := New(src)
	rec := record.New("user", "1", "customer").Set("field_profile", "42")

	got := r.Resolve(context.Background(), mustParse(t, "{{field_profile.profile.field_address.address.city}}"), rec)
	if got != "Lyon" {
		t.Errorf("got %v, want Lyon", got)
	}
}

func TestResolve_BrokenReferenceIsNil(t *testing.T) {
	r := New(&fakeSource{})
	rec := record.New("user", "1", "customer").Set("field_profile", "42")

	got := r.Resolve(context.Background(), mustParse(t, "{{field_profile.profile.field_email}}"), rec)
	if got != nil {
		t.Errorf("got %v, want nil for missing target record", got)
	}
}

func TestResolve_EmptyForeignKeyIsNil(t *testing.T) {
	r := New(&fakeSource{})
	rec := record.New("user", "1", "customer").Set("field_profile", "")

	got := r.Resolve(context.Background(), mustParse(t, "{{field_profile.profile.field_email}}"), rec)
	if got != nil {
		t.Errorf("got %v, want nil for empty foreign key", got)
	}
}

func TestResolve_NilRefIsNil(t *testing.T) {
	r := New(&fakeSource{})
	rec := record.New("user", "1", "customer").Set("mail", "a@example.com")

	if got := r.Resolve(context.Background(), nil, rec); got != nil {
		t.Errorf("got %v, want nil for unmapped field", got)
	}
}
