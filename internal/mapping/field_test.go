package mapping

import "testing"

func TestFieldValidate(t *testing.T) {
	valid := Field{
		ID:         FieldID(EntityContacts, "email"),
		Entity:     EntityContacts,
		SplioField: "email",
		LocalField: "mail",
		Type:       TypeString,
		IsKey:      true,
		IsDefault:  true,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	cases := []struct {
		name   string
		mutate func(*Field)
	}{
		{"missing id", func(f *Field) { f.ID = "" }},
		{"unknown entity", func(f *Field) { f.Entity = "invoices" }},
		{"missing splio field", func(f *Field) { f.SplioField = "" }},
		{"unknown value type", func(f *Field) { f.Type = "timestamp" }},
		{"order line key", func(f *Field) { f.Entity = EntityOrderLines }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := valid
			tc.mutate(&f)
			if err := f.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestFieldID(t *testing.T) {
	if got := FieldID(EntityContacts, "email"); got != "email_contacts" {
		t.Errorf("FieldID = %s", got)
	}
}

func TestIsDefaultField(t *testing.T) {
	if !IsDefaultField(EntityContacts, "email") {
		t.Error("email should be a contacts default field")
	}
	if IsDefaultField(EntityContacts, "loyalty_points") {
		t.Error("loyalty_points should not be a default field")
	}
	if IsDefaultField(EntityContactsLists, "anything") {
		t.Error("contacts_lists carries no default fields")
	}
}
