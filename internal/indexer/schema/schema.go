// Package schema declares the fields of an index. A schema is fixed when the
// index is created and every document is validated against it.
package schema

import (
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// FieldSpec declares one field and whether its terms are searchable
// (Indexed) and whether its raw value is retrievable (Stored).
type FieldSpec struct {
	Name    string `yaml:"name" json:"name"`
	Indexed bool   `yaml:"indexed" json:"indexed"`
	Stored  bool   `yaml:"stored" json:"stored"`
}

// Schema is the ordered set of fields of an index.
type Schema struct {
	Fields []FieldSpec `yaml:"fields" json:"fields"`
}

// Default is the CSV row layout: the joined cells are
// searchable under "index" and retrievable verbatim under "row".
func Default() Schema {
	return Schema{
		Fields: []FieldSpec{
			{Name: "index", Indexed: true},
			{Name: "row", Stored: true},
		},
	}
}

// Validate checks that the schema is usable.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return apperrors.New(apperrors.ErrSchema, http.StatusBadRequest, "schema declares no fields")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return apperrors.Schema("field #%d has an empty name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return apperrors.Schema("field %q declared twice", f.Name)
		}
		if !f.Indexed && !f.Stored {
			return apperrors.Schema("field %q is neither indexed nor stored", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Lookup returns the declaration of the named field.
func (s Schema) Lookup(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// IndexedFields returns the names of the indexed fields in declaration order.
func (s Schema) IndexedFields() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Indexed {
			names = append(names, f.Name)
		}
	}
	return names
}

// StoredFields returns the names of the stored fields in declaration order.
func (s Schema) StoredFields() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Stored {
			names = append(names, f.Name)
		}
	}
	return names
}

// DefaultField is the field bare query terms are matched against: the first
// indexed field. It is empty when nothing is indexed.
func (s Schema) DefaultField() string {
	for _, f := range s.Fields {
		if f.Indexed {
			return f.Name
		}
	}
	return ""
}

// Equal reports whether both schemas declare the same fields in the same
// order with the same flags.
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}
