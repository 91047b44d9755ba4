// Package form holds the form definition model and the pure operations
// that edit and validate it. Every operation returns a new Form and leaves
// its input untouched, so callers always hold the latest value.
package form

import (
	"slices"
	"sort"
	"time"
)

// Field is one question of a form.
type Field struct {
	ID          string    `json:"id"`
	Type        FieldType `json:"type"`
	Label       string    `json:"label"`
	Required    bool      `json:"required"`
	Placeholder string    `json:"placeholder,omitempty"`
	Options     []string  `json:"options,omitempty"`
	MinValue    *float64  `json:"minValue,omitempty"`
	MaxValue    *float64  `json:"maxValue,omitempty"`
	Order       int       `json:"order"` // engine-maintained, dense 0..n-1
}

// Form is a titled, ordered collection of fields. ID is empty until the
// form has been persisted by the server.
type Form struct {
	ID            string     `json:"id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Fields        []Field    `json:"fields"`
	ShareableLink string     `json:"shareableLink,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of f.
func (f Field) Clone() Field {
	out := f
	if f.Options != nil {
		out.Options = slices.Clone(f.Options)
	}
	if f.MinValue != nil {
		v := *f.MinValue
		out.MinValue = &v
	}
	if f.MaxValue != nil {
		v := *f.MaxValue
		out.MaxValue = &v
	}
	return out
}

// Clone returns a deep copy of f.
func (f Form) Clone() Form {
	out := f
	if f.Fields != nil {
		out.Fields = make([]Field, len(f.Fields))
		for i, fld := range f.Fields {
			out.Fields[i] = fld.Clone()
		}
	}
	if f.CreatedAt != nil {
		t := *f.CreatedAt
		out.CreatedAt = &t
	}
	if f.UpdatedAt != nil {
		t := *f.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// IndexOf returns the position of the field with the given id, or -1.
func (f Form) IndexOf(fieldID string) int {
	for i, fld := range f.Fields {
		if fld.ID == fieldID {
			return i
		}
	}
	return -1
}

// FieldByID looks up a field by id.
func (f Form) FieldByID(fieldID string) (Field, bool) {
	if i := f.IndexOf(fieldID); i >= 0 {
		return f.Fields[i], true
	}
	return Field{}, false
}

// Renumber assigns every field its positional index as order.
func Renumber(f Form) Form {
	out := f.Clone()
	for i := range out.Fields {
		out.Fields[i].Order = i
	}
	return out
}

// Normalize sorts fields by their stored order (stable for ties) and then
// renumbers them. Used when a whole form arrives from outside the engine,
// e.g. a restored draft or a server response.
func Normalize(f Form) Form {
	out := f.Clone()
	sort.SliceStable(out.Fields, func(i, j int) bool {
		return out.Fields[i].Order < out.Fields[j].Order
	})
	return Renumber(out)
}

// OrderDense reports whether every field's order equals its index.
func OrderDense(f Form) bool {
	for i, fld := range f.Fields {
		if fld.Order != i {
			return false
		}
	}
	return true
}
