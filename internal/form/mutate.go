package form

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID generates field ids. Tests may replace it for stable output.
var NewID = func() string { return uuid.NewString() }

// FieldPatch carries a partial field update. Nil members are left alone.
// ID and Order are deliberately absent: the engine owns them.
type FieldPatch struct {
	Type        *FieldType
	Label       *string
	Required    *bool
	Placeholder *string
	Options     []string
	MinValue    *float64
	MaxValue    *float64
	ClearMin    bool
	ClearMax    bool
}

// NewField builds the default field for t at the given position.
func NewField(t FieldType, order int) Field {
	f := Field{
		ID:       NewID(),
		Type:     t,
		Label:    fmt.Sprintf("New %s field", t.DisplayName()),
		Required: false,
		Order:    order,
	}
	if t.RequiresOptions() {
		f.Options = []string{"Option 1"}
	}
	return f
}

// AddField appends a default field of type t and returns the new form and
// the field that was added.
func AddField(f Form, t FieldType) (Form, Field) {
	out := f.Clone()
	fld := NewField(t, len(out.Fields))
	out.Fields = append(out.Fields, fld)
	return out, fld.Clone()
}

// UpdateField merges patch into the field with the given id. Unknown ids
// return the form unchanged. No validation happens here.
func UpdateField(f Form, fieldID string, patch FieldPatch) Form {
	i := f.IndexOf(fieldID)
	if i < 0 {
		return f
	}
	out := f.Clone()
	fld := &out.Fields[i]
	if patch.Type != nil {
		fld.Type = *patch.Type
	}
	if patch.Label != nil {
		fld.Label = *patch.Label
	}
	if patch.Required != nil {
		fld.Required = *patch.Required
	}
	if patch.Placeholder != nil {
		fld.Placeholder = *patch.Placeholder
	}
	if patch.Options != nil {
		fld.Options = append([]string(nil), patch.Options...)
	}
	if patch.ClearMin {
		fld.MinValue = nil
	} else if patch.MinValue != nil {
		v := *patch.MinValue
		fld.MinValue = &v
	}
	if patch.ClearMax {
		fld.MaxValue = nil
	} else if patch.MaxValue != nil {
		v := *patch.MaxValue
		fld.MaxValue = &v
	}
	return out
}

// RemoveField drops the field with the given id and renumbers the
// survivors, so order stays dense after every structural change.
func RemoveField(f Form, fieldID string) Form {
	i := f.IndexOf(fieldID)
	if i < 0 {
		return f
	}
	out := f.Clone()
	out.Fields = append(out.Fields[:i], out.Fields[i+1:]...)
	return Renumber(out)
}

// ReorderFields moves the field at from to position to and renumbers every
// field. Out-of-range indices leave the form unchanged.
func ReorderFields(f Form, from, to int) Form {
	n := len(f.Fields)
	if from < 0 || from >= n || to < 0 || to >= n {
		return f
	}
	out := f.Clone()
	moved := out.Fields[from]
	out.Fields = append(out.Fields[:from], out.Fields[from+1:]...)
	out.Fields = append(out.Fields[:to], append([]Field{moved}, out.Fields[to:]...)...)
	return Renumber(out)
}

// AddOption appends "Option N+1" to a choice field.
func AddOption(f Form, fieldID string) Form {
	i := f.IndexOf(fieldID)
	if i < 0 || f.Fields[i].Options == nil {
		return f
	}
	out := f.Clone()
	fld := &out.Fields[i]
	fld.Options = append(fld.Options, fmt.Sprintf("Option %d", len(fld.Options)+1))
	return out
}

// RemoveOption drops the option at idx. The last remaining option is kept.
func RemoveOption(f Form, fieldID string, idx int) Form {
	i := f.IndexOf(fieldID)
	if i < 0 {
		return f
	}
	opts := f.Fields[i].Options
	if len(opts) <= 1 || idx < 0 || idx >= len(opts) {
		return f
	}
	out := f.Clone()
	fld := &out.Fields[i]
	fld.Options = append(fld.Options[:idx], fld.Options[idx+1:]...)
	return out
}

// UpdateOption replaces the option text at idx.
func UpdateOption(f Form, fieldID string, idx int, text string) Form {
	i := f.IndexOf(fieldID)
	if i < 0 {
		return f
	}
	if idx < 0 || idx >= len(f.Fields[i].Options) {
		return f
	}
	out := f.Clone()
	out.Fields[i].Options[idx] = text
	return out
}
