package form

import (
	"fmt"
	"strings"
)

// ErrorKind identifies one field-level validation rule.
type ErrorKind int

const (
	MissingLabel ErrorKind = iota + 1
	MissingOptions
	InvertedRange
)

func (k ErrorKind) String() string {
	switch k {
	case MissingLabel:
		return "missing_label"
	case MissingOptions:
		return "missing_options"
	case InvertedRange:
		return "inverted_range"
	}
	return fmt.Sprintf("error_kind(%d)", int(k))
}

// Form-level messages.
const (
	MsgTitleRequired = "Form title is required"
	MsgNoFields      = "At least one field is required"
)

// ValidateField applies every field rule and reports all that fail, in
// rule declaration order.
func ValidateField(f Field) []ErrorKind {
	var kinds []ErrorKind
	if strings.TrimSpace(f.Label) == "" {
		kinds = append(kinds, MissingLabel)
	}
	if f.Type.RequiresOptions() && len(f.Options) == 0 {
		kinds = append(kinds, MissingOptions)
	}
	if f.Type == FieldNumber && f.MinValue != nil && f.MaxValue != nil && *f.MinValue > *f.MaxValue {
		kinds = append(kinds, InvertedRange)
	}
	return kinds
}

// fieldMessage renders kind for the field at position idx.
func fieldMessage(idx int, f Field, kind ErrorKind) string {
	switch kind {
	case MissingLabel:
		return fmt.Sprintf("Field %d must have a label", idx+1)
	case MissingOptions:
		return fmt.Sprintf("Field \"%s\" must have at least one option", f.Label)
	case InvertedRange:
		return fmt.Sprintf("Field \"%s\" minimum value cannot be greater than maximum value", f.Label)
	}
	return fmt.Sprintf("Field %d is invalid (%s)", idx+1, kind)
}

// ValidateForm returns human-readable problems that would block saving.
// It never prevents an edit; it is the gate for the save flow.
func ValidateForm(f Form) []string {
	var errs []string
	if strings.TrimSpace(f.Title) == "" {
		errs = append(errs, MsgTitleRequired)
	}
	if len(f.Fields) == 0 {
		errs = append(errs, MsgNoFields)
	}
	for i, fld := range f.Fields {
		for _, kind := range ValidateField(fld) {
			errs = append(errs, fieldMessage(i, fld, kind))
		}
	}
	return errs
}

// ValidationError lists why a form cannot be saved.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "form invalid: " + strings.Join(e.Problems, "; ")
}

// Check returns a *ValidationError when ValidateForm finds problems.
func Check(f Form) error {
	if problems := ValidateForm(f); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
