package form

import (
	"fmt"
	"strings"
)

// FieldType is the closed set of question kinds a form can contain.
type FieldType string

const (
	FieldText           FieldType = "text"
	FieldTextarea       FieldType = "textarea"
	FieldEmail          FieldType = "email"
	FieldNumber         FieldType = "number"
	FieldMultipleChoice FieldType = "multiple_choice"
	FieldCheckbox       FieldType = "checkbox"
	FieldRating         FieldType = "rating"
)

// FieldTypes lists every FieldType in palette order.
var FieldTypes = []FieldType{
	FieldText,
	FieldTextarea,
	FieldEmail,
	FieldNumber,
	FieldMultipleChoice,
	FieldCheckbox,
	FieldRating,
}

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldEmail, FieldNumber,
		FieldMultipleChoice, FieldCheckbox, FieldRating:
		return true
	}
	return false
}

// RequiresOptions reports whether fields of this type carry a choice list.
func (t FieldType) RequiresOptions() bool {
	switch t {
	case FieldMultipleChoice, FieldCheckbox:
		return true
	case FieldText, FieldTextarea, FieldEmail, FieldNumber, FieldRating:
		return false
	}
	return false
}

// DisplayName renders the type for humans: underscores become spaces.
func (t FieldType) DisplayName() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func (t FieldType) String() string { return string(t) }

// ParseFieldType converts s to a FieldType, rejecting unknown names.
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown field type %q", s)
	}
	return t, nil
}

// UnmarshalText makes decoding of stored forms fail on unknown types.
func (t *FieldType) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}
