package form

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Response is one submission against a form.
type Response struct {
	ID          string         `json:"id,omitempty"`
	FormID      string         `json:"formId"`
	Responses   map[string]any `json:"responses"`
	SubmittedAt *time.Time     `json:"submittedAt,omitempty"`
}

// Response-level messages.
const (
	MsgRequired      = "This field is required"
	MsgInvalidEmail  = "Invalid email format"
	MsgInvalidNumber = "Invalid number format"
	MsgBelowMinimum  = "Value is below minimum"
	MsgAboveMaximum  = "Value is above maximum"
	MsgRatingRange   = "Rating must be between 1 and 5"
	MsgUnknownOption = "Value is not one of the options"
)

// ValidateResponses checks submitted values against the field definitions
// and returns a message per offending field id. An empty map means the
// submission is acceptable.
func ValidateResponses(fields []Field, values map[string]any) map[string]string {
	problems := make(map[string]string)
	for _, f := range fields {
		v, ok := values[f.ID]
		empty := !ok || IsEmptyValue(v)
		if empty {
			if f.Required {
				problems[f.ID] = MsgRequired
			}
			continue
		}
		if msg := checkValue(f, v); msg != "" {
			problems[f.ID] = msg
		}
	}
	return problems
}

func checkValue(f Field, v any) string {
	switch f.Type {
	case FieldEmail:
		s := fmt.Sprint(v)
		if len(s) <= 2 || len(s) >= 254 || !strings.Contains(s, "@") {
			return MsgInvalidEmail
		}
	case FieldNumber:
		n, ok := NumberValue(v)
		if !ok {
			return MsgInvalidNumber
		}
		if f.MinValue != nil && n < *f.MinValue {
			return MsgBelowMinimum
		}
		if f.MaxValue != nil && n > *f.MaxValue {
			return MsgAboveMaximum
		}
	case FieldRating:
		r, ok := NumberValue(v)
		if !ok || r < 1 || r > 5 {
			return MsgRatingRange
		}
	case FieldMultipleChoice:
		if !containsString(f.Options, fmt.Sprint(v)) {
			return MsgUnknownOption
		}
	case FieldCheckbox:
		for _, choice := range Choices(v) {
			if !containsString(f.Options, choice) {
				return MsgUnknownOption
			}
		}
	case FieldText, FieldTextarea:
	}
	return ""
}

// Choices flattens a checkbox value, which may arrive as a list or as a
// comma-separated string.
func Choices(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return []string{fmt.Sprint(v)}
}

// IsEmptyValue reports whether v counts as an unanswered field.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

// NumberValue coerces a JSON number or numeric string.
func NumberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
