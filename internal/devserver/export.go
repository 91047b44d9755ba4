package devserver

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matthewbaird/formsync/internal/form"
)

// writeCSV writes one header row (SubmittedAt plus field labels in order)
// and one row per response.
func writeCSV(w io.Writer, f form.Form, responses []form.Response) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(f.Fields)+1)
	header = append(header, "SubmittedAt")
	for _, fd := range f.Fields {
		header = append(header, fd.Label)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range responses {
		row := make([]string, 0, len(header))
		submitted := ""
		if r.SubmittedAt != nil {
			submitted = r.SubmittedAt.Format(time.RFC3339)
		}
		row = append(row, submitted)
		for _, fd := range f.Fields {
			row = append(row, csvValue(r.Responses[fd.ID]))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string, []any:
		return strings.Join(form.Choices(t), "; ")
	}
	return fmt.Sprint(v)
}
