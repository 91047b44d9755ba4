package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/formsync/internal/form"
)

var errInvalidForm = errors.New("form is not valid")

var validateCmd = &cobra.Command{
	Use:   "validate <form.json>",
	Short: "Check a form definition the way the builder does before saving",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return validateForm(cmd.OutOrStdout(), data)
	},
}

func validateForm(out io.Writer, data []byte) error {
	var f form.Form
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode form: %w", err)
	}
	f = form.Normalize(f)
	problems := form.ValidateForm(f)
	if len(problems) == 0 {
		fmt.Fprintf(out, "ok: %q has %d fields\n", f.Title, len(f.Fields))
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(out, "- %s\n", p)
	}
	return errInvalidForm
}
