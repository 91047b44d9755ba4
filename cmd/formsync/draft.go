package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/formsync/internal/config"
	"github.com/matthewbaird/formsync/internal/draft"
)

var errMemoryDraft = errors.New(`the "memory" draft backend lives only inside one process; set FORMSYNC_DRAFT_BACKEND to sqlite or redis`)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Inspect the unsaved-form draft",
	Long: `Inspects the draft kept by the sqlite or redis backend. The memory backend
holds nothing between processes, so these commands refuse it.`,
}

var draftShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored draft as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openSharedDraftStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		return showDraft(cmd.Context(), cmd.OutOrStdout(), store)
	},
}

var draftClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored draft",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openSharedDraftStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		store.Clear(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "draft cleared")
		return nil
	},
}

func init() {
	draftCmd.AddCommand(draftShowCmd, draftClearCmd)
}

func showDraft(ctx context.Context, out io.Writer, store *draft.Store) error {
	f := store.Load(ctx)
	if f == nil {
		fmt.Fprintln(out, "no draft")
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// openSharedDraftStore is openDraftStore for commands that read a draft
// written by another process.
func openSharedDraftStore(ctx context.Context, c *config.Config) (*draft.Store, func() error, error) {
	if c.DraftBackend == config.BackendMemory {
		return nil, nil, errMemoryDraft
	}
	return openDraftStore(ctx, c)
}

// openDraftStore opens the slot named by the configured backend. The
// returned func releases it.
func openDraftStore(ctx context.Context, c *config.Config) (*draft.Store, func() error, error) {
	var (
		slot    draft.Slot
		closeFn = func() error { return nil }
	)
	switch c.DraftBackend {
	case config.BackendSQLite:
		s, err := draft.OpenSQLiteSlot(ctx, c.DraftPath, draft.DefaultKey)
		if err != nil {
			return nil, nil, err
		}
		slot, closeFn = s, s.Close
	case config.BackendRedis:
		s, err := draft.NewRedisSlot(ctx, c.RedisURL, draft.DefaultKey, 0)
		if err != nil {
			return nil, nil, err
		}
		slot, closeFn = s, s.Close
	default:
		slot = draft.NewMemorySlot()
	}
	return draft.NewStore(slot, logger), closeFn, nil
}
