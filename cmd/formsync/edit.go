package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matthewbaird/formsync/internal/api"
	"github.com/matthewbaird/formsync/internal/builder"
	"github.com/matthewbaird/formsync/internal/draft"
	"github.com/matthewbaird/formsync/internal/form"
)

var editPublish bool

var editCmd = &cobra.Command{
	Use:   "edit <form.json>",
	Short: "Edit a form file with draft autosave",
	Long: `Loads the form file into a builder session and follows every change to it.
While the form has never been saved the draft is written every autosave
interval. When the file does not exist yet, an unsaved draft is restored
into it. With --publish each valid change is saved to the server, and the
id of a newly created form is written back to the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, closeFn, err := openDraftStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		ed, err := openEditor(ctx, cmd.OutOrStdout(), args[0], store, api.New(cfg.APIBase))
		if err != nil {
			return err
		}
		return ed.run(ctx)
	},
}

func init() {
	editCmd.Flags().BoolVar(&editPublish, "publish", false, "save every valid change to the server")
}

// editor ties a form file to a builder session.
type editor struct {
	path    string
	out     io.Writer
	publish bool
	session *builder.Session
}

// openEditor starts a session for path using the configured autosave
// interval. A file carrying an id resumes that saved form.
func openEditor(ctx context.Context, out io.Writer, path string, store *draft.Store, saver builder.Saver) (*editor, error) {
	opts := builder.Options{
		Drafts:           store,
		AutosaveInterval: cfg.AutosaveInterval,
		Logger:           logger,
	}
	ed := &editor{path: path, out: out, publish: editPublish}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		ed.session = builder.New(nil, saver, opts)
		if ed.session.RestoreDraft(ctx) {
			f := ed.session.Form()
			fmt.Fprintf(out, "restored unsaved draft %q (%d fields)\n", f.Title, len(f.Fields))
			if err := ed.writeFile(f); err != nil {
				return nil, err
			}
		}
		return ed, nil
	case err != nil:
		return nil, err
	}

	var f form.Form
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if f.ID != "" {
		ed.session = builder.New(&f, saver, opts)
	} else {
		ed.session = builder.New(nil, saver, opts)
		ed.session.Replace(f)
	}
	return ed, nil
}

// run autosaves and reloads the file on change until ctx is done.
func (ed *editor) run(ctx context.Context) error {
	ed.session.StartAutosave(ctx)
	defer ed.session.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", ed.path, err)
	}
	defer watcher.Close()
	// Editors often replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(ed.path)); err != nil {
		return fmt.Errorf("watch %s: %w", ed.path, err)
	}
	target := filepath.Clean(ed.path)

	debounce := time.NewTicker(100 * time.Millisecond)
	defer debounce.Stop()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(ed.out, "stopped (%s)\n", ed.session.Phase())
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == target && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				dirty = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("edit: watcher error", zap.Error(err))
		case <-debounce.C:
			if !dirty {
				continue
			}
			dirty = false
			data, err := os.ReadFile(ed.path)
			if err != nil {
				logger.Warn("edit: reload failed", zap.Error(err))
				continue
			}
			ed.apply(ctx, data)
		}
	}
}

// apply replaces the session's form with data and reports the outcome.
func (ed *editor) apply(ctx context.Context, data []byte) {
	var f form.Form
	if err := json.Unmarshal(data, &f); err != nil {
		fmt.Fprintf(ed.out, "cannot read form: %v\n", err)
		return
	}
	ed.session.Replace(f)

	if problems := ed.session.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(ed.out, "- %s\n", p)
		}
		return
	}
	if !ed.publish {
		fmt.Fprintln(ed.out, "valid")
		return
	}

	created := ed.session.Form().ID == ""
	saved, err := ed.session.Save(ctx)
	if err != nil {
		fmt.Fprintf(ed.out, "save failed: %v\n", err)
		return
	}
	fmt.Fprintf(ed.out, "saved %s\n", saved.ID)
	if created {
		if err := ed.writeFile(saved); err != nil {
			logger.Warn("edit: writing id back failed", zap.Error(err))
		}
	}
}

func (ed *editor) writeFile(f form.Form) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ed.path, append(data, '\n'), 0o644)
}
