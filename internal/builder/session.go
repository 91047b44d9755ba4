// Package builder owns the form being edited: it applies mutations, gates
// saving on validation, talks to the server and keeps the crash-recovery
// draft of a form that has never been saved.
package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/formsync/internal/draft"
	"github.com/matthewbaird/formsync/internal/form"
)

// DefaultAutosaveInterval is how often an unsaved form is written to the
// draft slot.
const DefaultAutosaveInterval = 30 * time.Second

// ErrSaveInProgress is returned by Save while another save is running.
var ErrSaveInProgress = errors.New("builder: save already in progress")

var errNoForm = errors.New("builder: saver returned no form")

// Phase is where the session is in its save lifecycle.
type Phase int

const (
	// PhaseEmpty is a new form that has not been touched or saved.
	PhaseEmpty Phase = iota
	PhaseEditing
	PhaseSaving
	// PhaseSaved means the server holds exactly what the session holds.
	PhaseSaved
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseEditing:
		return "editing"
	case PhaseSaving:
		return "saving"
	case PhaseSaved:
		return "saved"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Saver persists forms. *api.Client satisfies it.
type Saver interface {
	CreateForm(ctx context.Context, f form.Form) (*form.Form, error)
	UpdateForm(ctx context.Context, id string, f form.Form) (*form.Form, error)
}

// Options configures a Session.
type Options struct {
	// Drafts is the draft store. Nil disables drafts and autosave.
	Drafts *draft.Store

	AutosaveInterval time.Duration
	Logger           *zap.Logger
}

// Session is one editing session over a single form.
type Session struct {
	saver  Saver
	drafts *draft.Store
	log    *zap.Logger
	every  time.Duration

	// startedNew is fixed at construction: only sessions that began without
	// an id may restore or clear the draft.
	startedNew bool

	// draftMu orders draft writes against the post-save clear. Taken
	// before mu, never after.
	draftMu sync.Mutex

	mu       sync.Mutex
	form     form.Form
	phase    Phase
	revision int

	stopAutosave context.CancelFunc
	autosaveDone chan struct{}
}

// New starts a session. A nil initial form begins a new, empty form; a
// form with an id resumes editing a saved one.
func New(initial *form.Form, saver Saver, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = DefaultAutosaveInterval
	}
	s := &Session{
		saver:  saver,
		drafts: opts.Drafts,
		log:    opts.Logger,
		every:  opts.AutosaveInterval,
		phase:  PhaseEmpty,
	}
	if initial != nil {
		s.form = form.Normalize(*initial)
	}
	s.startedNew = s.form.ID == ""
	if !s.startedNew {
		s.phase = PhaseSaved
	}
	return s
}

// Form returns a copy of the current form.
func (s *Session) Form() form.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.Clone()
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// apply replaces the form with fn's result and re-enters Editing.
func (s *Session) apply(fn func(form.Form) form.Form) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form = fn(s.form)
	s.revision++
	if s.phase != PhaseSaving {
		s.phase = PhaseEditing
	}
}

// ── Mutations ───────────────────────────────────────────────────────────────

func (s *Session) SetTitle(title string) {
	s.apply(func(f form.Form) form.Form {
		f = f.Clone()
		f.Title = title
		return f
	})
}

func (s *Session) SetDescription(desc string) {
	s.apply(func(f form.Form) form.Form {
		f = f.Clone()
		f.Description = desc
		return f
	})
}

// AddField appends a new field of type t and returns it.
func (s *Session) AddField(t form.FieldType) form.Field {
	var added form.Field
	s.apply(func(f form.Form) form.Form {
		var next form.Form
		next, added = form.AddField(f, t)
		return next
	})
	return added
}

func (s *Session) UpdateField(fieldID string, patch form.FieldPatch) {
	s.apply(func(f form.Form) form.Form { return form.UpdateField(f, fieldID, patch) })
}

func (s *Session) RemoveField(fieldID string) {
	s.apply(func(f form.Form) form.Form { return form.RemoveField(f, fieldID) })
}

func (s *Session) AddOption(fieldID string) {
	s.apply(func(f form.Form) form.Form { return form.AddOption(f, fieldID) })
}

func (s *Session) RemoveOption(fieldID string, idx int) {
	s.apply(func(f form.Form) form.Form { return form.RemoveOption(f, fieldID, idx) })
}

func (s *Session) UpdateOption(fieldID string, idx int, text string) {
	s.apply(func(f form.Form) form.Form { return form.UpdateOption(f, fieldID, idx, text) })
}

// Replace swaps in a whole form, keeping the session's id.
func (s *Session) Replace(next form.Form) {
	s.apply(func(f form.Form) form.Form {
		out := form.Normalize(next.Clone())
		out.ID = f.ID
		out.ShareableLink = f.ShareableLink
		out.CreatedAt, out.UpdatedAt = f.CreatedAt, f.UpdatedAt
		return out
	})
}

// IndexOf returns the position of fieldID, or -1.
func (s *Session) IndexOf(fieldID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.IndexOf(fieldID)
}

// Reorder moves the field at from to to. It reports false, leaving the
// form untouched, when either index is out of range.
func (s *Session) Reorder(from, to int) bool {
	s.mu.Lock()
	n := len(s.form.Fields)
	s.mu.Unlock()
	if from < 0 || from >= n || to < 0 || to >= n {
		return false
	}
	s.apply(func(f form.Form) form.Form { return form.ReorderFields(f, from, to) })
	return true
}

// Validate returns every problem that would block Save.
func (s *Session) Validate() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return form.ValidateForm(s.form)
}

// ── Persistence ─────────────────────────────────────────────────────────────

// Save validates and persists the form. An invalid form is never sent and
// the error is a *form.ValidationError. On success the session adopts the
// server's id; the first successful save of a new form also clears the
// draft, strictly after the server has accepted it.
func (s *Session) Save(ctx context.Context) (form.Form, error) {
	s.mu.Lock()
	if s.phase == PhaseSaving {
		s.mu.Unlock()
		return form.Form{}, ErrSaveInProgress
	}
	if err := form.Check(s.form); err != nil {
		if s.phase != PhaseSaved {
			s.phase = PhaseEditing
		}
		s.mu.Unlock()
		return form.Form{}, err
	}
	snapshot := s.form.Clone()
	rev := s.revision
	s.phase = PhaseSaving
	s.mu.Unlock()

	first := snapshot.ID == ""
	var (
		saved *form.Form
		err   error
	)
	if first {
		saved, err = s.saver.CreateForm(ctx, snapshot)
	} else {
		saved, err = s.saver.UpdateForm(ctx, snapshot.ID, snapshot)
	}
	if err == nil && (saved == nil || saved.ID == "") {
		err = errNoForm
	}

	s.mu.Lock()
	if err != nil {
		s.phase = PhaseEditing
		s.mu.Unlock()
		s.log.Warn("builder: save failed", zap.Bool("create", first), zap.Error(err))
		return form.Form{}, fmt.Errorf("save form: %w", err)
	}
	s.form.ID = saved.ID
	s.form.ShareableLink = saved.ShareableLink
	s.form.CreatedAt, s.form.UpdatedAt = saved.CreatedAt, saved.UpdatedAt
	if s.revision == rev {
		s.phase = PhaseSaved
	} else {
		s.phase = PhaseEditing
	}
	out := s.form.Clone()
	s.mu.Unlock()

	s.log.Info("builder: saved", zap.String("form_id", saved.ID), zap.Bool("create", first))
	if first && s.startedNew && s.drafts != nil {
		s.draftMu.Lock()
		s.drafts.Clear(ctx)
		s.draftMu.Unlock()
	}
	return out, nil
}

// SaveDraft writes the current form to the draft slot if it has never been
// saved. It reports whether a draft was written.
func (s *Session) SaveDraft(ctx context.Context) bool {
	if s.drafts == nil {
		return false
	}
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	s.mu.Lock()
	if s.form.ID != "" {
		s.mu.Unlock()
		return false
	}
	snapshot := s.form.Clone()
	s.mu.Unlock()

	s.drafts.Save(ctx, snapshot)
	return true
}

// RestoreDraft loads the draft into a session that began as a new form.
// It reports whether a draft was found and applied.
func (s *Session) RestoreDraft(ctx context.Context) bool {
	if !s.startedNew || s.drafts == nil {
		return false
	}
	d := s.drafts.Load(ctx)
	if d == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.form.ID != "" {
		return false
	}
	restored := form.Normalize(*d)
	restored.ID = ""
	s.form = restored
	s.revision++
	s.phase = PhaseEditing
	s.log.Info("builder: draft restored", zap.Int("fields", len(restored.Fields)))
	return true
}

// StartAutosave writes the draft every AutosaveInterval while the form has
// no id. It stops when ctx is done or Close is called.
func (s *Session) StartAutosave(ctx context.Context) {
	if s.drafts == nil {
		return
	}
	s.mu.Lock()
	if s.stopAutosave != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stopAutosave = cancel
	s.autosaveDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SaveDraft(ctx)
			}
		}
	}()
}

// Close stops autosave and waits for it to exit.
func (s *Session) Close() {
	s.mu.Lock()
	cancel, done := s.stopAutosave, s.autosaveDone
	s.stopAutosave, s.autosaveDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
