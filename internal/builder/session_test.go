package builder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/matthewbaird/formsync/internal/dragdrop"
	"github.com/matthewbaird/formsync/internal/draft"
	"github.com/matthewbaird/formsync/internal/form"
)

type fakeSaver struct {
	mu      sync.Mutex
	creates []form.Form
	updates []form.Form
	err     error
	// during runs inside the save call, before it returns.
	during func()
}

func (f *fakeSaver) CreateForm(_ context.Context, in form.Form) (*form.Form, error) {
	f.mu.Lock()
	f.creates = append(f.creates, in)
	err, during := f.err, f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	out.ID = "F1"
	out.ShareableLink = "link-1"
	return &out, nil
}

func (f *fakeSaver) UpdateForm(_ context.Context, id string, in form.Form) (*form.Form, error) {
	f.mu.Lock()
	f.updates = append(f.updates, in)
	err, during := f.err, f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	out.ID = id
	return &out, nil
}

func (f *fakeSaver) calls() (creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.updates)
}

func newDrafts() (*draft.Store, *draft.MemorySlot) {
	slot := draft.NewMemorySlot()
	return draft.NewStore(slot, nil), slot
}

func validSession(t *testing.T, saver Saver, drafts *draft.Store) *Session {
	t.Helper()
	s := New(nil, saver, Options{Drafts: drafts})
	s.SetTitle("Feedback")
	s.AddField(form.FieldText)
	return s
}

func TestSession_NewPhases(t *testing.T) {
	assert.Equal(t, PhaseEmpty, New(nil, &fakeSaver{}, Options{}).Phase())

	existing := &form.Form{ID: "F7", Title: "t"}
	assert.Equal(t, PhaseSaved, New(existing, &fakeSaver{}, Options{}).Phase())
}

func TestSession_ValidationBlocksSave(t *testing.T) {
	saver := &fakeSaver{}
	s := New(nil, saver, Options{})

	_, err := s.Save(context.Background())
	var verr *form.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{form.MsgTitleRequired, form.MsgNoFields}, verr.Problems)
	assert.Equal(t, PhaseEditing, s.Phase())

	creates, updates := saver.calls()
	assert.Zero(t, creates+updates, "an invalid form never reaches the server")
}

func TestSession_FirstSaveAdoptsIDAndClearsDraft(t *testing.T) {
	ctx := context.Background()
	drafts, slot := newDrafts()
	saver := &fakeSaver{}
	s := validSession(t, saver, drafts)
	require.Equal(t, PhaseEditing, s.Phase())

	require.True(t, s.SaveDraft(ctx))
	saver.during = func() {
		_, err := slot.Read(ctx)
		assert.NoError(t, err, "draft must survive until the save completes")
	}

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, "F1", saved.ID)
	assert.Equal(t, "link-1", saved.ShareableLink)
	assert.Equal(t, PhaseSaved, s.Phase())
	assert.Nil(t, drafts.Load(ctx))

	creates, updates := saver.calls()
	assert.Equal(t, 1, creates)
	assert.Zero(t, updates)
}

func TestSession_UpdateSaveLeavesDraft(t *testing.T) {
	ctx := context.Background()
	drafts, _ := newDrafts()
	saver := &fakeSaver{}
	s := validSession(t, saver, drafts)
	_, err := s.Save(ctx)
	require.NoError(t, err)

	s.SetTitle("Feedback v2")
	assert.Equal(t, PhaseEditing, s.Phase(), "any mutation re-enters editing")
	assert.False(t, s.SaveDraft(ctx), "saved forms are not drafted")

	// Something else put a draft in the slot meanwhile.
	other := form.Form{Title: "someone else's draft"}
	drafts.Save(ctx, other)

	_, err = s.Save(ctx)
	require.NoError(t, err)
	creates, updates := saver.calls()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
	got := drafts.Load(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "someone else's draft", got.Title)
}

func TestSession_ExistingFormNeverClearsDraft(t *testing.T) {
	ctx := context.Background()
	drafts, _ := newDrafts()
	drafts.Save(ctx, form.Form{Title: "pending"})

	s := New(&form.Form{ID: "F9", Title: "t", Fields: []form.Field{{ID: "a", Type: form.FieldText, Label: "A"}}},
		&fakeSaver{}, Options{Drafts: drafts})
	assert.False(t, s.RestoreDraft(ctx))
	s.SetDescription("d")
	_, err := s.Save(ctx)
	require.NoError(t, err)
	assert.NotNil(t, drafts.Load(ctx))
}

func TestSession_FailedSaveReturnsToEditing(t *testing.T) {
	ctx := context.Background()
	drafts, _ := newDrafts()
	boom := errors.New("503")
	saver := &fakeSaver{err: boom}
	s := validSession(t, saver, drafts)
	s.SaveDraft(ctx)

	_, err := s.Save(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, PhaseEditing, s.Phase())
	assert.Empty(t, s.Form().ID)
	assert.NotNil(t, drafts.Load(ctx), "draft kept after a failed save")
}

// heldSlot blocks the first Write until released.
type heldSlot struct {
	*draft.MemorySlot
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *heldSlot) Write(ctx context.Context, data []byte) error {
	h.once.Do(func() {
		close(h.entered)
		<-h.release
	})
	return h.MemorySlot.Write(ctx, data)
}

func TestSession_PendingDraftWriteCannotOutliveFirstSave(t *testing.T) {
	ctx := context.Background()
	slot := &heldSlot{
		MemorySlot: draft.NewMemorySlot(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	s := validSession(t, &fakeSaver{}, draft.NewStore(slot, nil))

	wrote := make(chan bool, 1)
	go func() { wrote <- s.SaveDraft(ctx) }()
	<-slot.entered

	saved := make(chan error, 1)
	go func() {
		_, err := s.Save(ctx)
		saved <- err
	}()
	require.Eventually(t, func() bool { return s.Form().ID == "F1" }, 2*time.Second, time.Millisecond)

	close(slot.release)
	assert.True(t, <-wrote)
	require.NoError(t, <-saved)

	_, err := slot.Read(ctx)
	assert.ErrorIs(t, err, draft.ErrEmpty, "the clear lands after the in-flight draft write")
	assert.False(t, s.SaveDraft(ctx))
}

func TestSession_SaverReturningNothingIsAnError(t *testing.T) {
	s := validSession(t, nilSaver{}, nil)

	_, err := s.Save(context.Background())
	assert.ErrorIs(t, err, errNoForm)
	assert.Equal(t, PhaseEditing, s.Phase())
	assert.Empty(t, s.Form().ID)
}

type nilSaver struct{}

func (nilSaver) CreateForm(context.Context, form.Form) (*form.Form, error) { return nil, nil }

func (nilSaver) UpdateForm(context.Context, string, form.Form) (*form.Form, error) { return nil, nil }

func TestSession_EditDuringSaveStaysEditing(t *testing.T) {
	saver := &fakeSaver{}
	s := validSession(t, saver, nil)
	saver.during = func() {
		assert.Equal(t, PhaseSaving, s.Phase())
		_, err := s.Save(context.Background())
		assert.ErrorIs(t, err, ErrSaveInProgress)
		s.SetTitle("changed mid-save")
	}

	saved, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "F1", saved.ID)
	assert.Equal(t, "changed mid-save", saved.Title)
	assert.Equal(t, PhaseEditing, s.Phase())
}

func TestSession_RestoreDraft(t *testing.T) {
	ctx := context.Background()
	drafts, slot := newDrafts()

	s := New(nil, &fakeSaver{}, Options{Drafts: drafts})
	assert.False(t, s.RestoreDraft(ctx), "nothing to restore")

	drafts.Save(ctx, form.Form{
		Title: "Recovered",
		Fields: []form.Field{
			{ID: "b", Type: form.FieldText, Label: "B", Order: 5},
			{ID: "a", Type: form.FieldText, Label: "A", Order: 2},
		},
	})
	require.True(t, s.RestoreDraft(ctx))
	f := s.Form()
	assert.Equal(t, "Recovered", f.Title)
	assert.Equal(t, "a", f.Fields[0].ID)
	assert.True(t, form.OrderDense(f))
	assert.Equal(t, PhaseEditing, s.Phase())

	require.NoError(t, slot.Write(ctx, []byte("{broken")))
	fresh := New(nil, &fakeSaver{}, Options{Drafts: drafts})
	assert.False(t, fresh.RestoreDraft(ctx), "a corrupted draft is treated as absent")
	assert.Equal(t, PhaseEmpty, fresh.Phase())
}

func TestSession_AutosaveOnlyWhileUnsaved(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	drafts, slot := newDrafts()
	s := New(nil, &fakeSaver{}, Options{Drafts: drafts, AutosaveInterval: 5 * time.Millisecond})
	s.SetTitle("autosaved")
	s.StartAutosave(ctx)
	require.Eventually(t, func() bool {
		d := drafts.Load(ctx)
		return d != nil && d.Title == "autosaved"
	}, 2*time.Second, 5*time.Millisecond)
	s.Close()

	require.NoError(t, slot.Delete(ctx))
	saved := New(&form.Form{ID: "F2", Title: "t"}, &fakeSaver{}, Options{Drafts: drafts, AutosaveInterval: 5 * time.Millisecond})
	saved.StartAutosave(ctx)
	assert.Never(t, func() bool { return drafts.Load(ctx) != nil }, 60*time.Millisecond, 5*time.Millisecond)
	saved.Close()
}

func TestSession_AutosaveStopsAfterFirstSave(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	drafts, _ := newDrafts()
	s := New(nil, &fakeSaver{}, Options{Drafts: drafts, AutosaveInterval: 5 * time.Millisecond})
	defer s.Close()
	s.SetTitle("Feedback")
	s.AddField(form.FieldRating)
	s.StartAutosave(ctx)
	require.Eventually(t, func() bool { return drafts.Load(ctx) != nil }, 2*time.Second, 5*time.Millisecond)

	_, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Never(t, func() bool { return drafts.Load(ctx) != nil }, 60*time.Millisecond, 5*time.Millisecond)
}

func TestSession_MutationsAndDragReorder(t *testing.T) {
	s := New(nil, &fakeSaver{}, Options{})
	a := s.AddField(form.FieldText)
	b := s.AddField(form.FieldMultipleChoice)
	c := s.AddField(form.FieldNumber)

	s.UpdateField(a.ID, form.FieldPatch{Label: ptr("Name")})
	s.AddOption(b.ID)
	s.UpdateOption(b.ID, 1, "Blue")
	s.RemoveOption(b.ID, 0)

	f := s.Form()
	assert.Equal(t, "Name", f.Fields[0].Label)
	assert.Equal(t, []string{"Blue"}, f.Fields[1].Options)

	dd := dragdrop.New(s)
	dd.Start(c.ID)
	dd.Enter(a.ID)
	require.True(t, dd.Drop(a.ID))
	f = s.Form()
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, []string{f.Fields[0].ID, f.Fields[1].ID, f.Fields[2].ID})
	assert.True(t, form.OrderDense(f))

	assert.False(t, s.Reorder(0, 3))
	s.RemoveField(a.ID)
	assert.Equal(t, -1, s.IndexOf(a.ID))
	assert.True(t, form.OrderDense(s.Form()))
}

func TestSession_ReplaceKeepsIdentity(t *testing.T) {
	s := New(&form.Form{ID: "F3", Title: "old", ShareableLink: "L"}, &fakeSaver{}, Options{})
	s.Replace(form.Form{ID: "other", Title: "new", Fields: []form.Field{{ID: "x", Type: form.FieldEmail, Label: "E", Order: 9}}})

	f := s.Form()
	assert.Equal(t, "F3", f.ID)
	assert.Equal(t, "L", f.ShareableLink)
	assert.Equal(t, "new", f.Title)
	assert.Equal(t, 0, f.Fields[0].Order)
	assert.Equal(t, PhaseEditing, s.Phase())
}

func TestSession_FormReturnsCopy(t *testing.T) {
	s := New(nil, &fakeSaver{}, Options{})
	s.AddField(form.FieldCheckbox)
	f := s.Form()
	f.Fields[0].Options[0] = "mutated"
	assert.Equal(t, "Option 1", s.Form().Fields[0].Options[0])
}

func ptr[T any](v T) *T { return &v }
