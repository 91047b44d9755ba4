package dragdrop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/formsync/internal/form"
)

// liveForm holds the latest form value the way a builder session does.
type liveForm struct {
	f     form.Form
	moves int
}

func (l *liveForm) IndexOf(id string) int { return l.f.IndexOf(id) }

func (l *liveForm) Reorder(from, to int) bool {
	next := form.ReorderFields(l.f, from, to)
	l.f = next
	l.moves++
	return true
}

func (l *liveForm) ids() []string {
	out := make([]string, len(l.f.Fields))
	for i, fd := range l.f.Fields {
		out[i] = fd.ID
	}
	return out
}

func newLiveForm(ids ...string) *liveForm {
	f := form.Form{Title: "t"}
	for i, id := range ids {
		f.Fields = append(f.Fields, form.Field{ID: id, Type: form.FieldText, Label: id, Order: i})
	}
	return &liveForm{f: f}
}

func TestController_DropReorders(t *testing.T) {
	lf := newLiveForm("a", "b", "c")
	c := New(lf)

	c.Start("a")
	c.Enter("c")
	assert.Equal(t, "c", c.Hover())
	require.True(t, c.Drop("c"))

	assert.Equal(t, []string{"b", "c", "a"}, lf.ids())
	assert.True(t, form.OrderDense(lf.f))
	assert.False(t, c.Dragging())
	assert.Empty(t, c.Hover())
}

func TestController_DropOnSelfIsNoop(t *testing.T) {
	lf := newLiveForm("a", "b")
	c := New(lf)

	c.Start("a")
	c.Enter("a")
	assert.Empty(t, c.Hover(), "hovering the source is ignored")
	assert.False(t, c.Drop("a"))
	assert.Zero(t, lf.moves)
	assert.False(t, c.Dragging())
}

func TestController_LeaveKeepsSource(t *testing.T) {
	c := New(newLiveForm("a", "b"))

	c.Start("a")
	c.Enter("b")
	c.Leave()
	assert.Empty(t, c.Hover())
	assert.Equal(t, "a", c.Source())
	assert.True(t, c.Dragging())
}

func TestController_EnterWhileIdleIgnored(t *testing.T) {
	c := New(newLiveForm("a", "b"))
	c.Enter("b")
	assert.Empty(t, c.Hover())
	assert.False(t, c.Dragging())
}

func TestController_FieldRemovedMidDrag(t *testing.T) {
	lf := newLiveForm("a", "b", "c")
	c := New(lf)

	c.Start("b")
	c.Enter("c")
	lf.f = form.RemoveField(lf.f, "b")

	assert.False(t, c.Drop("c"))
	assert.Equal(t, []string{"a", "c"}, lf.ids())
	assert.False(t, c.Dragging(), "state resets even when the move is skipped")

	c.Start("a")
	assert.False(t, c.Drop("zzz"))
	assert.Zero(t, lf.moves)
}

func TestController_Cancel(t *testing.T) {
	lf := newLiveForm("a", "b")
	c := New(lf)

	c.Start("a")
	c.Enter("b")
	c.Cancel()
	assert.False(t, c.Dragging())
	assert.Empty(t, c.Hover())
	assert.False(t, c.Drop("b"))
	assert.Zero(t, lf.moves)
}

func TestController_DropResolvesCurrentPositions(t *testing.T) {
	lf := newLiveForm("a", "b", "c", "d")
	c := New(lf)

	// Another edit lands between drag start and drop.
	c.Start("d")
	lf.f = form.ReorderFields(lf.f, 0, 3)
	require.Equal(t, []string{"b", "c", "d", "a"}, lf.ids())

	require.True(t, c.Drop("b"))
	assert.Equal(t, []string{"d", "b", "c", "a"}, lf.ids())
}
