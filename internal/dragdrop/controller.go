// Package dragdrop tracks a drag gesture over a form's fields and turns a
// drop into a reorder of the live form.
package dragdrop

import "sync"

// Reorderer is the form the controller operates on. IndexOf returns -1 for
// an unknown id.
type Reorderer interface {
	IndexOf(fieldID string) int
	Reorder(from, to int) bool
}

// Controller is Idle until Start, then Dragging with an optional hover
// target until Drop or Cancel returns it to Idle.
type Controller struct {
	target Reorderer

	mu     sync.Mutex
	source string
	hover  string
}

// New creates an idle controller over target.
func New(target Reorderer) *Controller {
	return &Controller{target: target}
}

// Start begins dragging fieldID, replacing any drag in progress.
func (c *Controller) Start(fieldID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = fieldID
	c.hover = ""
}

// Enter records fieldID as the hover target. Hovering the source itself, or
// entering while idle, does nothing.
func (c *Controller) Enter(fieldID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == "" || fieldID == c.source {
		return
	}
	c.hover = fieldID
}

// Leave clears the hover target but keeps dragging.
func (c *Controller) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hover = ""
}

// Drop moves the source field to targetID's position and reports whether
// the form changed. Either id may have disappeared mid-drag, in which case
// nothing moves. The controller is idle afterwards in every case.
func (c *Controller) Drop(targetID string) bool {
	c.mu.Lock()
	source := c.source
	c.source, c.hover = "", ""
	c.mu.Unlock()

	if source == "" || targetID == "" || source == targetID {
		return false
	}
	from := c.target.IndexOf(source)
	to := c.target.IndexOf(targetID)
	if from < 0 || to < 0 {
		return false
	}
	return c.target.Reorder(from, to)
}

// Cancel abandons the drag.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source, c.hover = "", ""
}

// Dragging reports whether a drag is in progress.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source != ""
}

// Source returns the dragged field id, or "" when idle.
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Hover returns the current hover target, or "".
func (c *Controller) Hover() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hover
}
