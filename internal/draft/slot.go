// Package draft keeps the one locally persisted snapshot of a form that is
// being built but has not been saved yet. There is a single slot per
// process and the last write wins; nothing here detects concurrent editors.
package draft

import (
	"context"
	"errors"
	"sync"
)

// DefaultKey names the draft slot.
const DefaultKey = "formDraft"

// ErrEmpty is returned by Slot.Read when nothing is stored.
var ErrEmpty = errors.New("draft: slot empty")

// Slot is raw key-scoped storage for the serialized draft.
type Slot interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

// MemorySlot implements Slot in memory. Intended for tests and for
// sessions that should not outlive the process.
type MemorySlot struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemorySlot creates an empty MemorySlot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Read(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrEmpty
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemorySlot) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemorySlot) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
