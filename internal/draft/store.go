package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/matthewbaird/formsync/internal/form"
)

// Store serializes forms into a Slot. Losing a draft is never fatal, so
// every failure is logged and swallowed instead of returned.
type Store struct {
	slot Slot
	log  *zap.Logger
}

// NewStore wraps slot. A nil logger discards output.
func NewStore(slot Slot, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{slot: slot, log: log}
}

// Save overwrites the slot with f.
func (s *Store) Save(ctx context.Context, f form.Form) {
	data, err := json.Marshal(f)
	if err != nil {
		s.log.Error("draft: encode failed", zap.Error(err))
		return
	}
	if err := s.slot.Write(ctx, data); err != nil {
		s.log.Error("draft: save failed", zap.Error(err))
		return
	}
	s.log.Debug("draft: saved", zap.Int("fields", len(f.Fields)))
}

// Load returns the stored form, or nil when the slot is empty, unreadable
// or holds something that does not decode as a form.
func (s *Store) Load(ctx context.Context) *form.Form {
	data, err := s.slot.Read(ctx)
	if errors.Is(err, ErrEmpty) {
		return nil
	}
	if err != nil {
		s.log.Warn("draft: load failed", zap.Error(err))
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var f form.Form
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Warn("draft: discarding malformed draft", zap.Error(err))
		return nil
	}
	return &f
}

// Clear removes the slot.
func (s *Store) Clear(ctx context.Context) {
	if err := s.slot.Delete(ctx); err != nil {
		s.log.Error("draft: clear failed", zap.Error(err))
	}
}
