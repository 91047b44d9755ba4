package devserver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/formsync/internal/form"
)

// ErrNotFound is returned when a form does not exist.
var ErrNotFound = errors.New("devserver: not found")

// Store persists forms and their responses.
type Store interface {
	CreateForm(ctx context.Context, f form.Form) (form.Form, error)
	GetForm(ctx context.Context, id string) (form.Form, error)
	GetFormByLink(ctx context.Context, link string) (form.Form, error)
	ListForms(ctx context.Context) ([]form.Form, error)
	UpdateForm(ctx context.Context, id string, f form.Form) (form.Form, error)
	DeleteForm(ctx context.Context, id string) error

	AddResponse(ctx context.Context, r form.Response) (form.Response, error)
	ListResponses(ctx context.Context, formID string) ([]form.Response, error)
}

// MemoryStore implements Store in memory. Nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	forms     map[string]form.Form
	links     map[string]string // shareable link -> form id
	responses map[string][]form.Response
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forms:     make(map[string]form.Form),
		links:     make(map[string]string),
		responses: make(map[string][]form.Response),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateForm(_ context.Context, f form.Form) (form.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	f = form.Normalize(f)
	f.ID = uuid.NewString()
	f.ShareableLink = uuid.NewString()
	f.CreatedAt = &now
	f.UpdatedAt = &now

	s.forms[f.ID] = f
	s.links[f.ShareableLink] = f.ID
	return f.Clone(), nil
}

func (s *MemoryStore) GetForm(_ context.Context, id string) (form.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forms[id]
	if !ok {
		return form.Form{}, ErrNotFound
	}
	return f.Clone(), nil
}

func (s *MemoryStore) GetFormByLink(ctx context.Context, link string) (form.Form, error) {
	s.mu.RLock()
	id, ok := s.links[link]
	s.mu.RUnlock()
	if !ok {
		return form.Form{}, ErrNotFound
	}
	return s.GetForm(ctx, id)
}

// ListForms returns every form, newest first.
func (s *MemoryStore) ListForms(_ context.Context) ([]form.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]form.Form, 0, len(s.forms))
	for _, f := range s.forms {
		out = append(out, f.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(*out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(*out[j].CreatedAt)
	})
	return out, nil
}

// UpdateForm replaces title, description and fields. Identity, link and
// creation time are kept.
func (s *MemoryStore) UpdateForm(_ context.Context, id string, f form.Form) (form.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.forms[id]
	if !ok {
		return form.Form{}, ErrNotFound
	}
	now := s.now()
	f = form.Normalize(f)
	existing.Title = f.Title
	existing.Description = f.Description
	existing.Fields = f.Fields
	existing.UpdatedAt = &now

	s.forms[id] = existing
	return existing.Clone(), nil
}

// DeleteForm removes the form and all of its responses.
func (s *MemoryStore) DeleteForm(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.forms[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.forms, id)
	delete(s.links, f.ShareableLink)
	delete(s.responses, id)
	return nil
}

func (s *MemoryStore) AddResponse(_ context.Context, r form.Response) (form.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.forms[r.FormID]; !ok {
		return form.Response{}, ErrNotFound
	}
	r.ID = uuid.NewString()
	if r.SubmittedAt == nil {
		now := s.now()
		r.SubmittedAt = &now
	}
	s.responses[r.FormID] = append(s.responses[r.FormID], r)
	return r, nil
}

// ListResponses returns the responses to formID, newest first.
func (s *MemoryStore) ListResponses(_ context.Context, formID string) ([]form.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.forms[formID]; !ok {
		return nil, ErrNotFound
	}
	src := s.responses[formID]
	out := make([]form.Response, len(src))
	for i := range src {
		out[len(src)-1-i] = src[i]
	}
	return out, nil
}
