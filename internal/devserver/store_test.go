package devserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matthewbaird/formsync/internal/form"
)

func testForm(title string) form.Form {
	return form.Form{
		Title: title,
		Fields: []form.Field{
			{ID: "q1", Type: form.FieldText, Label: "Name", Order: 1},
			{ID: "q2", Type: form.FieldRating, Label: "Score", Order: 0},
		},
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	saved, err := store.CreateForm(ctx, testForm("Survey"))
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if saved.ID == "" || saved.ShareableLink == "" {
		t.Fatalf("CreateForm did not assign id and link: %+v", saved)
	}
	if saved.CreatedAt == nil || saved.UpdatedAt == nil {
		t.Fatal("CreateForm did not stamp timestamps")
	}
	if saved.Fields[0].ID != "q2" || saved.Fields[0].Order != 0 {
		t.Errorf("fields not normalized: %+v", saved.Fields)
	}

	got, err := store.GetForm(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	if got.Title != "Survey" {
		t.Errorf("title = %q, want Survey", got.Title)
	}

	byLink, err := store.GetFormByLink(ctx, saved.ShareableLink)
	if err != nil {
		t.Fatalf("GetFormByLink: %v", err)
	}
	if byLink.ID != saved.ID {
		t.Errorf("GetFormByLink id = %q, want %q", byLink.ID, saved.ID)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.GetForm(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetForm err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetFormByLink(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFormByLink err = %v, want ErrNotFound", err)
	}
	if _, err := store.UpdateForm(ctx, "missing", testForm("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateForm err = %v, want ErrNotFound", err)
	}
	if err := store.DeleteForm(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteForm err = %v, want ErrNotFound", err)
	}
	if _, err := store.AddResponse(ctx, form.Response{FormID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddResponse err = %v, want ErrNotFound", err)
	}
	if _, err := store.ListResponses(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListResponses err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_UpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	saved, _ := store.CreateForm(ctx, testForm("Before"))

	updated, err := store.UpdateForm(ctx, saved.ID, testForm("After"))
	if err != nil {
		t.Fatalf("UpdateForm: %v", err)
	}
	if updated.ID != saved.ID || updated.ShareableLink != saved.ShareableLink {
		t.Errorf("identity changed: %+v", updated)
	}
	if !updated.CreatedAt.Equal(*saved.CreatedAt) {
		t.Errorf("createdAt changed")
	}
	if updated.Title != "After" {
		t.Errorf("title = %q, want After", updated.Title)
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	store.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}

	store.CreateForm(ctx, testForm("first"))
	store.CreateForm(ctx, testForm("second"))

	forms, err := store.ListForms(ctx)
	if err != nil {
		t.Fatalf("ListForms: %v", err)
	}
	if len(forms) != 2 || forms[0].Title != "second" {
		t.Errorf("ListForms order = %v", []string{forms[0].Title, forms[1].Title})
	}
}

func TestMemoryStore_DeleteRemovesResponses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	saved, _ := store.CreateForm(ctx, testForm("x"))

	for i := 0; i < 3; i++ {
		if _, err := store.AddResponse(ctx, form.Response{FormID: saved.ID, Responses: map[string]any{"q1": "a"}}); err != nil {
			t.Fatalf("AddResponse: %v", err)
		}
	}
	responses, _ := store.ListResponses(ctx, saved.ID)
	if len(responses) != 3 {
		t.Fatalf("responses = %d, want 3", len(responses))
	}
	if err := store.DeleteForm(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteForm: %v", err)
	}
	if _, err := store.GetFormByLink(ctx, saved.ShareableLink); !errors.Is(err, ErrNotFound) {
		t.Errorf("link still resolves after delete")
	}
}
