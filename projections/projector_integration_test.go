//go:build integration

package projections_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/jobsites"
	"github.com/ripkitten-co/sitefeed/projections"
)

func TestProjector_CreatedThenUpdated(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	proj := projections.NewProjector(store)
	id := uuid.New()

	js, err := proj.Apply(ctx, jobsites.Created{ID: id, Name: "Site A"})
	if err != nil {
		t.Fatalf("apply created: %v", err)
	}
	if js.Name != "Site A" {
		t.Errorf("name after create: got %q, want %q", js.Name, "Site A")
	}

	js, err = proj.Apply(ctx, jobsites.Updated{ID: id, Name: "Site B"})
	if err != nil {
		t.Fatalf("apply updated: %v", err)
	}
	if js.Name != "Site B" {
		t.Errorf("name after update: got %q, want %q", js.Name, "Site B")
	}

	got, err := jobsites.NewReadModel(store).GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Site B" {
		t.Errorf("materialized name: got %q, want %q", got.Name, "Site B")
	}
}

func TestProjector_ReplayedCreateIsConflict(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	proj := projections.NewProjector(store)
	id := uuid.New()
	evt := jobsites.Created{ID: id, Name: "Replay Site"}

	if _, err := proj.Apply(ctx, evt); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	_, err := proj.Apply(ctx, evt)
	if !errors.Is(err, sitefeed.ErrConflict) {
		t.Fatalf("second apply: got %v, want ErrConflict", err)
	}

	// exactly one row, unchanged
	list, err := jobsites.NewReadModel(store).List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	count := 0
	for _, js := range list {
		if js.ID == id {
			count++
		}
	}
	if count != 1 {
		t.Errorf("rows for %s: got %d, want 1", id, count)
	}
}

func TestProjector_UpdateMissingIsNotFound(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	proj := projections.NewProjector(store)

	_, err := proj.Apply(ctx, jobsites.Updated{ID: uuid.New(), Name: "Nowhere"})
	if !errors.Is(err, sitefeed.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestProjector_RollsBackOnConflict(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	proj := projections.NewProjector(store)

	if _, err := proj.Apply(ctx, jobsites.Created{ID: uuid.New(), Name: "Taken"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// same name, different id: unique constraint fires, nothing is written
	other := uuid.New()
	_, err := proj.Apply(ctx, jobsites.Created{ID: other, Name: "Taken"})
	if !errors.Is(err, sitefeed.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	_, err = jobsites.NewReadModel(store).GetByID(ctx, other)
	if !errors.Is(err, sitefeed.ErrNotFound) {
		t.Errorf("conflicting row was committed: %v", err)
	}
}
