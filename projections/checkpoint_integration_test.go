//go:build integration

package projections_test

import (
	"context"
	"testing"

	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/internal/testutil"
	"github.com/ripkitten-co/sitefeed/projections"
)

func setupStore(t *testing.T) *sitefeed.Store {
	t.Helper()
	connStr := testutil.SetupPostgres(t)
	store, err := sitefeed.New(context.Background(), connStr)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCheckpoint_DefaultsToStartOfLog(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	cs := projections.NewCheckpointStore(store)

	pos, err := cs.Load(ctx, projections.KeyJobsite)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if pos != 0 {
		t.Errorf("initial position: got %d, want 0", pos)
	}
}

func TestCheckpoint_SaveIsUpsert(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	cs := projections.NewCheckpointStore(store)

	if err := cs.Save(ctx, projections.KeyJobsite, 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cs.Save(ctx, projections.KeyJobsite, 87); err != nil {
		t.Fatalf("second save: %v", err)
	}

	pos, err := cs.Load(ctx, projections.KeyJobsite)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pos != 87 {
		t.Errorf("position: got %d, want 87", pos)
	}
}

func TestCheckpoint_KeysAreIndependent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	cs := projections.NewCheckpointStore(store)

	if err := cs.Save(ctx, "jobsite", 10); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cs.Save(ctx, "jobsite_audit", 3); err != nil {
		t.Fatalf("save: %v", err)
	}

	pos, err := cs.Load(ctx, "jobsite")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pos != 10 {
		t.Errorf("jobsite position: got %d, want 10", pos)
	}
}
