package projections

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/internal/pg"
	"github.com/ripkitten-co/sitefeed/schema"
)

// KeyJobsite is the checkpoint key for the jobsite projection group.
const KeyJobsite = "jobsite"

// CheckpointStore tracks the last processed global position for each
// projection group, enabling resume-from-where-you-left-off semantics.
// Each key has a single owning consumer; the store itself only provides
// upsert semantics.
type CheckpointStore struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

// NewCheckpointStore creates a checkpoint store backed by the given backend.
func NewCheckpointStore(b sitefeed.Backend) *CheckpointStore {
	return &CheckpointStore{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

func (cs *CheckpointStore) ensure(ctx context.Context) error {
	return cs.schema.EnsureCheckpoints(ctx, cs.exec)
}

// Load returns the last processed position for the given consumer key.
// If no checkpoint exists, it returns 0: start of the log.
func (cs *CheckpointStore) Load(ctx context.Context, key string) (int64, error) {
	if err := cs.ensure(ctx); err != nil {
		return 0, fmt.Errorf("checkpoint %s: ensure table: %w", key, err)
	}

	var position int64
	err := cs.exec.QueryRow(ctx,
		`SELECT last_position FROM sitefeed_checkpoints WHERE consumer_key = $1`,
		key,
	).Scan(&position)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: load: %w", key, err)
	}
	return position, nil
}

// Save upserts the checkpoint position for the given consumer key.
func (cs *CheckpointStore) Save(ctx context.Context, key string, position int64) error {
	if err := cs.ensure(ctx); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", key, err)
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO sitefeed_checkpoints (consumer_key, last_position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (consumer_key) DO UPDATE SET last_position = $2, updated_at = now()`,
		key, position,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: save: %w", key, err)
	}
	return nil
}
