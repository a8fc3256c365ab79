package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/ripkitten-co/sitefeed/internal/pg"
)

func eventsDDL() string {
	return `CREATE TABLE IF NOT EXISTS sitefeed_events (
	stream_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	type TEXT NOT NULL,
	data JSONB NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	global_position BIGINT GENERATED ALWAYS AS IDENTITY,
	PRIMARY KEY (stream_id, version)
)`
}

func checkpointsDDL() string {
	return `CREATE TABLE IF NOT EXISTS sitefeed_checkpoints (
	consumer_key TEXT PRIMARY KEY,
	last_position BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

func jobsitesDDL() string {
	return `CREATE TABLE IF NOT EXISTS jobsites (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

// Bootstrap manages idempotent creation of sitefeed tables and indexes.
// It caches which tables and indexes have been created to avoid repeated DDL.
type Bootstrap struct {
	tables  sync.Map
	indexes sync.Map
}

// New returns a Bootstrap with empty caches.
func New() *Bootstrap {
	return &Bootstrap{}
}

// IsCreated reports whether the named table has been created in this session.
func (b *Bootstrap) IsCreated(table string) bool {
	_, ok := b.tables.Load(table)
	return ok
}

// MarkCreated records that the named table has been created.
func (b *Bootstrap) MarkCreated(table string) {
	b.tables.Store(table, true)
}

// IsIndexCreated reports whether the named index has been created in this session.
func (b *Bootstrap) IsIndexCreated(name string) bool {
	_, ok := b.indexes.Load(name)
	return ok
}

// MarkIndexCreated records that the named index has been created.
func (b *Bootstrap) MarkIndexCreated(name string) {
	b.indexes.Store(name, true)
}

func (b *Bootstrap) ensureTable(ctx context.Context, exec pg.Executor, table, ddl string) error {
	if _, ok := b.tables.Load(table); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	b.tables.Store(table, true)
	return nil
}

// EnsureEvents creates the sitefeed_events table if it doesn't exist.
func (b *Bootstrap) EnsureEvents(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, "sitefeed_events", eventsDDL())
}

// EnsureCheckpoints creates the sitefeed_checkpoints table if it doesn't exist.
func (b *Bootstrap) EnsureCheckpoints(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, "sitefeed_checkpoints", checkpointsDDL())
}

// EnsureJobsites creates the jobsites read-model table if it doesn't exist.
func (b *Bootstrap) EnsureJobsites(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, "jobsites", jobsitesDDL())
}

// EnsureEventsGlobalPositionIndex creates an index on global_position for
// ordered reads across all streams. Must be called with a pool-level executor,
// not a session transaction, since CREATE INDEX CONCURRENTLY cannot run inside
// a transaction block.
func (b *Bootstrap) EnsureEventsGlobalPositionIndex(ctx context.Context, exec pg.Executor) error {
	const name = "idx_sitefeed_events_global_position"
	if _, ok := b.indexes.Load(name); ok {
		return nil
	}
	_, err := exec.Exec(ctx,
		`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_sitefeed_events_global_position ON sitefeed_events (global_position)`,
	)
	if err != nil {
		return fmt.Errorf("schema: create events global_position index: %w", err)
	}
	b.indexes.Store(name, true)
	return nil
}
