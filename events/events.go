package events

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/internal/pg"
	"github.com/ripkitten-co/sitefeed/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NotifyChannel is the pg_notify channel fired after each append. Subscriptions
// listen on it so new events are picked up without waiting a full poll interval.
const NotifyChannel = "sitefeed_events"

// AnyVersion disables the optimistic concurrency check on Append. The events
// are written after whatever version the stream currently has.
const AnyVersion = -1

// Event is a single record in the append-only log. GlobalPosition is assigned
// by the database and totally orders events across all streams.
type Event struct {
	StreamID       string
	Version        int
	Type           string
	Data           []byte
	Metadata       []byte
	CreatedAt      time.Time
	GlobalPosition int64
}

// Store provides append-only event log operations backed by a single
// sitefeed_events table.
type Store struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

// New creates an event store using the given backend's executor and schema.
func New(b sitefeed.Backend) *Store {
	return &Store{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

// Append writes events to a stream with optimistic concurrency control.
// Pass expectedVersion 0 to create a new stream, AnyVersion to append without
// a version check. Returns ErrStreamExists if the stream already exists with
// expectedVersion 0, or ErrConcurrencyConflict if the expected version
// doesn't match.
func (es *Store) Append(ctx context.Context, streamID string, expectedVersion int, evts []Event) error {
	if len(evts) == 0 {
		return fmt.Errorf("events: append %s: at least one event required", streamID)
	}

	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return err
	}

	if expectedVersion > 0 || expectedVersion == AnyVersion {
		var currentVersion int
		err := es.exec.QueryRow(ctx,
			"SELECT COALESCE(MAX(version), 0) FROM sitefeed_events WHERE stream_id = $1",
			streamID,
		).Scan(&currentVersion)
		if err != nil {
			return fmt.Errorf("events: append %s: check version: %w", streamID, err)
		}
		if expectedVersion == AnyVersion {
			expectedVersion = currentVersion
		} else if currentVersion != expectedVersion {
			return fmt.Errorf("events: append %s: expected version %d but got %d: %w",
				streamID, expectedVersion, currentVersion, sitefeed.ErrConcurrencyConflict)
		}
	}

	builder := psql.Insert("sitefeed_events").
		Columns("stream_id", "version", "type", "data", "metadata")

	for i, evt := range evts {
		version := expectedVersion + i + 1
		builder = builder.Values(streamID, version, evt.Type, evt.Data, evt.Metadata)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("events: append %s: build sql: %w", streamID, err)
	}

	_, err = es.exec.Exec(ctx, sql, args...)
	if err != nil {
		if pg.IsUniqueViolation(err) {
			if expectedVersion == 0 {
				return fmt.Errorf("events: append %s: %w", streamID, sitefeed.ErrStreamExists)
			}
			return fmt.Errorf("events: append %s: %w", streamID, sitefeed.ErrConcurrencyConflict)
		}
		return fmt.Errorf("events: append %s: %w", streamID, err)
	}

	// best-effort wakeup for subscriptions
	_, _ = es.exec.Exec(ctx, fmt.Sprintf("SELECT pg_notify('%s', '')", NotifyChannel))

	return nil
}

// ReadStream returns all events for a stream starting from fromVersion.
// Pass 0 to read from the beginning. Returns an empty slice if the stream
// doesn't exist.
func (es *Store) ReadStream(ctx context.Context, streamID string, fromVersion int) ([]Event, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}

	builder := psql.
		Select("stream_id", "version", "type", "data", "metadata", "created_at", "global_position").
		From("sitefeed_events").
		Where(sq.Eq{"stream_id": streamID}).
		OrderBy("version ASC")

	if fromVersion > 0 {
		builder = builder.Where(sq.GtOrEq{"version": fromVersion})
	}

	return es.queryEvents(ctx, builder, fmt.Sprintf("read %s", streamID))
}

// ReadPrefix returns events whose stream_id starts with prefix, ordered by
// global_position, with positions strictly greater than afterPosition.
// Returns up to limit events.
func (es *Store) ReadPrefix(ctx context.Context, prefix string, afterPosition int64, limit int) ([]Event, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}
	if err := es.schema.EnsureEventsGlobalPositionIndex(ctx, es.exec); err != nil {
		return nil, err
	}

	builder := psql.
		Select("stream_id", "version", "type", "data", "metadata", "created_at", "global_position").
		From("sitefeed_events").
		Where(sq.Like{"stream_id": escapeLike(prefix) + "%"}).
		Where(sq.Gt{"global_position": afterPosition}).
		OrderBy("global_position ASC").
		Limit(uint64(limit))

	return es.queryEvents(ctx, builder, fmt.Sprintf("read prefix %s", prefix))
}

func (es *Store) queryEvents(ctx context.Context, builder sq.SelectBuilder, op string) ([]Event, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("events: %s: build sql: %w", op, err)
	}

	rows, err := es.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("events: %s: %w", op, err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.StreamID, &e.Version, &e.Type, &e.Data, &e.Metadata, &e.CreatedAt, &e.GlobalPosition); err != nil {
			return nil, fmt.Errorf("events: %s: scan: %w", op, err)
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: %s: %w", op, err)
	}

	return result, nil
}

// escapeLike escapes LIKE metacharacters so a stream prefix matches literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
