package jobsites

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/internal/pg"
	"github.com/ripkitten-co/sitefeed/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Jobsite is the materialized read-model row.
type Jobsite struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ReadModel reads and writes the jobsites table. Construct it from a
// sitefeed.Session to run inside a transaction, or from the Store for
// pool-level point queries.
type ReadModel struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

func NewReadModel(b sitefeed.Backend) *ReadModel {
	return &ReadModel{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

func (rm *ReadModel) ensure(ctx context.Context) error {
	return rm.schema.EnsureJobsites(ctx, rm.exec)
}

// Create inserts a new jobsite row. Returns sitefeed.ErrConflict when the id
// or the name is already taken.
func (rm *ReadModel) Create(ctx context.Context, id uuid.UUID, name string) (Jobsite, error) {
	if err := rm.ensure(ctx); err != nil {
		return Jobsite{}, err
	}

	sql, args, err := psql.Insert("jobsites").
		Columns("id", "name").
		Values(id, name).
		Suffix("RETURNING id, name").
		ToSql()
	if err != nil {
		return Jobsite{}, fmt.Errorf("jobsites: create %s: build sql: %w", id, err)
	}

	var js Jobsite
	if err := rm.exec.QueryRow(ctx, sql, args...).Scan(&js.ID, &js.Name); err != nil {
		if pg.IsUniqueViolation(err) {
			return Jobsite{}, fmt.Errorf("jobsites: create %s: %w", id, sitefeed.ErrConflict)
		}
		return Jobsite{}, fmt.Errorf("jobsites: create %s: %w", id, err)
	}
	return js, nil
}

// Update renames the jobsite with the given id. Returns sitefeed.ErrNotFound
// when no row matches, sitefeed.ErrConflict when the name is already taken.
func (rm *ReadModel) Update(ctx context.Context, id uuid.UUID, name string) (Jobsite, error) {
	if err := rm.ensure(ctx); err != nil {
		return Jobsite{}, err
	}

	sql, args, err := psql.Update("jobsites").
		Set("name", name).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING id, name").
		ToSql()
	if err != nil {
		return Jobsite{}, fmt.Errorf("jobsites: update %s: build sql: %w", id, err)
	}

	var js Jobsite
	if err := rm.exec.QueryRow(ctx, sql, args...).Scan(&js.ID, &js.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Jobsite{}, fmt.Errorf("jobsites: update %s: %w", id, sitefeed.ErrNotFound)
		}
		if pg.IsUniqueViolation(err) {
			return Jobsite{}, fmt.Errorf("jobsites: update %s: %w", id, sitefeed.ErrConflict)
		}
		return Jobsite{}, fmt.Errorf("jobsites: update %s: %w", id, err)
	}
	return js, nil
}

// GetByID returns the jobsite with the given id, or sitefeed.ErrNotFound.
func (rm *ReadModel) GetByID(ctx context.Context, id uuid.UUID) (Jobsite, error) {
	return rm.getBy(ctx, sq.Eq{"id": id}, id.String())
}

// GetByName returns the jobsite with the given name, or sitefeed.ErrNotFound.
// The HTTP layer uses it to enforce name uniqueness before appending events.
func (rm *ReadModel) GetByName(ctx context.Context, name string) (Jobsite, error) {
	return rm.getBy(ctx, sq.Eq{"name": name}, name)
}

func (rm *ReadModel) getBy(ctx context.Context, pred sq.Eq, key string) (Jobsite, error) {
	if err := rm.ensure(ctx); err != nil {
		return Jobsite{}, err
	}

	sql, args, err := psql.Select("id", "name").From("jobsites").Where(pred).ToSql()
	if err != nil {
		return Jobsite{}, fmt.Errorf("jobsites: get %s: build sql: %w", key, err)
	}

	var js Jobsite
	if err := rm.exec.QueryRow(ctx, sql, args...).Scan(&js.ID, &js.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Jobsite{}, fmt.Errorf("jobsites: get %s: %w", key, sitefeed.ErrNotFound)
		}
		return Jobsite{}, fmt.Errorf("jobsites: get %s: %w", key, err)
	}
	return js, nil
}

// List returns all jobsites ordered by name.
func (rm *ReadModel) List(ctx context.Context) ([]Jobsite, error) {
	if err := rm.ensure(ctx); err != nil {
		return nil, err
	}

	sql, args, err := psql.Select("id", "name").From("jobsites").OrderBy("name ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("jobsites: list: build sql: %w", err)
	}

	rows, err := rm.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("jobsites: list: %w", err)
	}
	defer rows.Close()

	var result []Jobsite
	for rows.Next() {
		var js Jobsite
		if err := rows.Scan(&js.ID, &js.Name); err != nil {
			return nil, fmt.Errorf("jobsites: list: scan: %w", err)
		}
		result = append(result, js)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobsites: list: %w", err)
	}

	return result, nil
}
