package jobsites

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

type jobsiteRow struct {
	bun.BaseModel `bun:"table:jobsites"`

	ID   uuid.UUID `bun:"id,pk"`
	Name string    `bun:"name"`
}

// Query serves read-only listing queries over the jobsites table through bun,
// running on the same pgx pool via the stdlib adapter. Writes stay on the
// transactional ReadModel; Query is for the browse/reporting surface.
type Query struct {
	db *bun.DB
}

// NewQuery builds a bun-backed query layer over the given pool.
func NewQuery(pool *pgxpool.Pool) *Query {
	sqldb := stdlib.OpenDBFromPool(pool)
	return &Query{db: bun.NewDB(sqldb, pgdialect.New())}
}

// List returns all jobsites ordered by name.
func (q *Query) List(ctx context.Context) ([]Jobsite, error) {
	var rows []jobsiteRow
	if err := q.db.NewSelect().Model(&rows).Order("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("jobsites: query list: %w", err)
	}

	result := make([]Jobsite, 0, len(rows))
	for _, r := range rows {
		result = append(result, Jobsite{ID: r.ID, Name: r.Name})
	}
	return result, nil
}

// Count returns the number of jobsites.
func (q *Query) Count(ctx context.Context) (int, error) {
	n, err := q.db.NewSelect().Model((*jobsiteRow)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobsites: query count: %w", err)
	}
	return n, nil
}

// Close releases the stdlib adapter's database handle.
func (q *Query) Close() error {
	return q.db.Close()
}
