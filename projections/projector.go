package projections

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/jobsites"
)

// Projector applies one typed jobsite event to the read model inside a single
// transaction. On any failure the transaction rolls back fully.
//
// Replays are safe by detection, not by overwrite: re-applying a Created
// event against an existing row reports sitefeed.ErrConflict, which the
// consumer treats as a benign no-op.
type Projector struct {
	store *sitefeed.Store
}

func NewProjector(store *sitefeed.Store) *Projector {
	return &Projector{store: store}
}

// Apply materializes evt and returns the resulting row. Created inserts a new
// row, failing with sitefeed.ErrConflict when the id or name already exists.
// Updated renames the matching row, failing with sitefeed.ErrNotFound when
// absent.
func (p *Projector) Apply(ctx context.Context, evt jobsites.Event) (jobsites.Jobsite, error) {
	session, err := p.store.Session(ctx)
	if err != nil {
		return jobsites.Jobsite{}, fmt.Errorf("projector: %w", err)
	}
	defer session.Close(ctx)

	rm := jobsites.NewReadModel(session)

	var js jobsites.Jobsite
	switch e := evt.(type) {
	case jobsites.Created:
		js, err = rm.Create(ctx, e.ID, e.Name)
	case jobsites.Updated:
		js, err = rm.Update(ctx, e.ID, e.Name)
	default:
		return jobsites.Jobsite{}, fmt.Errorf("projector: unhandled event %s", evt.EventName())
	}
	if err != nil {
		return jobsites.Jobsite{}, fmt.Errorf("projector: apply %s: %w", evt.EventName(), err)
	}

	if err := session.Commit(ctx); err != nil {
		return jobsites.Jobsite{}, fmt.Errorf("projector: apply %s: %w", evt.EventName(), err)
	}
	return js, nil
}
