package projections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/broadcast"
	"github.com/ripkitten-co/sitefeed/events"
	"github.com/ripkitten-co/sitefeed/jobsites"
)

// Source yields batches of raw log records in global order. Next blocks until
// records are available; any non-cancellation error is terminal.
// events.Subscription implements it.
type Source interface {
	Next(ctx context.Context) ([]events.Event, error)
}

// SourceFunc opens a Source starting just after the given position. The
// consumer calls it once per run, after loading its checkpoint.
type SourceFunc func(after int64) Source

// Applier materializes one typed event. Projector implements it.
type Applier interface {
	Apply(ctx context.Context, evt jobsites.Event) (jobsites.Jobsite, error)
}

// Checkpointer persists consume positions. CheckpointStore implements it.
type Checkpointer interface {
	Load(ctx context.Context, key string) (int64, error)
	Save(ctx context.Context, key string, position int64) error
}

type ConsumerOption func(*Consumer)

func WithLogger(log *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.log = log }
}

// Consumer owns one subscription for a projection group. It decodes each
// record, applies it through the Applier, publishes the committed change to
// the hub, and then advances the checkpoint. Checkpoint advancement is
// strictly sequential: once a record fails to project, the checkpoint is held
// for the rest of the run so a restart resumes behind the failed record.
type Consumer struct {
	key         string
	open        SourceFunc
	decoder     *jobsites.Decoder
	applier     Applier
	checkpoints Checkpointer
	hub         *broadcast.Hub
	log         *slog.Logger
	held        bool
}

func NewConsumer(key string, open SourceFunc, decoder *jobsites.Decoder, applier Applier, checkpoints Checkpointer, hub *broadcast.Hub, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		key:         key,
		open:        open,
		decoder:     decoder,
		applier:     applier,
		checkpoints: checkpoints,
		hub:         hub,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run consumes until ctx is cancelled or the subscription fails terminally.
// A terminal error ends the run; recovery is a process restart, which resumes
// from the last saved checkpoint.
func (c *Consumer) Run(ctx context.Context) error {
	pos, err := c.checkpoints.Load(ctx, c.key)
	if err != nil {
		return fmt.Errorf("consumer %s: load checkpoint: %w", c.key, err)
	}

	src := c.open(pos)
	c.log.Info("consumer started", "key", c.key, "position", pos)

	for {
		batch, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("consumer %s: subscription: %w", c.key, err)
		}
		for _, rec := range batch {
			c.process(ctx, rec)
		}
	}
}

func (c *Consumer) process(ctx context.Context, rec events.Event) {
	evt, err := c.decoder.Decode(rec)
	if err != nil {
		// a malformed record must not halt the subscription
		c.log.Error("decode event",
			"key", c.key, "stream", rec.StreamID, "type", rec.Type,
			"position", rec.GlobalPosition, "error", err)
		c.advance(ctx, rec.GlobalPosition)
		return
	}

	js, err := c.applier.Apply(ctx, evt)
	switch {
	case err == nil:
		c.hub.Publish(broadcast.Message{Kind: kindFor(evt), Jobsite: js})
		c.advance(ctx, rec.GlobalPosition)
	case errors.Is(err, sitefeed.ErrConflict) && evt.EventName() == jobsites.EventCreated:
		// replayed create after a crash: the row is already committed,
		// so advance without publishing
		c.log.Info("replayed create detected",
			"key", c.key, "jobsite", evt.JobsiteID(), "position", rec.GlobalPosition)
		c.advance(ctx, rec.GlobalPosition)
	default:
		c.log.Error("project event",
			"key", c.key, "stream", rec.StreamID, "type", rec.Type,
			"position", rec.GlobalPosition, "error", err)
		if !c.held {
			c.held = true
			c.log.Warn("checkpoint held behind failed record",
				"key", c.key, "position", rec.GlobalPosition)
		}
	}
}

// advance saves the checkpoint unless a failed record is holding it back.
// A failed save is transient: the record was already committed, so a restart
// redelivers it and replay detection keeps the read model consistent.
func (c *Consumer) advance(ctx context.Context, position int64) {
	if c.held {
		return
	}
	if err := c.checkpoints.Save(ctx, c.key, position); err != nil {
		c.log.Error("save checkpoint", "key", c.key, "position", position, "error", err)
	}
}

func kindFor(evt jobsites.Event) broadcast.Kind {
	if evt.EventName() == jobsites.EventUpdated {
		return broadcast.KindUpdated
	}
	return broadcast.KindCreated
}
