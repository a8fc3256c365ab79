// Package server wires the HTTP surface, the live-session hub, and the
// projection consumer into one process. The web server and the consumer are
// raced together: whichever exits first ends the run, and process-level
// restart with checkpoint resume handles recovery.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/broadcast"
	"github.com/ripkitten-co/sitefeed/events"
	"github.com/ripkitten-co/sitefeed/jobsites"
	"github.com/ripkitten-co/sitefeed/live"
	"github.com/ripkitten-co/sitefeed/projections"
)

type Application struct {
	cfg      Config
	store    *sitefeed.Store
	events   *events.Store
	query    *jobsites.Query
	hub      *broadcast.Hub
	consumer *projections.Consumer
	renderer live.Renderer
	log      *slog.Logger

	// baseCtx bounds session workers spawned from websocket upgrades
	baseCtx context.Context
}

type AppOption func(*Application)

func WithAppLogger(log *slog.Logger) AppOption {
	return func(a *Application) { a.log = log }
}

func WithRenderer(r live.Renderer) AppOption {
	return func(a *Application) { a.renderer = r }
}

// NewApplication wires the pipeline: event store, checkpointed consumer,
// projector, hub, and HTTP handlers, all sharing one Store.
func NewApplication(store *sitefeed.Store, cfg Config, opts ...AppOption) *Application {
	a := &Application{
		cfg:      cfg,
		store:    store,
		events:   events.New(store),
		query:    jobsites.NewQuery(store.PgxPool()),
		hub:      broadcast.NewHub(broadcast.WithBuffer(cfg.HubBuffer)),
		renderer: NewJSONRenderer(store.JSONCodec()),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	open := func(after int64) projections.Source {
		return events.NewSubscription(a.events, store.PgxPool(), jobsites.StreamPrefix, after,
			events.WithBatchSize(cfg.BatchSize),
			events.WithPollInterval(cfg.PollInterval))
	}
	a.consumer = projections.NewConsumer(projections.KeyJobsite, open,
		jobsites.NewDecoder(store.JSONCodec()),
		projections.NewProjector(store),
		projections.NewCheckpointStore(store),
		a.hub,
		projections.WithLogger(a.log))

	return a
}

// Hub exposes the broadcast hub, mainly for tests.
func (a *Application) Hub() *broadcast.Hub { return a.hub }

// Run serves HTTP and consumes the event stream until ctx is cancelled or
// either task fails. The first exit wins; the other task is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.baseCtx = ctx

	if err := a.bootstrap(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    a.cfg.Addr,
		Handler: a.routes(),
	}

	errc := make(chan error, 2)

	go func() {
		a.log.Info("http server started", "addr", a.cfg.Addr)
		errc <- a.serve(ctx, srv)
	}()
	go func() {
		errc <- a.consumer.Run(ctx)
	}()

	err := <-errc
	cancel()
	<-errc

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// bootstrap runs the DDL up front so the first request and the first
// projected event don't race table creation.
func (a *Application) bootstrap(ctx context.Context) error {
	exec := a.store.DBExecutor()
	sb := a.store.SchemaBootstrap()
	if err := sb.EnsureEvents(ctx, exec); err != nil {
		return fmt.Errorf("server: bootstrap: %w", err)
	}
	if err := sb.EnsureCheckpoints(ctx, exec); err != nil {
		return fmt.Errorf("server: bootstrap: %w", err)
	}
	if err := sb.EnsureJobsites(ctx, exec); err != nil {
		return fmt.Errorf("server: bootstrap: %w", err)
	}
	if err := sb.EnsureEventsGlobalPositionIndex(ctx, exec); err != nil {
		return fmt.Errorf("server: bootstrap: %w", err)
	}
	return nil
}

func (a *Application) serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// Close releases resources owned by the application (not the Store).
func (a *Application) Close() error {
	return a.query.Close()
}
