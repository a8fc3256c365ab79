package projections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/broadcast"
	"github.com/ripkitten-co/sitefeed/events"
	"github.com/ripkitten-co/sitefeed/internal/codecs"
	"github.com/ripkitten-co/sitefeed/jobsites"
)

var errSourceDone = errors.New("source exhausted")

// fakeSource hands out the configured batches, then fails terminally so Run
// returns.
type fakeSource struct {
	batches [][]events.Event
}

func (s *fakeSource) Next(ctx context.Context) ([]events.Event, error) {
	if len(s.batches) == 0 {
		return nil, errSourceDone
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

// fakeApplier records every Apply call and returns errors keyed by jobsite id.
type fakeApplier struct {
	calls []jobsites.Event
	fail  map[uuid.UUID]error
	names map[uuid.UUID]string
}

func (a *fakeApplier) Apply(ctx context.Context, evt jobsites.Event) (jobsites.Jobsite, error) {
	a.calls = append(a.calls, evt)
	if err := a.fail[evt.JobsiteID()]; err != nil {
		return jobsites.Jobsite{}, err
	}
	if a.names == nil {
		a.names = make(map[uuid.UUID]string)
	}
	var name string
	switch e := evt.(type) {
	case jobsites.Created:
		name = e.Name
	case jobsites.Updated:
		name = e.Name
	}
	a.names[evt.JobsiteID()] = name
	return jobsites.Jobsite{ID: evt.JobsiteID(), Name: name}, nil
}

// memCheckpoints records every saved position.
type memCheckpoints struct {
	mu     sync.Mutex
	pos    map[string]int64
	saves  []int64
	failOn int64
}

func (m *memCheckpoints) Load(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos[key], nil
}

func (m *memCheckpoints) Save(ctx context.Context, key string, position int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != 0 && position == m.failOn {
		return errors.New("checkpoint store unavailable")
	}
	if m.pos == nil {
		m.pos = make(map[string]int64)
	}
	m.pos[key] = position
	m.saves = append(m.saves, position)
	return nil
}

func record(id uuid.UUID, eventType, name string, position int64) events.Event {
	return events.Event{
		StreamID:       jobsites.StreamID(id),
		Type:           eventType,
		Data:           []byte(fmt.Sprintf(`{"id":%q,"name":%q}`, id, name)),
		GlobalPosition: position,
	}
}

func newConsumer(t *testing.T, src Source, applier Applier, cps Checkpointer, hub *broadcast.Hub) *Consumer {
	t.Helper()
	dec := jobsites.NewDecoder(codecs.NewJSONIter())
	open := func(after int64) Source { return src }
	return NewConsumer(KeyJobsite, open, dec, applier, cps, hub)
}

func runUntilSourceDone(t *testing.T, c *Consumer) {
	t.Helper()
	err := c.Run(context.Background())
	if !errors.Is(err, errSourceDone) {
		t.Fatalf("run: got %v, want wrapped errSourceDone", err)
	}
}

func TestConsumer_AppliesInOrder(t *testing.T) {
	id := uuid.New()
	src := &fakeSource{batches: [][]events.Event{
		{record(id, jobsites.EventCreated, "Site A", 1)},
		{record(id, jobsites.EventUpdated, "Site B", 2)},
	}}
	applier := &fakeApplier{}
	cps := &memCheckpoints{}

	runUntilSourceDone(t, newConsumer(t, src, applier, cps, broadcast.NewHub()))

	if len(applier.calls) != 2 {
		t.Fatalf("applied %d events, want 2", len(applier.calls))
	}
	if applier.calls[0].EventName() != jobsites.EventCreated {
		t.Errorf("first event: got %s, want JobsiteCreated", applier.calls[0].EventName())
	}
	if applier.calls[1].EventName() != jobsites.EventUpdated {
		t.Errorf("second event: got %s, want JobsiteUpdated", applier.calls[1].EventName())
	}
	if applier.names[id] != "Site B" {
		t.Errorf("final name: got %q, want %q", applier.names[id], "Site B")
	}
	if got := cps.pos[KeyJobsite]; got != 2 {
		t.Errorf("checkpoint: got %d, want 2", got)
	}
}

func TestConsumer_CheckpointMonotonic(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	src := &fakeSource{batches: [][]events.Event{{
		record(a, jobsites.EventCreated, "Site A", 5),
		record(b, jobsites.EventCreated, "Site B", 9),
	}}}
	cps := &memCheckpoints{}

	runUntilSourceDone(t, newConsumer(t, src, &fakeApplier{}, cps, broadcast.NewHub()))

	if len(cps.saves) == 0 {
		t.Fatal("no checkpoint saves recorded")
	}
	prev := int64(0)
	for _, pos := range cps.saves {
		if pos < prev {
			t.Errorf("checkpoint went backwards: %v", cps.saves)
		}
		prev = pos
	}
	if cps.pos[KeyJobsite] != 9 {
		t.Errorf("final checkpoint: got %d, want 9", cps.pos[KeyJobsite])
	}
}

func TestConsumer_FailedProjectionHoldsCheckpoint(t *testing.T) {
	bad, good := uuid.New(), uuid.New()
	src := &fakeSource{batches: [][]events.Event{{
		record(bad, jobsites.EventUpdated, "Ghost", 3),
		record(good, jobsites.EventCreated, "Site C", 4),
	}}}
	applier := &fakeApplier{fail: map[uuid.UUID]error{bad: sitefeed.ErrNotFound}}
	cps := &memCheckpoints{}
	hub := broadcast.NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	runUntilSourceDone(t, newConsumer(t, src, applier, cps, hub))

	// consumption continued past the failed record
	if len(applier.calls) != 2 {
		t.Fatalf("applied %d events, want 2", len(applier.calls))
	}
	select {
	case msg := <-sub.C():
		if msg.Jobsite.ID != good {
			t.Errorf("broadcast for %s, want %s", msg.Jobsite.ID, good)
		}
	default:
		t.Error("expected a broadcast for the successful record")
	}
	// but the checkpoint never advanced past position 3
	if len(cps.saves) != 0 {
		t.Errorf("checkpoint advanced past a failed record: saves=%v", cps.saves)
	}
}

func TestConsumer_ReplayedCreateAdvancesWithoutPublish(t *testing.T) {
	id := uuid.New()
	src := &fakeSource{batches: [][]events.Event{{
		record(id, jobsites.EventCreated, "Site A", 7),
	}}}
	applier := &fakeApplier{fail: map[uuid.UUID]error{id: sitefeed.ErrConflict}}
	cps := &memCheckpoints{}
	hub := broadcast.NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	runUntilSourceDone(t, newConsumer(t, src, applier, cps, hub))

	if cps.pos[KeyJobsite] != 7 {
		t.Errorf("checkpoint: got %d, want 7", cps.pos[KeyJobsite])
	}
	select {
	case msg := <-sub.C():
		t.Errorf("unexpected broadcast for replayed create: %+v", msg)
	default:
	}
}

func TestConsumer_ConflictOnUpdateIsNotBenign(t *testing.T) {
	id := uuid.New()
	src := &fakeSource{batches: [][]events.Event{{
		record(id, jobsites.EventUpdated, "Taken Name", 2),
	}}}
	applier := &fakeApplier{fail: map[uuid.UUID]error{id: sitefeed.ErrConflict}}
	cps := &memCheckpoints{}

	runUntilSourceDone(t, newConsumer(t, src, applier, cps, broadcast.NewHub()))

	if len(cps.saves) != 0 {
		t.Errorf("checkpoint advanced past a failed update: saves=%v", cps.saves)
	}
}

func TestConsumer_MalformedEventSkipped(t *testing.T) {
	id := uuid.New()
	src := &fakeSource{batches: [][]events.Event{{
		{StreamID: "jobsite-garbage", Type: jobsites.EventCreated, Data: []byte(`{{{`), GlobalPosition: 1},
		{StreamID: "jobsite-other", Type: "JobsiteArchived", Data: []byte(`{}`), GlobalPosition: 2},
		record(id, jobsites.EventCreated, "Site A", 3),
	}}}
	applier := &fakeApplier{}
	cps := &memCheckpoints{}

	runUntilSourceDone(t, newConsumer(t, src, applier, cps, broadcast.NewHub()))

	if len(applier.calls) != 1 {
		t.Fatalf("applied %d events, want 1", len(applier.calls))
	}
	if cps.pos[KeyJobsite] != 3 {
		t.Errorf("checkpoint: got %d, want 3", cps.pos[KeyJobsite])
	}
}

func TestConsumer_FanOutToAllSubscribers(t *testing.T) {
	id := uuid.New()
	src := &fakeSource{batches: [][]events.Event{{
		record(id, jobsites.EventCreated, "Site A", 1),
	}}}
	hub := broadcast.NewHub()

	const k = 3
	subs := make([]*broadcast.Subscriber, k)
	for i := range subs {
		subs[i] = hub.Subscribe()
		defer subs[i].Close()
	}

	runUntilSourceDone(t, newConsumer(t, src, &fakeApplier{}, &memCheckpoints{}, hub))

	for i, sub := range subs {
		select {
		case msg := <-sub.C():
			if msg.Kind != broadcast.KindCreated {
				t.Errorf("subscriber %d: kind %q, want %q", i, msg.Kind, broadcast.KindCreated)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}

	late := hub.Subscribe()
	defer late.Close()
	select {
	case msg := <-late.C():
		t.Errorf("late subscriber received %+v, want nothing", msg)
	default:
	}
}

func TestConsumer_FailedCheckpointSaveContinues(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	src := &fakeSource{batches: [][]events.Event{{
		record(a, jobsites.EventCreated, "Site A", 1),
		record(b, jobsites.EventCreated, "Site B", 2),
	}}}
	applier := &fakeApplier{}
	cps := &memCheckpoints{failOn: 1}

	runUntilSourceDone(t, newConsumer(t, src, applier, cps, broadcast.NewHub()))

	if len(applier.calls) != 2 {
		t.Fatalf("applied %d events, want 2", len(applier.calls))
	}
	if cps.pos[KeyJobsite] != 2 {
		t.Errorf("checkpoint: got %d, want 2", cps.pos[KeyJobsite])
	}
}

func TestConsumer_ResumesFromCheckpoint(t *testing.T) {
	var openedAfter int64 = -1
	src := &fakeSource{}
	open := func(after int64) Source {
		openedAfter = after
		return src
	}
	cps := &memCheckpoints{pos: map[string]int64{KeyJobsite: 42}}
	dec := jobsites.NewDecoder(codecs.NewJSONIter())
	c := NewConsumer(KeyJobsite, open, dec, &fakeApplier{}, cps, broadcast.NewHub())

	if err := c.Run(context.Background()); !errors.Is(err, errSourceDone) {
		t.Fatalf("run: %v", err)
	}
	if openedAfter != 42 {
		t.Errorf("subscription opened after %d, want 42", openedAfter)
	}
}
