// Package broadcast provides the in-process fan-out channel between the
// projection consumer and live sessions. Delivery is lossy per subscriber:
// a full queue drops the message rather than blocking the publisher, and
// there is no replay for late subscribers.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/ripkitten-co/sitefeed/jobsites"
)

// Kind tags a materialized-change notification.
type Kind string

const (
	KindCreated Kind = "jobsite_created"
	KindUpdated Kind = "jobsite_updated"
)

// Message is published once per successfully committed projection.
type Message struct {
	Kind    Kind
	Jobsite jobsites.Jobsite
}

type HubOption func(*Hub)

// WithBuffer sets the per-subscriber queue capacity.
func WithBuffer(n int) HubOption {
	return func(h *Hub) { h.buffer = n }
}

// Hub is a multi-subscriber fan-out channel with a bounded queue per
// subscriber. It is constructed explicitly and injected; there is no
// package-level hub.
type Hub struct {
	mu      sync.Mutex
	subs    map[int64]*Subscriber
	nextID  int64
	buffer  int
	dropped atomic.Int64
}

// NewHub returns a hub with a default per-subscriber buffer of 16.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:   make(map[int64]*Subscriber),
		buffer: 16,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a new subscriber. The caller must Close it when done.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{
		id:  h.nextID,
		hub: h,
		ch:  make(chan Message, h.buffer),
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers msg to every current subscriber without blocking.
// A subscriber whose queue is full misses the message.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns the total number of messages dropped on full queues.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Subscriber is one bounded receive queue on a hub.
type Subscriber struct {
	id   int64
	hub  *Hub
	ch   chan Message
	once sync.Once
}

// C returns the receive channel. It is never closed; callers multiplex it
// against their own shutdown signal.
func (s *Subscriber) C() <-chan Message {
	return s.ch
}

// Close removes the subscriber from the hub. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s.id)
	})
}
