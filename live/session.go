// Package live runs one session worker per websocket connection,
// multiplexing inbound client requests and broadcast notifications onto the
// same duplex channel.
package live

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/broadcast"
	"github.com/ripkitten-co/sitefeed/internal/codecs"
	"github.com/ripkitten-co/sitefeed/jobsites"
)

// Conn is the subset of *websocket.Conn a session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Loader serves point queries for current state, bypassing the hub.
// jobsites.ReadModel implements it.
type Loader interface {
	GetByID(ctx context.Context, id uuid.UUID) (jobsites.Jobsite, error)
}

// Renderer turns a materialized jobsite into the opaque fragment sent to the
// client. Rendering lives outside this package; sessions only address
// fragments to the originating jobsite.
type Renderer interface {
	Render(kind broadcast.Kind, js jobsites.Jobsite) ([]byte, error)
}

// Client message types, matching the wire protocol's tagged union.
const (
	MessageLoading  = "JobsiteLoading"
	MessageRegister = "JobsiteRegister"
)

// ClientMessage is an inbound request on the live channel.
type ClientMessage struct {
	Type      string    `json:"type"`
	JobsiteID uuid.UUID `json:"jobsite_id"`
}

type SessionOption func(*Session)

func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

func WithCodec(c codecs.Codec) SessionOption {
	return func(s *Session) { s.codec = c }
}

// Session is one live connection's worker. It owns its interest set
// exclusively; no locking is needed because only the session goroutine
// touches it.
type Session struct {
	conn      Conn
	sub       *broadcast.Subscriber
	loader    Loader
	render    Renderer
	codec     codecs.Codec
	log       *slog.Logger
	interests map[uuid.UUID]struct{}
}

func NewSession(conn Conn, sub *broadcast.Subscriber, loader Loader, render Renderer, opts ...SessionOption) *Session {
	s := &Session{
		conn:      conn,
		sub:       sub,
		loader:    loader,
		render:    render,
		codec:     codecs.NewJSONIter(),
		log:       slog.Default(),
		interests: make(map[uuid.UUID]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run services the connection until it closes or ctx is cancelled. Whichever
// of {client input, broadcast, shutdown} is ready first is serviced first.
// On return the hub subscription is released and no further sends happen.
func (s *Session) Run(ctx context.Context) {
	defer s.sub.Close()
	defer s.conn.Close()

	inbound := make(chan []byte)
	closed := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)

	go s.readPump(inbound, closed, stop)

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case raw := <-inbound:
			s.handleClientMessage(ctx, raw)
		case msg := <-s.sub.C():
			// unconditional fan-out: the interest set does not gate delivery
			s.send(msg.Kind, msg.Jobsite)
		}
	}
}

// readPump feeds inbound frames to the session loop. It exits when the
// connection errors or the session stops.
func (s *Session) readPump(inbound chan<- []byte, closed chan<- struct{}, stop <-chan struct{}) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			close(closed)
			return
		}
		select {
		case inbound <- data:
		case <-stop:
			return
		}
	}
}

func (s *Session) handleClientMessage(ctx context.Context, raw []byte) {
	var msg ClientMessage
	if err := s.codec.Unmarshal(raw, &msg); err != nil {
		s.log.Error("parse client message", "error", err)
		return
	}

	switch msg.Type {
	case MessageLoading:
		js, err := s.loader.GetByID(ctx, msg.JobsiteID)
		if err != nil {
			if !errors.Is(err, sitefeed.ErrNotFound) {
				s.log.Error("load jobsite", "jobsite", msg.JobsiteID, "error", err)
			}
			return
		}
		s.send(broadcast.KindCreated, js)
	case MessageRegister:
		s.interests[msg.JobsiteID] = struct{}{}
	default:
		s.log.Error("parse client message", "type", msg.Type)
	}
}

func (s *Session) send(kind broadcast.Kind, js jobsites.Jobsite) {
	payload, err := s.render.Render(kind, js)
	if err != nil {
		s.log.Error("render update", "jobsite", js.ID, "error", err)
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.log.Error("send update", "jobsite", js.ID, "error", err)
	}
}

// Registered reports whether the session has recorded interest in id.
func (s *Session) Registered(id uuid.UUID) bool {
	_, ok := s.interests[id]
	return ok
}
