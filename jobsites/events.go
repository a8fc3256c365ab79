package jobsites

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ripkitten-co/sitefeed/events"
	"github.com/ripkitten-co/sitefeed/internal/codecs"
)

// Event names as they appear in the log's type column.
const (
	EventCreated = "JobsiteCreated"
	EventUpdated = "JobsiteUpdated"
)

// StreamPrefix is the stream-name prefix shared by all jobsite streams.
// One stream per jobsite: "jobsite-<uuid>".
const StreamPrefix = "jobsite-"

// StreamID returns the stream name for a jobsite.
func StreamID(id uuid.UUID) string {
	return StreamPrefix + id.String()
}

var (
	// ErrMissingPayload is returned when a log record carries no data.
	ErrMissingPayload = errors.New("missing payload")

	// ErrMalformedPayload is returned when a record's payload does not
	// match the schema for its event type.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownType is returned when a record's type tag is not a known
	// jobsite event name.
	ErrUnknownType = errors.New("unknown event type")
)

// Event is a typed jobsite domain event decoded from a log record.
type Event interface {
	EventName() string
	JobsiteID() uuid.UUID
}

// Created is appended when a jobsite is created.
type Created struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (Created) EventName() string { return EventCreated }
func (e Created) JobsiteID() uuid.UUID { return e.ID }

// Updated is appended when a jobsite is renamed.
type Updated struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (Updated) EventName() string { return EventUpdated }
func (e Updated) JobsiteID() uuid.UUID { return e.ID }

// Decoder turns raw log records into typed jobsite events.
type Decoder struct {
	codec codecs.Codec
}

func NewDecoder(codec codecs.Codec) *Decoder {
	return &Decoder{codec: codec}
}

// Decode maps a raw record to a typed event. It is pure: no side effects,
// errors only from the taxonomy above.
func (d *Decoder) Decode(rec events.Event) (Event, error) {
	if len(rec.Data) == 0 {
		return nil, fmt.Errorf("jobsites: decode %s: %w", rec.Type, ErrMissingPayload)
	}

	switch rec.Type {
	case EventCreated:
		var e Created
		if err := d.codec.Unmarshal(rec.Data, &e); err != nil {
			return nil, fmt.Errorf("jobsites: decode %s: %v: %w", rec.Type, err, ErrMalformedPayload)
		}
		return e, nil
	case EventUpdated:
		var e Updated
		if err := d.codec.Unmarshal(rec.Data, &e); err != nil {
			return nil, fmt.Errorf("jobsites: decode %s: %v: %w", rec.Type, err, ErrMalformedPayload)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("jobsites: decode %s: %w", rec.Type, ErrUnknownType)
	}
}
