// Package event defines the canonical event shape flowing through the
// distribution core, from bridge ingestion to stream delivery.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/tutorstream/errors"
)

// studentIDField is the payload field carrying the owning student identity.
const studentIDField = "studentId"

// Event is the canonical internal event. Events are created at ingestion by
// the bridge and destroyed when evicted from the router buffer; they are
// never persisted.
type Event struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Kind      Kind              `json:"type"`
	Data      map[string]any    `json:"data"`
	Priority  Priority          `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Option is a functional option for configuring Event construction.
type Option func(*Event)

// WithID overrides the generated event ID (used when the upstream envelope
// already carries one).
func WithID(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.ID = id
		}
	}
}

// WithTime sets a specific timestamp instead of time.Now().
func WithTime(t time.Time) Option {
	return func(e *Event) {
		if !t.IsZero() {
			e.Timestamp = t
		}
	}
}

// WithPriority overrides the default normal priority.
func WithPriority(p Priority) Option {
	return func(e *Event) {
		if p.IsValid() {
			e.Priority = p
		}
	}
}

// WithTopic overrides the kind's canonical topic.
func WithTopic(topic string) Option {
	return func(e *Event) {
		if topic != "" {
			e.Topic = topic
		}
	}
}

// WithMetadata attaches metadata to the event.
func WithMetadata(md map[string]string) Option {
	return func(e *Event) {
		e.Metadata = md
	}
}

// New creates an event of the given kind with a generated ID, the kind's
// canonical topic, normal priority, and the current time.
func New(kind Kind, data map[string]any, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		Topic:     kind.Topic(),
		Kind:      kind,
		Data:      data,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Validate checks the minimal event shape required for routing. Malformed
// events are rejected at publish time and never reach listeners or the
// buffer.
func (e *Event) Validate() error {
	if e == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Event", "Validate", "event is nil")
	}
	if e.ID == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "Event", "Validate", "id is required")
	}
	if e.Topic == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "Event", "Validate", "topic is required")
	}
	if !e.Kind.IsValid() {
		return errors.WrapInvalid(errors.ErrUnmappedType, "Event", "Validate", "unknown event kind")
	}
	if !e.Priority.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Event", "Validate", "invalid priority")
	}
	return nil
}

// StudentID returns the owning student identity from the payload, if any.
// Events without a studentId field are treated as platform-wide broadcasts.
func (e *Event) StudentID() (string, bool) {
	if e.Data == nil {
		return "", false
	}
	v, ok := e.Data[studentIDField]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// MarshalJSON emits the wire format with an RFC3339 UTC timestamp.
func (e *Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(&struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     (*alias)(e),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON accepts the wire format produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := &struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{
		alias: (*alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return errors.WrapInvalid(err, "Event", "UnmarshalJSON", "decode wire format")
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
		if err != nil {
			return errors.WrapInvalid(err, "Event", "UnmarshalJSON", "parse timestamp")
		}
		e.Timestamp = t
	}
	return nil
}
