// Package bridge validates inbound broker messages and transforms them into
// canonical internal events. Malformed or unmapped messages are dropped with
// a log line; they never abort the enclosing batch.
package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/event"
	"github.com/brightpath/tutorstream/metric"
	"github.com/brightpath/tutorstream/pkg/timestamp"
)

// RawEvent is the external CloudEvents-style envelope received from the
// broker.
type RawEvent struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Type        string          `json:"type"`
	SpecVersion string          `json:"specversion"`
	Data        json.RawMessage `json:"data"`
	Timestamp   any             `json:"timestamp,omitempty"`
}

// typeTable maps external event type strings to internal kinds. An external
// type absent from this table is dropped, never passed through best-effort.
var typeTable = map[string]event.Kind{
	"com.brightpath.tutoring.mastery.updated":    event.KindMasteryUpdated,
	"com.brightpath.tutoring.feedback.received":  event.KindFeedbackReceived,
	"com.brightpath.tutoring.skill.computed":     event.KindSkillComputed,
	"com.brightpath.tutoring.session.started":    event.KindSessionStarted,
	"com.brightpath.tutoring.session.ended":      event.KindSessionEnded,
	"com.brightpath.tutoring.exercise.submitted": event.KindExerciseSubmitted,
	"com.brightpath.tutoring.hint.generated":     event.KindHintGenerated,
	"com.brightpath.platform.notice":             event.KindSystemNotice,
	"com.brightpath.platform.error":              event.KindSystemError,
}

// criticalTypes raise the derived priority to high when the payload carries
// no explicit priority of its own.
var criticalTypes = map[event.Kind]struct{}{
	event.KindSystemError: {},
}

// Bridge validates and transforms external envelopes.
type Bridge struct {
	logger  *slog.Logger
	metrics *metric.Metrics // optional
}

// Option configures the bridge.
type Option func(*Bridge)

// WithMetrics enables Prometheus metrics for transform outcomes.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(b *Bridge) {
		if reg != nil {
			b.metrics = reg.CoreMetrics()
		}
	}
}

// New creates a bridge.
func New(logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		logger: logger.With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Transform validates a raw envelope and produces the canonical internal
// event. Missing required fields and unmapped types return a classified
// error; callers processing a batch log and continue.
func (b *Bridge) Transform(raw *RawEvent) (*event.Event, error) {
	if raw == nil {
		return nil, b.reject("", "empty", errors.WrapInvalid(
			errors.ErrMissingField, "Bridge", "Transform", "require envelope"))
	}

	if field := missingField(raw); field != "" {
		return nil, b.reject(raw.ID, "missing_field", errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrMissingField, field),
			"Bridge", "Transform", "validate envelope"))
	}

	kind, ok := typeTable[raw.Type]
	if !ok {
		return nil, b.reject(raw.ID, "unmapped_type", errors.WrapInvalid(
			errors.ErrUnmappedType, "Bridge", "Transform", "map event type"))
	}

	var data map[string]any
	if err := json.Unmarshal(raw.Data, &data); err != nil {
		return nil, b.reject(raw.ID, "bad_payload", errors.WrapInvalid(
			errors.ErrUnmappedType, "Bridge", "Transform", "decode payload"))
	}

	opts := []event.Option{
		event.WithID(raw.ID),
		event.WithPriority(derivePriority(kind, data)),
		event.WithMetadata(map[string]string{"source": raw.Source}),
	}
	if ms := timestamp.Parse(raw.Timestamp); ms > 0 {
		opts = append(opts, event.WithTime(timestamp.ToTime(ms)))
	}

	ev := event.New(kind, data, opts...)

	if b.metrics != nil {
		b.metrics.RecordEventReceived("bridge", kind.String())
	}
	return ev, nil
}

// TransformJSON decodes and transforms a raw broker payload in one step.
// Parse failures surface as a classified validation error whose message
// never contains decoder internals.
func (b *Bridge) TransformJSON(payload []byte) (*event.Event, error) {
	var raw RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, b.reject("", "unparseable", errors.WrapInvalid(
			errors.ErrUnmappedType, "Bridge", "TransformJSON", "decode envelope"))
	}
	return b.Transform(&raw)
}

// missingField returns the name of the first absent required envelope field,
// or empty when the envelope is complete.
func missingField(raw *RawEvent) string {
	switch {
	case raw.ID == "":
		return "id"
	case raw.Source == "":
		return "source"
	case raw.Type == "":
		return "type"
	case raw.SpecVersion == "":
		return "specversion"
	case len(raw.Data) == 0 || string(raw.Data) == "null":
		return "data"
	}
	return ""
}

// derivePriority resolves the event priority: an explicit payload priority
// wins, then known-critical types and severity markers raise to high, and
// everything else defaults to normal.
func derivePriority(kind event.Kind, data map[string]any) event.Priority {
	if raw, ok := data["priority"].(string); ok {
		// ParsePriority defaults unknown names to normal; only honor names
		// that round-trip so a typo cannot downgrade a critical event.
		if p := event.ParsePriority(raw); p.String() == raw {
			return p
		}
	}

	if _, critical := criticalTypes[kind]; critical {
		return event.PriorityHigh
	}
	if severity, ok := data["severity"].(string); ok && severity == "critical" {
		return event.PriorityHigh
	}

	return event.PriorityNormal
}

// reject logs a dropped envelope with its correlation id and records the
// drop reason.
func (b *Bridge) reject(correlationID, reason string, err error) error {
	b.logger.Debug("dropped inbound event",
		"correlation_id", correlationID,
		"reason", reason)

	if b.metrics != nil {
		b.metrics.RecordTransformReject("bridge", reason)
	}
	return err
}
