package bridge

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/event"
)

func validRaw() *RawEvent {
	return &RawEvent{
		ID:          "evt-001",
		Source:      "mastery-service",
		Type:        "com.brightpath.tutoring.mastery.updated",
		SpecVersion: "1.0",
		Data:        json.RawMessage(`{"studentId":"alice","skill":"algebra","score":0.82}`),
	}
}

func TestTransformValidEnvelope(t *testing.T) {
	b := New(slog.Default())

	ev, err := b.Transform(validRaw())
	require.NoError(t, err)
	assert.Equal(t, "evt-001", ev.ID)
	assert.Equal(t, event.KindMasteryUpdated, ev.Kind)
	assert.Equal(t, event.PriorityNormal, ev.Priority)
	assert.Equal(t, "mastery-service", ev.Metadata["source"])
	assert.Equal(t, "alice", ev.Data["studentId"])

	studentID, ok := ev.StudentID()
	require.True(t, ok)
	assert.Equal(t, "alice", studentID)
}

func TestTransformNilEnvelope(t *testing.T) {
	b := New(slog.Default())

	_, err := b.Transform(nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMissingField)
}

func TestTransformMissingFields(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*RawEvent)
	}{
		{"id", func(r *RawEvent) { r.ID = "" }},
		{"source", func(r *RawEvent) { r.Source = "" }},
		{"type", func(r *RawEvent) { r.Type = "" }},
		{"specversion", func(r *RawEvent) { r.SpecVersion = "" }},
		{"data", func(r *RawEvent) { r.Data = nil }},
		{"data", func(r *RawEvent) { r.Data = json.RawMessage("null") }},
	}

	b := New(slog.Default())
	for _, tc := range tests {
		raw := validRaw()
		tc.mutate(raw)

		_, err := b.Transform(raw)
		require.Error(t, err, "field %s", tc.field)
		assert.True(t, errors.IsInvalid(err))
		assert.ErrorIs(t, err, errors.ErrMissingField)
		assert.Contains(t, err.Error(), tc.field)
	}
}

func TestTransformUnmappedType(t *testing.T) {
	b := New(slog.Default())
	raw := validRaw()
	raw.Type = "com.other.vendor.something"

	_, err := b.Transform(raw)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrUnmappedType)
}

func TestTransformRejectsNonObjectPayload(t *testing.T) {
	b := New(slog.Default())
	raw := validRaw()
	raw.Data = json.RawMessage(`["not","an","object"]`)

	_, err := b.Transform(raw)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestTransformTypeTable(t *testing.T) {
	tests := []struct {
		external string
		kind     event.Kind
	}{
		{"com.brightpath.tutoring.mastery.updated", event.KindMasteryUpdated},
		{"com.brightpath.tutoring.feedback.received", event.KindFeedbackReceived},
		{"com.brightpath.tutoring.skill.computed", event.KindSkillComputed},
		{"com.brightpath.tutoring.session.started", event.KindSessionStarted},
		{"com.brightpath.tutoring.session.ended", event.KindSessionEnded},
		{"com.brightpath.tutoring.exercise.submitted", event.KindExerciseSubmitted},
		{"com.brightpath.tutoring.hint.generated", event.KindHintGenerated},
		{"com.brightpath.platform.notice", event.KindSystemNotice},
		{"com.brightpath.platform.error", event.KindSystemError},
	}

	b := New(slog.Default())
	for _, tc := range tests {
		raw := validRaw()
		raw.Type = tc.external

		ev, err := b.Transform(raw)
		require.NoError(t, err, tc.external)
		assert.Equal(t, tc.kind, ev.Kind, tc.external)
	}
}

func TestDerivePriority(t *testing.T) {
	b := New(slog.Default())

	tests := []struct {
		name     string
		typ      string
		data     string
		expected event.Priority
	}{
		{"default is normal", "com.brightpath.tutoring.mastery.updated", `{}`, event.PriorityNormal},
		{"explicit priority wins", "com.brightpath.platform.error", `{"priority":"low"}`, event.PriorityLow},
		{"critical type raises", "com.brightpath.platform.error", `{}`, event.PriorityHigh},
		{"critical severity raises", "com.brightpath.tutoring.mastery.updated", `{"severity":"critical"}`, event.PriorityHigh},
		{"unknown explicit priority ignored", "com.brightpath.platform.error", `{"priority":"bogus"}`, event.PriorityHigh},
		{"non-critical severity ignored", "com.brightpath.tutoring.mastery.updated", `{"severity":"warning"}`, event.PriorityNormal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			raw.Type = tc.typ
			raw.Data = json.RawMessage(tc.data)

			ev, err := b.Transform(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ev.Priority)
		})
	}
}

func TestTransformTimestamp(t *testing.T) {
	b := New(slog.Default())
	raw := validRaw()
	raw.Timestamp = float64(1735689600000) // 2025-01-01T00:00:00Z in ms

	ev, err := b.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), ev.Timestamp.UTC())
}

func TestTransformJSON(t *testing.T) {
	b := New(slog.Default())

	payload := `{
		"id": "evt-002",
		"source": "session-service",
		"type": "com.brightpath.tutoring.session.started",
		"specversion": "1.0",
		"data": {"studentId": "bob", "sessionId": "s-9"}
	}`
	ev, err := b.TransformJSON([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "evt-002", ev.ID)
	assert.Equal(t, event.KindSessionStarted, ev.Kind)
}

func TestTransformJSONNeverLeaksDecoderDetails(t *testing.T) {
	b := New(slog.Default())

	_, err := b.TransformJSON([]byte(`{"id": "evt-3", "broken`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	msg := strings.ToLower(err.Error())
	assert.NotContains(t, msg, "syntaxerror")
	assert.NotContains(t, msg, "unexpected end")
	assert.NotContains(t, msg, "invalid character")
}
