package event

// Kind is the closed set of event kinds the platform understands.
//
// Keeping this a tagged union (rather than free-form type strings) forces
// every consumer switch to handle KindUnknown explicitly instead of silently
// passing unmapped events through.
type Kind int

const (
	// KindUnknown is the explicit variant for unmapped or unrecognized events.
	KindUnknown Kind = iota

	// KindMasteryUpdated signals a change in a student's mastery score.
	KindMasteryUpdated

	// KindFeedbackReceived signals tutor feedback on a submission.
	KindFeedbackReceived

	// KindSkillComputed signals completion of a derived skill computation.
	KindSkillComputed

	// KindSessionStarted signals the start of a tutoring session.
	KindSessionStarted

	// KindSessionEnded signals the end of a tutoring session.
	KindSessionEnded

	// KindExerciseSubmitted signals a student submitting exercise code.
	KindExerciseSubmitted

	// KindHintGenerated signals a hint produced for a struggling student.
	KindHintGenerated

	// KindSystemNotice is a platform-wide announcement with no owning student.
	KindSystemNotice

	// KindSystemError signals a platform error surfaced to clients.
	KindSystemError
)

// kindNames maps each kind to its wire name.
var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindMasteryUpdated:    "mastery-updated",
	KindFeedbackReceived:  "feedback-received",
	KindSkillComputed:     "skill-computed",
	KindSessionStarted:    "session-started",
	KindSessionEnded:      "session-ended",
	KindExerciseSubmitted: "exercise-submitted",
	KindHintGenerated:     "hint-generated",
	KindSystemNotice:      "system-notice",
	KindSystemError:       "system-error",
}

// kindTopics maps each kind to the topic it is routed on. Several kinds can
// share a topic (session lifecycle events all route on "session-activity").
var kindTopics = map[Kind]string{
	KindMasteryUpdated:    "mastery-updated",
	KindFeedbackReceived:  "feedback-received",
	KindSkillComputed:     "skill-computed",
	KindSessionStarted:    "session-activity",
	KindSessionEnded:      "session-activity",
	KindExerciseSubmitted: "exercise-submitted",
	KindHintGenerated:     "hint-generated",
	KindSystemNotice:      "system",
	KindSystemError:       "system",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Topic returns the canonical routing topic for the kind. KindUnknown has no
// topic and returns an empty string.
func (k Kind) Topic() string {
	return kindTopics[k]
}

// IsValid reports whether the kind is a known, routable variant.
func (k Kind) IsValid() bool {
	return k != KindUnknown && kindNames[k] != ""
}

// ParseKind resolves a wire name to a Kind, returning KindUnknown for
// unrecognized names.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name && k != KindUnknown {
			return k
		}
	}
	return KindUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to
// KindUnknown rather than failing, so one bad event cannot poison a batch.
func (k *Kind) UnmarshalText(text []byte) error {
	*k = ParseKind(string(text))
	return nil
}
