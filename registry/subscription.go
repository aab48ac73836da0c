package registry

import (
	"fmt"
	"regexp"
	"time"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/event"
)

// Validation limits. Oversized requests are rejected outright, never
// silently truncated.
const (
	MaxTopicsPerSubscription  = 100
	MaxFiltersPerSubscription = 20
	MaxIdentifierLength       = 256
)

// topicPattern is a security boundary, not cosmetic: topic names may be
// interpolated into downstream routing keys, so the charset is restrictive
// and the first character must be a letter.
var topicPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ownerPattern allow-lists the student identifier charset to block injection
// via identifier fields.
var ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Subscription tracks one client session's interest in a set of topics.
// A subscription with an empty OwnerID receives all matching topic events
// regardless of data ownership; one with OwnerID set only receives events
// owned by that student, plus events carrying no studentId at all.
type Subscription struct {
	ID        string            `json:"subscriptionId"`
	Topics    []string          `json:"topics"`
	Filters   []Filter          `json:"filters,omitempty"`
	OwnerID   string            `json:"studentId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt,omitempty"`
}

// Expired reports whether the subscription has passed its expiry.
// Subscriptions without an expiry never expire.
func (s Subscription) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// HasTopic reports whether the subscription covers the given topic.
func (s Subscription) HasTopic(topic string) bool {
	for _, t := range s.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Matches reports whether an event should be delivered to this subscription:
// the topic must be covered, the owner scope must pass, and every filter
// must match. Events carrying no studentId pass the owner clause as
// platform-wide broadcasts.
func (s Subscription) Matches(ev *event.Event) bool {
	if !s.HasTopic(ev.Topic) {
		return false
	}

	if s.OwnerID != "" {
		if studentID, ok := ev.StudentID(); ok && studentID != s.OwnerID {
			return false
		}
	}

	for _, f := range s.Filters {
		if !f.Matches(ev) {
			return false
		}
	}

	return true
}

// ValidateTopic checks a topic name against the restrictive routing-key
// charset.
func ValidateTopic(topic string) error {
	if topic == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "registry", "ValidateTopic", "topic is required")
	}
	if len(topic) > MaxIdentifierLength {
		return errors.WrapInvalid(errors.ErrPayloadTooBig, "registry", "ValidateTopic",
			fmt.Sprintf("topic exceeds %d characters", MaxIdentifierLength))
	}
	if !topicPattern.MatchString(topic) {
		return errors.WrapInvalid(errors.ErrInvalidCharset, "registry", "ValidateTopic",
			"topic must start with a letter and contain only alphanumerics, hyphen, underscore")
	}
	return nil
}

// ValidateOwnerID checks a student identifier against the allow-listed
// charset. Empty owner IDs are allowed (unscoped subscriptions).
func ValidateOwnerID(ownerID string) error {
	if ownerID == "" {
		return nil
	}
	if len(ownerID) > MaxIdentifierLength {
		return errors.WrapInvalid(errors.ErrPayloadTooBig, "registry", "ValidateOwnerID",
			fmt.Sprintf("studentId exceeds %d characters", MaxIdentifierLength))
	}
	if !ownerPattern.MatchString(ownerID) {
		return errors.WrapInvalid(errors.ErrInvalidCharset, "registry", "ValidateOwnerID",
			"studentId must contain only alphanumerics, hyphen, underscore")
	}
	return nil
}

// validateRequest checks the full subscription request shape.
func validateRequest(req Request) error {
	if len(req.Topics) == 0 {
		return errors.WrapInvalid(errors.ErrMissingField, "registry", "Subscribe", "topics cannot be empty")
	}
	if len(req.Topics) > MaxTopicsPerSubscription {
		return errors.WrapInvalid(errors.ErrPayloadTooBig, "registry", "Subscribe",
			fmt.Sprintf("topic count exceeds limit of %d", MaxTopicsPerSubscription))
	}
	for _, topic := range req.Topics {
		if err := ValidateTopic(topic); err != nil {
			return err
		}
	}

	if err := ValidateOwnerID(req.OwnerID); err != nil {
		return err
	}

	if len(req.Filters) > MaxFiltersPerSubscription {
		return errors.WrapInvalid(errors.ErrPayloadTooBig, "registry", "Subscribe",
			fmt.Sprintf("filter count exceeds limit of %d", MaxFiltersPerSubscription))
	}
	for _, f := range req.Filters {
		if f.Field == "" {
			return errors.WrapInvalid(errors.ErrMissingField, "registry", "Subscribe", "filter field is required")
		}
		if _, ok := validOperators[f.Operator]; !ok {
			return errors.WrapInvalid(errors.ErrInvalidData, "registry", "Subscribe",
				fmt.Sprintf("unknown filter operator %q", f.Operator))
		}
	}

	return nil
}
