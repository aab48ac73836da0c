package event

// Priority classifies event urgency. Priority affects filtering only, never
// delivery order.
type Priority int

const (
	// PriorityLow marks informational events clients may ignore.
	PriorityLow Priority = iota

	// PriorityNormal is the default when upstream carries no priority.
	PriorityNormal

	// PriorityHigh marks events that should interrupt the UI.
	PriorityHigh

	// PriorityCritical marks events requiring immediate attention.
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String returns the wire name of the priority.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "normal"
}

// IsValid reports whether p is one of the defined levels.
func (p Priority) IsValid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority resolves a wire name to a Priority. Unrecognized or empty
// names default to PriorityNormal.
func ParsePriority(name string) Priority {
	for p, n := range priorityNames {
		if n == name {
			return p
		}
	}
	return PriorityNormal
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	*p = ParsePriority(string(text))
	return nil
}
