// Package health tracks per-component health and aggregates it for the
// /healthz endpoint. Messages surfaced here may reach browser clients, so
// every error string is sanitized before it is stored.
package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/brightpath/tutorstream/connection"
	"github.com/brightpath/tutorstream/router"
)

// Sanitization patterns applied to error messages before exposure.
var (
	httpURLRegex    = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s]+`)
	wsURLRegex      = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential|bearer)[^a-zA-Z]*[:=][^,\s}]+`)
	parserRegex     = regexp.MustCompile(`(?i)(syntaxerror|unexpected token|invalid character '[^']*')`)
)

// Status is the health of one component or of the system as a whole.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"subStatuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries health-related counters.
type Metrics struct {
	Uptime        time.Duration `json:"uptime"`
	EventsSeen    uint64        `json:"eventsSeen,omitempty"`
	LastEventAt   time.Time     `json:"lastEventAt,omitempty"`
	Reconnects    int           `json:"reconnects,omitempty"`
	Subscriptions int           `json:"subscriptions,omitempty"`
	ErrorCount    int           `json:"errorCount,omitempty"`
	LastActivity  time.Time     `json:"lastActivity,omitempty"`
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// sanitizeErrorMessage strips URLs, paths, addresses, credential fragments,
// and JSON decoder internals from an error message so it can be exposed to
// clients without leaking topology or parser details.
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	sanitized := msg

	// URLs first, since they contain paths.
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = wsURLRegex.ReplaceAllString(sanitized, "[URL]")

	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")
	sanitized = parserRegex.ReplaceAllString(sanitized, "[PARSE]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "credential") || strings.Contains(lower, "bearer") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}

	return sanitized
}

// FromStream converts a connection snapshot into a health status. An
// exhausted or errored stream is unhealthy; a reconnecting one is degraded.
func FromStream(name string, snap connection.Snapshot) Status {
	message := "stream " + snap.State.String()
	if snap.LastError != nil {
		message = sanitizeErrorMessage(snap.LastError.Error())
	}

	metrics := &Metrics{
		Reconnects:   snap.ReconnectAttempts,
		LastActivity: snap.LastEventAt,
	}

	switch snap.State {
	case connection.StateConnected:
		return NewHealthy(name, message).WithMetrics(metrics)
	case connection.StateConnecting, connection.StateReconnecting:
		return NewDegraded(name, message).WithMetrics(metrics)
	default:
		return NewUnhealthy(name, message).WithMetrics(metrics)
	}
}

// FromRouter converts the router's health snapshot into a health status.
// A quiet event window degrades rather than fails the system: the transport
// may be fine while upstream simply has nothing to say.
func FromRouter(name string, h router.Health) Status {
	metrics := &Metrics{
		EventsSeen:  h.EventCount,
		LastEventAt: h.LastEventTime,
	}

	if h.IsHealthy {
		return NewHealthy(name, "events flowing").WithMetrics(metrics)
	}
	if h.EventCount == 0 {
		return NewDegraded(name, "no events received yet").WithMetrics(metrics)
	}
	return NewDegraded(name, "no events within health window").WithMetrics(metrics)
}

// FromError builds an unhealthy status from an error, sanitized.
func FromError(name string, err error) Status {
	if err == nil {
		return NewHealthy(name, "")
	}
	return NewUnhealthy(name, sanitizeErrorMessage(err.Error()))
}
