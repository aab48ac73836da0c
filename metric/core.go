package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Event pipeline metrics
	EventsReceived   *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	EventsDelivered  *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	TransformRejects *prometheus.CounterVec
	PublishDuration  *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec

	// Subscription metrics
	SubscriptionsActive  *prometheus.GaugeVec
	SubscriptionRequests *prometheus.CounterVec

	// Stream connection metrics
	StreamConnected  prometheus.Gauge
	StreamReconnects prometheus.Counter
	StreamClients    prometheus.Gauge

	// Health metrics
	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tutorstream",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Total number of raw broker events received",
			},
			[]string{"component", "type"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tutorstream",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of events published to the router",
			},
			[]string{"component", "topic"},
		),

		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tutorstream",
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Total number of events delivered to listeners",
			},
			[]string{"component", "topic"},
		),

		EventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tutorstream",
				Subsystem: "events",
				Name:      "rejected_total",
				Help:      "Total number of events rejected at publish time",
			},
			[]string{"component", "reason"},
		),

		TransformRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tutorstream",
				Subsystem: "bridge",
				Name:      "rejects_total",
				Help:      "Total number of inbound broker messages the bridge dropped",
			},
			[]string{"component", "reason"},
		),

		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tutorstream",
				Subsystem: "events",
				Name:      "publish_duration_seconds",
				Help:      "Fan-out duration of a single publish cycle in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tutorstream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by class",
			},
			[]string{"component", "class"},
		),

		SubscriptionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tutorstream",
				Subsystem: "subscriptions",
				Name:      "active",
				Help:      "Number of currently active subscriptions",
			},
			[]string{"component"},
		),

		SubscriptionRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tutorstream",
				Subsystem: "subscriptions",
				Name:      "requests_total",
				Help:      "Total number of subscription API requests",
			},
			[]string{"component", "operation", "status"},
		),

		StreamConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tutorstream",
				Subsystem: "stream",
				Name:      "connected",
				Help:      "Upstream stream connection status (0=disconnected, 1=connected)",
			},
		),

		StreamReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tutorstream",
				Subsystem: "stream",
				Name:      "reconnects_total",
				Help:      "Total number of stream reconnection attempts",
			},
		),

		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tutorstream",
				Subsystem: "stream",
				Name:      "clients",
				Help:      "Number of currently connected SSE/WebSocket clients",
			},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tutorstream",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordEventReceived increments the received event counter
func (c *Metrics) RecordEventReceived(component, eventType string) {
	c.EventsReceived.WithLabelValues(component, eventType).Inc()
}

// RecordEventPublished increments the published event counter
func (c *Metrics) RecordEventPublished(component, topic string) {
	c.EventsPublished.WithLabelValues(component, topic).Inc()
}

// RecordEventDelivered increments the delivered event counter
func (c *Metrics) RecordEventDelivered(component, topic string) {
	c.EventsDelivered.WithLabelValues(component, topic).Inc()
}

// RecordEventRejected increments the rejected event counter
func (c *Metrics) RecordEventRejected(component, reason string) {
	c.EventsRejected.WithLabelValues(component, reason).Inc()
}

// RecordTransformReject increments the bridge drop counter
func (c *Metrics) RecordTransformReject(component, reason string) {
	c.TransformRejects.WithLabelValues(component, reason).Inc()
}

// RecordPublishDuration records the fan-out time of one publish cycle
func (c *Metrics) RecordPublishDuration(component string, duration time.Duration) {
	c.PublishDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordError increments the error counter for an error class
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordSubscriptionsActive updates the active subscription gauge
func (c *Metrics) RecordSubscriptionsActive(component string, count int) {
	c.SubscriptionsActive.WithLabelValues(component).Set(float64(count))
}

// RecordSubscriptionRequest increments the subscription request counter
func (c *Metrics) RecordSubscriptionRequest(component, operation, status string) {
	c.SubscriptionRequests.WithLabelValues(component, operation, status).Inc()
}

// RecordStreamConnected updates the stream connection gauge
func (c *Metrics) RecordStreamConnected(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.StreamConnected.Set(value)
}

// RecordStreamReconnect increments the reconnect counter
func (c *Metrics) RecordStreamReconnect() {
	c.StreamReconnects.Inc()
}

// RecordStreamClients updates the connected client gauge
func (c *Metrics) RecordStreamClients(count int) {
	c.StreamClients.Set(float64(count))
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}
