// Package tutorstream is the real-time event distribution core of the
// BrightPath tutoring platform.
//
// The platform's backend publishes learning events (mastery updates, feedback,
// session milestones) onto a message broker. This module bridges those raw
// broker messages into a canonical event shape, routes them through an
// in-process hub with per-subscriber filtering and student-scope isolation,
// and delivers them to browser clients over long-lived SSE or WebSocket
// streams. A TTL cache with stale-while-revalidate semantics avoids
// recomputing derived "skill" results.
//
// # Architecture
//
// Data flows leaf-first through five cooperating components:
//
//	broker -> bridge (validate/transform)
//	       -> router (fan-out, filter, bounded buffer)
//	       -> gateway (SSE/WebSocket delivery)
//
//	client -> gateway /subscribe -> registry (topics, filters, caps)
//	client -> connection (SSE consumer with reconnect state machine)
//
// Supporting packages:
//
//   - errors: classified error framework (validation, auth, rate limit,
//     transient, fatal) with boundary-only HTTP mapping
//   - cache: skill result cache with TTL and staleness semantics
//   - health: component health monitoring with message sanitization
//   - metric: Prometheus platform metrics
//   - service: explicit dependency-injected Core with Start/Stop/Reset
//
// # Guarantees
//
// Delivery is at-most-once, best-effort: events published while a client is
// disconnected are lost. Within one connection, events reach a given listener
// in wire order; priority affects filtering, never scheduling. A subscription
// scoped to a student only ever observes that student's events plus unscoped
// system broadcasts.
package tutorstream
