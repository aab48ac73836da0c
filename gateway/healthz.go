package gateway

import (
	"net/http"

	"github.com/brightpath/tutorstream/health"
)

// handleHealth serves GET /healthz: an aggregate of router, stream, cache,
// and registry health. Degraded still answers 200 so orchestrators do not
// recycle a pod that is merely quiet; only unhealthy returns 503.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.monitor.Update("router", health.FromRouter("router", g.router.GetConnectionHealth()))

	if g.stream != nil {
		g.monitor.Update("stream", health.FromStream("stream", g.stream.State()))
	}

	g.monitor.Update("registry", health.NewHealthy("registry", "subscriptions tracked").
		WithMetrics(&health.Metrics{Subscriptions: g.registry.Count()}))

	if g.cache != nil {
		g.monitor.Update("cache", health.NewHealthy("cache", "cache operational"))
	}

	aggregate := g.monitor.Aggregate("tutorstream")

	status := http.StatusOK
	if aggregate.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	g.writeJSON(w, status, aggregate)
}
