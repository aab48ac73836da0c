package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/brightpath/tutorstream/event"
	"github.com/brightpath/tutorstream/metric"
	"github.com/brightpath/tutorstream/router"
)

const (
	// hubRingSize is the number of recent frames kept for Last-Event-ID
	// replay on reconnection.
	hubRingSize = 256

	// keepaliveInterval is how often comment frames are sent to hold idle
	// connections open through proxies.
	keepaliveInterval = 15 * time.Second

	// clientChanSize buffers per-client delivery; a full buffer means the
	// client is too slow and frames are dropped rather than blocking the
	// publisher.
	clientChanSize = 64
)

// streamFrame is one wire frame stored in the replay ring and sent to
// connected clients.
type streamFrame struct {
	Seq   uint64
	Topic string
	Kind  string
	Data  []byte
}

// streamClient is a single connected SSE or WebSocket consumer.
type streamClient struct {
	topics map[string]struct{} // empty = all topics
	ch     chan *streamFrame
}

func (c *streamClient) matches(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

// streamHub fans router events out to browser clients. It listens on the
// router like any other subscriber and keeps its own replay ring keyed by a
// monotonic sequence, which is what Last-Event-ID refers to on the wire.
type streamHub struct {
	logger  *slog.Logger
	router  *router.Router
	metrics *metric.Metrics // optional

	nextSeq atomic.Uint64
	token   router.Token

	mu      sync.RWMutex
	clients map[*streamClient]struct{}

	ringMu  sync.RWMutex
	ring    [hubRingSize]streamFrame
	ringPos int
	ringLen int
}

func newStreamHub(logger *slog.Logger, rt *router.Router, metrics *metric.Metrics) *streamHub {
	return &streamHub{
		logger:  logger.With("component", "gateway.stream"),
		router:  rt,
		metrics: metrics,
		clients: make(map[*streamClient]struct{}),
	}
}

// start registers the hub as a router listener.
func (h *streamHub) start() {
	h.token = h.router.Subscribe(router.SubscribeOptions{}, h.broadcast)
}

// stop deregisters from the router and disconnects all clients.
func (h *streamHub) stop() {
	h.router.Unsubscribe(h.token)

	h.mu.Lock()
	for c := range h.clients {
		close(c.ch)
	}
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()
}

// broadcast encodes one event and fans it out. Slow clients are skipped,
// never waited on.
func (h *streamHub) broadcast(ev *event.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to encode event for streaming",
			"event_id", ev.ID, "error", err)
		return
	}

	frame := &streamFrame{
		Seq:   h.nextSeq.Add(1),
		Topic: ev.Topic,
		Kind:  ev.Kind.String(),
		Data:  payload,
	}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *frame
	h.ringPos = (h.ringPos + 1) % hubRingSize
	if h.ringLen < hubRingSize {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(frame.Topic) {
			continue
		}
		select {
		case c.ch <- frame:
		default:
			// Slow client: drop the frame so the publisher never blocks.
		}
	}
}

// subscribe registers a client. Call unsubscribe when the connection ends.
func (h *streamHub) subscribe(topics []string) *streamClient {
	c := &streamClient{
		ch: make(chan *streamFrame, clientChanSize),
	}
	if len(topics) > 0 {
		c.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			c.topics[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordStreamClients(count)
	}
	return c
}

func (h *streamHub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordStreamClients(count)
	}
}

// framesSince returns ring frames with Seq > lastSeq, oldest first.
func (h *streamHub) framesSince(lastSeq uint64) []*streamFrame {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	if h.ringLen == 0 {
		return nil
	}

	var result []*streamFrame
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += hubRingSize
	}
	for i := 0; i < h.ringLen; i++ {
		idx := (start + i) % hubRingSize
		frame := h.ring[idx]
		if frame.Seq > lastSeq {
			result = append(result, &frame)
		}
	}
	return result
}

// parseTopicsParam splits the comma-separated topics query parameter.
func parseTopicsParam(r *http.Request) []string {
	var topics []string
	if q := r.URL.Query().Get("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				topics = append(topics, t)
			}
		}
	}
	return topics
}

// handleEventStream serves GET /events/stream (SSE).
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := g.hub.subscribe(parseTopicsParam(r))
	defer g.hub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Replay frames missed since the client's last seen sequence.
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if lastSeq, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil {
			for _, frame := range g.hub.framesSince(lastSeq) {
				if client.matches(frame.Topic) {
					writeSSEFrame(w, frame)
				}
			}
			flusher.Flush()
		}
	}

	ctx := r.Context()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, open := <-client.ch:
			if !open {
				return
			}
			writeSSEFrame(w, frame)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleRecentEvents serves GET /events/recent: the router's buffered
// events, optionally filtered by topic or priority.
func (g *Gateway) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	switch {
	case r.URL.Query().Get("topic") != "":
		events = g.router.EventsByTopic(r.URL.Query().Get("topic"))
	case r.URL.Query().Get("priority") != "":
		events = g.router.EventsByPriority(event.ParsePriority(r.URL.Query().Get("priority")))
	default:
		events = g.router.Events()
	}
	if events == nil {
		events = []*event.Event{}
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// writeSSEFrame writes one frame in SSE wire format.
func writeSSEFrame(w http.ResponseWriter, frame *streamFrame) {
	fmt.Fprintf(w, "id:%d\n", frame.Seq)
	fmt.Fprintf(w, "event:%s\n", frame.Kind)
	fmt.Fprintf(w, "data:%s\n\n", frame.Data)
}
