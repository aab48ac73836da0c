package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/registry"
)

// subscribeRequest is the POST /subscribe body.
type subscribeRequest struct {
	Topics     []string          `json:"topics"`
	StudentID  string            `json:"studentId,omitempty"`
	Filters    []registry.Filter `json:"filters,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	TTLSeconds int64             `json:"ttlSeconds,omitempty"`
}

// subscribeResponse is the POST /subscribe reply.
type subscribeResponse struct {
	SubscriptionID string   `json:"subscriptionId"`
	Topics         []string `json:"topics"`
	StudentID      string   `json:"studentId,omitempty"`
	Status         string   `json:"status"`
	ExpiresAt      string   `json:"expiresAt,omitempty"`
}

// handleSubscribe creates a subscription for the authenticated principal.
func (g *Gateway) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := g.readBody(w, r)
	if err != nil {
		return // response already written
	}

	var req subscribeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// Decoder details stay in the log; the client sees a fixed phrase.
		g.logger.Debug("unparseable subscription body",
			"request_id", r.Context().Value(requestIDKey),
			"error", err)
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := g.registry.Subscribe(r.Context(), registry.Request{
		Principal: principalFrom(r.Context()),
		OwnerID:   req.StudentID,
		Topics:    req.Topics,
		Filters:   req.Filters,
		Metadata:  req.Metadata,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		g.logger.Debug("subscription rejected",
			"request_id", r.Context().Value(requestIDKey),
			"error", err)
		g.writeError(w, mapErrorToHTTPStatus(err), sanitizeError(err))
		return
	}

	resp := subscribeResponse{
		SubscriptionID: sub.ID,
		Topics:         sub.Topics,
		StudentID:      sub.OwnerID,
		Status:         "active",
	}
	if !sub.ExpiresAt.IsZero() {
		resp.ExpiresAt = sub.ExpiresAt.UTC().Format(time.RFC3339)
	}
	g.writeJSON(w, http.StatusCreated, resp)
}

// handleListSubscriptions returns the caller's subscriptions, scoped by the
// studentId query parameter.
func (g *Gateway) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("studentId")
	if ownerID == "" {
		ownerID = principalFrom(r.Context())
	}
	if err := registry.ValidateOwnerID(ownerID); err != nil {
		g.writeError(w, mapErrorToHTTPStatus(err), sanitizeError(err))
		return
	}

	subs := g.registry.ListByOwner(ownerID)
	if subs == nil {
		subs = []registry.Subscription{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"studentId":     ownerID,
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// handleUnsubscribe removes a subscription by id.
func (g *Gateway) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		g.writeError(w, http.StatusBadRequest, "missing required field")
		return
	}

	if err := g.registry.Unsubscribe(id); err != nil {
		status := http.StatusBadRequest
		if errors.IsInvalid(err) {
			status = http.StatusNotFound
		}
		g.writeError(w, status, sanitizeError(err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"message":        "subscription removed",
		"subscriptionId": id,
		"status":         "removed",
	})
}

// readBody reads the request body under the configured size cap, writing the
// error response itself on failure.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := g.config.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, err
	}
	if int64(len(body)) > limit {
		g.writeError(w, http.StatusRequestEntityTooLarge, "request payload too large")
		return nil, errors.WrapInvalid(errors.ErrPayloadTooBig, "Gateway", "readBody", "limit body")
	}
	return body, nil
}
