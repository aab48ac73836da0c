package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/brightpath/tutorstream/errors"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	requestIDKey contextKey = "request_id"
)

// getOrGenerateRequestID extracts the request ID from headers or generates a
// new one for tracing across the gateway and the broker.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// wrap applies the outer middleware: request ID, security headers, CORS,
// and request counting.
func (g *Gateway) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		if g.config.Security.CORS.Enabled {
			g.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		g.requestsTotal.Add(1)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth enforces bearer authentication when configured. The token is
// opaque: issuance and verification live outside this service, so presence
// and shape are what the gateway checks.
func (g *Gateway) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := bearerToken(r)

		if g.config.Security.Auth.Required && principal == "" {
			g.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next(w, r.WithContext(ctx))
	}
}

// bearerToken extracts the token from a "Bearer <token>" Authorization
// header. Any other shape yields empty.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// principalFrom returns the authenticated principal stored by requireAuth.
func principalFrom(ctx context.Context) string {
	principal, _ := ctx.Value(principalKey).(string)
	return principal
}

// applyCORS applies CORS headers for allowed origins.
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.Security.CORS.Origins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errors.IsRateLimited(err):
		return http.StatusTooManyRequests
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe message for external clients. Raw error
// chains may contain decoder internals or field names from the request
// payload, so only classification-derived phrasing goes out.
func sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case errors.IsUnauthorized(err):
		return "access denied"
	case errors.IsRateLimited(err):
		if stderrors.Is(err, errors.ErrSubscriptionLimit) {
			return "subscription limit reached"
		}
		return "rate limit exceeded"
	case errors.IsInvalid(err):
		switch {
		case stderrors.Is(err, errors.ErrInvalidCharset):
			return "identifier contains disallowed characters"
		case stderrors.Is(err, errors.ErrPayloadTooBig):
			return "request payload too large"
		case stderrors.Is(err, errors.ErrMissingField):
			return "missing required field"
		case stderrors.Is(err, errors.ErrSubscriptionNotFnd):
			return "subscription not found"
		default:
			return "invalid request"
		}
	case errors.IsTransient(err):
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

// writeError writes the structured error body used by every endpoint.
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	g.requestsFailed.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	body := map[string]any{
		"error":  message,
		"status": statusCode,
	}
	data, _ := json.Marshal(body)
	w.Write(data)
}

// writeJSON writes a JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}
