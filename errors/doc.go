// Package errors provides the error classification framework used across
// tutorstream.
//
// Errors are grouped into five classes that drive handling policy:
//
//   - invalid: malformed subscription or event shape, bad charset, oversized
//     payload. Resolved at the boundary, surfaced as HTTP 400, never fatal.
//   - unauthorized: missing or invalid bearer token. Surfaced as HTTP 401.
//   - rate_limited: subscription caps or request bursts. Surfaced as HTTP 429,
//     retryable by the caller after backoff.
//   - transient: stream and broker transport failures. Recovered locally via
//     reconnect logic; never crashes the process.
//   - fatal: unrecoverable conditions such as invalid configuration or
//     exhausted reconnect attempts, surfaced for operator intervention.
//
// Components wrap errors with WrapInvalid, WrapUnauthorized, WrapRateLimited,
// WrapTransient, or WrapFatal, producing "component.method: action failed"
// chains that remain inspectable with errors.Is and errors.As. The gateway is
// the only place classes are mapped to HTTP status codes.
package errors
