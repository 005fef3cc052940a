// Package middleware provides gin handlers that sit in front of the
// otpgate HTTP surface.
//
// # Handlers
//
//   - [Guard] admits requests with a valid Bearer access token and stores
//     the validated claims on the gin and request contexts.
//   - [RequestLogger] assigns a request id and logs each request with zap.
//   - [Recovery] converts panics into a JSON 500.
//   - [CORS] and [DeliveryCORS] answer browser preflights.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; every decision is delegated to
// Engine.Validate.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Log tokens or codes.
package middleware
