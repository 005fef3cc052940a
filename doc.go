// Package otpgate issues and verifies one-time email codes and manages the
// bearer-token session that a successful verification opens.
//
// A login or signup attempt is identified by an opaque session id. The
// engine stores exactly one active challenge per attempt: a SHA-256 hash of
// a six digit code bound to that attempt, with a fixed expiry. Issue and
// Resend supersede the previous challenge; Verify consumes it exactly once.
// Wrong guesses are counted and the challenge locks once the budget is
// spent. On success the engine mints a signed access token and an opaque,
// rotating refresh token whose hash lives in Redis.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build]. Operations on one attempt are serialised by Redis Lua
// scripts; different attempts never contend.
//
// # Architecture boundaries
//
// otpgate is the public surface. It exposes [Engine], [Builder], [Config]
// and value types ([ChallengeHandle], [TokenPair], [VerifyResult]). Flow
// orchestration, challenge storage, rate limiting and audit dispatch live
// under internal/ and are never exported. Code delivery is an injected
// [Notifier]; see the notify package for email senders.
//
// # What this package must NOT do
//
//   - Return, log or persist a plaintext code or refresh secret.
//   - Expose Redis clients or internal stores in its public API.
//   - Import httpapi, middleware or client (no import cycles).
package otpgate
