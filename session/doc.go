// Package session provides Redis-backed persistence for token sessions.
//
// # Layout
//
// Each session is a Redis hash (identity, refresh hash, created, expires)
// whose key TTL matches the refresh-token lifetime, plus a per-identity set
// used for logout-everywhere. Refresh rotation is a Lua compare-and-swap on
// the refresh hash field.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It does NOT
// interpret JWT tokens or enforce authentication policy; those belong to the Engine.
//
// # What this package must NOT do
//
//   - Import otpgate or jwt (no upward imports).
//   - Store plaintext refresh secrets in [Session] fields.
package session
