// Package stores provides the Redis-backed challenge store for OTP login and
// signup attempts.
//
// # Design
//
// Each attempt owns two hashes: the active challenge (code hash, timestamps,
// failed-attempt counter) and the attempt record (destination, display name,
// purpose, last issue time). Every mutation that reads and writes a challenge
// is a single Lua script, so issue, resend and verify against one attempt are
// serialised by Redis while different attempts never contend.
//
// Expiry is logical: the stored expiry timestamp is compared against the
// caller's clock on every read. The Redis TTL only bounds retention.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for challenge
// records. It does NOT generate codes, deliver them, enforce rate limits,
// or make authentication decisions; those belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import otpgate or any sibling internal package.
//   - Store or log plaintext codes.
//   - Use non-constant-time comparisons for secret matching.
package stores
