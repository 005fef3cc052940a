// Package rate provides the Redis-backed fixed-window counters that throttle
// code issuance and token refresh.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on first hit. Key prefixes:
//   - oi: issue per destination
//   - oii: issue per IP
//   - ar: refresh per session
//
// # What this package must NOT do
//
//   - Decide what happens after a limit is hit (callers map ErrRateLimited).
//   - Be imported outside the otpgate module.
package rate
