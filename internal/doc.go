// Package internal contains helpers that are private to otpgate: attempt and
// session identifiers, one-time code generation, and refresh token codecs.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink)
//   - flows: pure-function orchestrators for issue, resend, verify, refresh and logout
//   - rate: Redis fixed-window throttles for issuance and refresh
//   - stores: Redis challenge store with per-attempt atomic scripts
//
// # What this package must NOT do
//
//   - Export types that appear in the public otpgate API.
//   - Return or log plaintext codes outside the issuing flow.
package internal
