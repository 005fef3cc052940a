// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunIssue, RunVerify, RunRefresh, etc.) accepts a typed
// dependency struct and returns a result carrying a failure kind. The root
// package maps kinds onto its public errors. This keeps the Engine thin and
// lets every branch be tested against fakes.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the challenge store, session store, JWT
// manager, rate limiter and notifier. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import otpgate (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency interfaces.
package flows
