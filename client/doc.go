// Package client keeps a signed-in Go client's tokens fresh.
//
// A [TokenSlot] holds the current pair. A [Coordinator] runs protected
// calls with the slot's access token; when one comes back 401 it refreshes
// the pair once, sharing that refresh with every other call that failed
// meanwhile, and replays each call exactly once. If the server refuses
// the refresh token the slot is cleared and callers get
// [ErrSessionExpired]. [Transport] wires this into a plain http.Client.
package client
