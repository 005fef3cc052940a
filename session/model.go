package session

// Session is the server-side record behind one refresh token. Only the
// SHA-256 of the current refresh secret is kept.
type Session struct {
	SessionID   string
	Identity    string
	RefreshHash [32]byte

	// Unix milliseconds.
	CreatedAt int64
	ExpiresAt int64
}
