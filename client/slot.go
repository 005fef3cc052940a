package client

import (
	"sync/atomic"

	"github.com/MrEthical07/otpgate"
)

// TokenSlot holds the client's current token pair. Every update replaces
// the whole pair, so readers never see an access token from one pair with
// the refresh token of another.
type TokenSlot struct {
	p atomic.Pointer[otpgate.TokenPair]
}

// NewTokenSlot returns a slot holding pair, or an empty slot for a zero
// pair.
func NewTokenSlot(pair otpgate.TokenPair) *TokenSlot {
	s := &TokenSlot{}
	if pair.AccessToken != "" || pair.RefreshToken != "" {
		s.Store(pair)
	}
	return s
}

// Load returns the current pair or nil when signed out.
func (s *TokenSlot) Load() *otpgate.TokenPair {
	return s.p.Load()
}

// Store replaces the current pair.
func (s *TokenSlot) Store(pair otpgate.TokenPair) {
	s.p.Store(&pair)
}

// Clear drops the current pair.
func (s *TokenSlot) Clear() {
	s.p.Store(nil)
}

// CompareAndSwap replaces old with next only if old is still the current
// pair. Pointers are compared, not contents.
func (s *TokenSlot) CompareAndSwap(old, next *otpgate.TokenPair) bool {
	return s.p.CompareAndSwap(old, next)
}
