package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/otpgate"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrRefresh is returned when a refresh did not complete in time. The
	// stored tokens are kept so a later call may try again. The server may
	// still have rotated before the deadline; the kept refresh token is
	// then already spent, the retry is treated as reuse and revokes the
	// session, and the caller sees ErrSessionExpired.
	ErrRefresh = errors.New("token refresh failed")
	// ErrSessionExpired is returned once the refresh token is refused or
	// missing. The stored tokens have been cleared and the user must sign
	// in again.
	ErrSessionExpired = errors.New("session expired")
	// ErrUnauthenticated is returned when a call still gets 401 after its
	// one replay with fresh tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// maxAttempts bounds each call to the original request plus one replay.
const maxAttempts = 2

// DefaultRefreshTimeout bounds a refresh when Config.RefreshTimeout is 0.
const DefaultRefreshTimeout = 5 * time.Second

// CallFunc performs one protected call with accessToken.
type CallFunc func(ctx context.Context, accessToken string) (*http.Response, error)

// Config tunes a Coordinator.
type Config struct {
	RefreshTimeout time.Duration
	Logger         *zap.Logger
}

// Coordinator replays calls that fail with 401 after a refresh that all
// concurrent failures share. At most one refresh is in flight per stored
// refresh token.
type Coordinator struct {
	slot      *TokenSlot
	refresher Refresher
	timeout   time.Duration
	logger    *zap.Logger
	group     singleflight.Group
}

// NewCoordinator builds a coordinator over slot.
func NewCoordinator(slot *TokenSlot, refresher Refresher, cfg Config) *Coordinator {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		slot:      slot,
		refresher: refresher,
		timeout:   cfg.RefreshTimeout,
		logger:    cfg.Logger,
	}
}

// Slot returns the token slot the coordinator reads and updates.
func (c *Coordinator) Slot() *TokenSlot {
	return c.slot
}

// Do runs call with the current access token. On 401 it refreshes once,
// unless another call already did, and replays call with the new token.
// A replay answered with 401 yields ErrUnauthenticated.
func (c *Coordinator) Do(ctx context.Context, call CallFunc) (*http.Response, error) {
	used := c.slot.Load()

	for attempt := 1; ; attempt++ {
		resp, err := call(ctx, accessToken(used))
		if err != nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}
		discard(resp)

		if attempt >= maxAttempts {
			return nil, ErrUnauthenticated
		}

		current := c.slot.Load()
		if current != nil && current != used && current.AccessToken != accessToken(used) {
			// Someone refreshed after our call started; replay with theirs.
			used = current
			continue
		}

		next, err := c.refresh(ctx, current)
		if err != nil {
			return nil, err
		}
		used = next
	}
}

// Refresh forces a refresh of the stored pair, sharing any refresh that
// is already in flight.
func (c *Coordinator) Refresh(ctx context.Context) (otpgate.TokenPair, error) {
	next, err := c.refresh(ctx, c.slot.Load())
	if err != nil {
		return otpgate.TokenPair{}, err
	}
	return *next, nil
}

func (c *Coordinator) refresh(ctx context.Context, current *otpgate.TokenPair) (*otpgate.TokenPair, error) {
	if current == nil || current.RefreshToken == "" {
		c.slot.Clear()
		return nil, ErrSessionExpired
	}

	ch := c.group.DoChan(current.RefreshToken, func() (any, error) {
		// A flight for this token may have finished between our Load and
		// DoChan. Presenting the rotated token again would revoke the
		// session server-side.
		if latest := c.slot.Load(); latest != current {
			if latest == nil {
				return nil, ErrSessionExpired
			}
			return latest, nil
		}

		// Detached from any one caller so a cancelled waiter does not fail
		// the others.
		rctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		pair, err := c.refresher.Refresh(rctx, current.RefreshToken)
		if err != nil {
			if errors.Is(rctx.Err(), context.DeadlineExceeded) {
				c.logger.Warn("token refresh timed out", zap.Duration("timeout", c.timeout))
				return nil, fmt.Errorf("%w: timed out after %s", ErrRefresh, c.timeout)
			}
			c.slot.CompareAndSwap(current, nil)
			c.logger.Info("token refresh refused, session cleared", zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}

		next := &pair
		if !c.slot.CompareAndSwap(current, next) {
			// Cleared or replaced while refreshing; the server has
			// already rotated, so this pair is the only live one.
			c.slot.Store(pair)
			next = c.slot.Load()
		}
		return next, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*otpgate.TokenPair), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func accessToken(p *otpgate.TokenPair) string {
	if p == nil {
		return ""
	}
	return p.AccessToken
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
