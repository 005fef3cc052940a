package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIssueThrottle   bool
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxIssuePerWindow     int
	IssueWindow           time.Duration
	MaxRefreshPerWindow   int
	RefreshWindow         time.Duration
}

// Limiter enforces per-destination, per-IP and per-session budgets for
// code issuance and token refresh using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckIssue counts one code delivery against the destination and, when IP
// throttling is enabled, against the caller's IP.
func (l *Limiter) CheckIssue(ctx context.Context, destination, ip string) error {
	if l == nil || !l.config.EnableIssueThrottle {
		return nil
	}

	if err := l.consume(ctx, issueDestinationKey(destination), l.config.MaxIssuePerWindow, l.config.IssueWindow); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.consume(ctx, issueIPKey(ip), l.config.MaxIssuePerWindow, l.config.IssueWindow); err != nil {
			return err
		}
	}
	return nil
}

// CheckRefresh enforces the refresh limit by incrementing the counter and applying the window TTL.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if l == nil || !l.config.EnableRefreshThrottle {
		return nil
	}
	return l.consume(ctx, refreshKey(sessionID), l.config.MaxRefreshPerWindow, l.config.RefreshWindow)
}

func (l *Limiter) consume(ctx context.Context, key string, limit int, window time.Duration) error {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return err
	}
	if limit > 0 && count > int64(limit) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func issueDestinationKey(destination string) string {
	return "oi:" + destination
}

func issueIPKey(ip string) string {
	return "oii:" + ip
}

func refreshKey(sessionID string) string {
	return "ar:" + sessionID
}
