package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/otpgate/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureRateLimited
	RefreshFailureNextSecret
	RefreshFailureReuse
	RefreshFailureSessionNotFound
	RefreshFailureRotate
	RefreshFailureIssueAccess
	RefreshFailureEncode
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure          RefreshFailureKind
	Err              error
	SessionID        string
	Identity         string
	Session          *session.Session
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, sessionID string) error
}

type RefreshSessionStore interface {
	RotateRefreshHash(
		ctx context.Context,
		sessionID string,
		providedHash [32]byte,
		nextHash [32]byte,
		now time.Time,
		nextExpiry time.Time,
	) (*session.Session, error)
	TrackReplayAnomaly(ctx context.Context, sessionID string, ttl time.Duration) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	Now                  func() time.Time
	DecodeRefreshToken   func(string) (string, [32]byte, error)
	NewRefreshSecret     func() ([32]byte, error)
	HashRefreshSecret    func([32]byte) [32]byte
	EncodeRefreshToken   func(string, [32]byte) (string, error)
	IssueAccessToken     func(identity, sessionID string) (string, error)
	EnableReplayTracking bool
	Warn                 func(string, ...any)
	RateLimiter          RefreshRateLimiter
	SessionStore         RefreshSessionStore
	RefreshHashMismatch  error
	RedisNil             error
}

// RunRefresh rotates the refresh secret of the presented token's session and
// mints a new pair. The presented token is dead afterwards whatever the
// outcome.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	sessionID, providedSecret, err := deps.DecodeRefreshToken(refreshToken)
	if err != nil {
		return RefreshResult{
			Failure: RefreshFailureDecode,
			Err:     err,
		}
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, sessionID); err != nil {
			return RefreshResult{
				Failure:   RefreshFailureRateLimited,
				Err:       err,
				SessionID: sessionID,
			}
		}
	}

	nextSecret, err := deps.NewRefreshSecret()
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureNextSecret,
			Err:       err,
			SessionID: sessionID,
		}
	}

	now := deps.Now()
	sess, err := deps.SessionStore.RotateRefreshHash(
		ctx,
		sessionID,
		deps.HashRefreshSecret(providedSecret),
		deps.HashRefreshSecret(nextSecret),
		now,
		now.Add(deps.RefreshTTL),
	)
	if err != nil {
		switch {
		case deps.RefreshHashMismatch != nil && errors.Is(err, deps.RefreshHashMismatch):
			if deps.EnableReplayTracking {
				if trackErr := deps.SessionStore.TrackReplayAnomaly(ctx, sessionID, deps.RefreshTTL); trackErr != nil && deps.Warn != nil {
					deps.Warn("replay anomaly tracking failed", "session_id", sessionID, "error", trackErr)
				}
			}
			return RefreshResult{
				Failure:   RefreshFailureReuse,
				Err:       err,
				SessionID: sessionID,
			}
		case deps.RedisNil != nil && errors.Is(err, deps.RedisNil):
			return RefreshResult{
				Failure:   RefreshFailureSessionNotFound,
				Err:       err,
				SessionID: sessionID,
			}
		default:
			return RefreshResult{
				Failure:   RefreshFailureRotate,
				Err:       err,
				SessionID: sessionID,
			}
		}
	}

	access, err := deps.IssueAccessToken(sess.Identity, sess.SessionID)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureIssueAccess,
			Err:       err,
			SessionID: sess.SessionID,
			Identity:  sess.Identity,
			Session:   sess,
		}
	}

	refresh, err := deps.EncodeRefreshToken(sess.SessionID, nextSecret)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureEncode,
			Err:       err,
			SessionID: sess.SessionID,
			Identity:  sess.Identity,
			Session:   sess,
		}
	}

	return RefreshResult{
		Failure:          RefreshFailureNone,
		SessionID:        sess.SessionID,
		Identity:         sess.Identity,
		Session:          sess,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(deps.AccessTTL),
		RefreshExpiresAt: time.UnixMilli(sess.ExpiresAt),
	}
}
