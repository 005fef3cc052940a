package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/otpgate/jwt"
	"github.com/MrEthical07/otpgate/session"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureUnauthorized
	ValidateFailureTokenClockSkew
	ValidateFailureSessionNotFound
	ValidateFailureSessionMismatch
	ValidateFailureUnavailable
)

// ValidateResult returns either claims/session success payload or classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
	Session *session.Session
}

type ValidateSessionStore interface {
	Get(ctx context.Context, sessionID string, now time.Time) (*session.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	ParseAccess      func(string) (*jwt.AccessClaims, error)
	Now              func() time.Time
	MaxClockSkew     time.Duration
	RequireSession   bool
	SessionStore     ValidateSessionStore
	RedisUnavailable error
	RedisNil         error
}

// RunValidate verifies the access token and, unless disabled, that its
// session is still live. Logging out or reusing a rotated refresh token
// therefore invalidates outstanding access tokens immediately.
func RunValidate(ctx context.Context, tokenStr string, deps ValidateDeps) ValidateResult {
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}
	}
	if deps.MaxClockSkew >= 0 && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(deps.Now().Add(deps.MaxClockSkew)) {
			return ValidateResult{Failure: ValidateFailureTokenClockSkew}
		}
	}

	if !deps.RequireSession {
		return ValidateResult{Claims: claims}
	}

	sess, err := deps.SessionStore.Get(ctx, claims.SID, deps.Now())
	if err != nil {
		if deps.RedisNil != nil && errors.Is(err, deps.RedisNil) {
			return ValidateResult{Failure: ValidateFailureSessionNotFound, Err: err}
		}
		if deps.RedisUnavailable != nil && errors.Is(err, deps.RedisUnavailable) {
			return ValidateResult{Failure: ValidateFailureUnavailable, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureSessionNotFound, Err: err}
	}

	if sess.Identity != claims.Identity() {
		_ = deps.SessionStore.Delete(ctx, claims.SID)
		return ValidateResult{Failure: ValidateFailureSessionMismatch}
	}

	return ValidateResult{
		Claims:  claims,
		Session: sess,
	}
}
