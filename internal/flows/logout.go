package flows

import (
	"context"

	"github.com/MrEthical07/otpgate/jwt"
)

type LogoutSessionStore interface {
	Delete(ctx context.Context, sessionID string) error
	DeleteAllForIdentity(ctx context.Context, identity string) error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	ParseAccess        func(string) (*jwt.AccessClaims, error)
	DecodeRefreshToken func(string) (string, [32]byte, error)
	SessionStore       LogoutSessionStore
}

type LogoutResult struct {
	SessionID string
	Identity  string
	Err       error
}

// RunLogoutByRefreshToken ends the session the refresh token belongs to.
// The secret is not checked: holding any token of the session is enough to
// end it.
func RunLogoutByRefreshToken(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	sessionID, _, err := deps.DecodeRefreshToken(refreshToken)
	if err != nil {
		return LogoutResult{Err: err}
	}
	return LogoutResult{
		SessionID: sessionID,
		Err:       deps.SessionStore.Delete(ctx, sessionID),
	}
}

func RunLogoutByAccessToken(ctx context.Context, tokenStr string, deps LogoutDeps) LogoutResult {
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return LogoutResult{Err: err}
	}
	return LogoutResult{
		SessionID: claims.SID,
		Identity:  claims.Identity(),
		Err:       deps.SessionStore.Delete(ctx, claims.SID),
	}
}

func RunLogoutAll(ctx context.Context, identity string, deps LogoutDeps) error {
	return deps.SessionStore.DeleteAllForIdentity(ctx, identity)
}
