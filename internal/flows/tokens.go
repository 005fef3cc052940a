package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/otpgate/session"
)

// TokenFailureKind classifies token issuance failures for root-level mapping.
type TokenFailureKind int

const (
	TokenFailureNone TokenFailureKind = iota
	TokenFailureSessionID
	TokenFailureSecret
	TokenFailureIssueAccess
	TokenFailureEncode
	TokenFailureSave
)

// TokenResult carries a freshly minted token pair or failure metadata.
type TokenResult struct {
	Failure          TokenFailureKind
	Err              error
	SessionID        string
	Identity         string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type TokenSessionStore interface {
	Save(ctx context.Context, sess *session.Session) error
}

// TokenDeps captures session creation dependencies.
type TokenDeps struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Now                func() time.Time
	NewSessionID       func() (string, error)
	NewRefreshSecret   func() ([32]byte, error)
	HashRefreshSecret  func([32]byte) [32]byte
	EncodeRefreshToken func(string, [32]byte) (string, error)
	IssueAccessToken   func(identity, sessionID string) (string, error)

	SessionStore TokenSessionStore
}

// RunIssueTokens opens a new token session for a verified identity.
func RunIssueTokens(ctx context.Context, identity string, deps TokenDeps) TokenResult {
	res := TokenResult{Identity: identity}

	sessionID, err := deps.NewSessionID()
	if err != nil {
		res.Failure = TokenFailureSessionID
		res.Err = err
		return res
	}
	res.SessionID = sessionID

	secret, err := deps.NewRefreshSecret()
	if err != nil {
		res.Failure = TokenFailureSecret
		res.Err = err
		return res
	}

	access, err := deps.IssueAccessToken(identity, sessionID)
	if err != nil {
		res.Failure = TokenFailureIssueAccess
		res.Err = err
		return res
	}

	refresh, err := deps.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		res.Failure = TokenFailureEncode
		res.Err = err
		return res
	}

	now := deps.Now()
	sess := &session.Session{
		SessionID:   sessionID,
		Identity:    identity,
		RefreshHash: deps.HashRefreshSecret(secret),
		CreatedAt:   now.UnixMilli(),
		ExpiresAt:   now.Add(deps.RefreshTTL).UnixMilli(),
	}
	if err := deps.SessionStore.Save(ctx, sess); err != nil {
		res.Failure = TokenFailureSave
		res.Err = err
		return res
	}

	res.AccessToken = access
	res.RefreshToken = refresh
	res.AccessExpiresAt = now.Add(deps.AccessTTL)
	res.RefreshExpiresAt = time.UnixMilli(sess.ExpiresAt)
	return res
}
