package otpgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalflows "github.com/MrEthical07/otpgate/internal/flows"
	"github.com/MrEthical07/otpgate/internal/rate"
	"github.com/MrEthical07/otpgate/session"
	"go.uber.org/zap"
)

// IssueTokens opens a token session for a verified identity and returns
// its first token pair. Verify calls it; callers that verify identity by
// other means may call it directly.
func (e *Engine) IssueTokens(ctx context.Context, identity string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	identity = normalizeDestination(identity)
	if identity == "" {
		return TokenPair{}, newValidationError("identity", "identity is required")
	}

	res := e.flows.IssueTokens(ctx, identity)
	if res.Failure != internalflows.TokenFailureNone {
		err := fmt.Errorf("%w: %v", ErrSessionCreationFailed, res.Err)
		if errors.Is(res.Err, session.ErrRedisUnavailable) {
			err = fmt.Errorf("%w: %w", ErrSessionCreationFailed, ErrUnavailable)
		}
		e.emitAudit(ctx, auditEventTokenIssue, false, identity, res.SessionID, "", err, nil)
		return TokenPair{}, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventTokenIssue, true, identity, res.SessionID, "", nil, nil)

	return TokenPair{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. Both tokens rotate;
// the presented refresh token is never accepted again. Unknown, expired
// and rotated tokens fail with ErrInvalidRefreshToken. Presenting a rotated
// token revokes its session and additionally matches ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	if refreshToken == "" {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, ErrInvalidRefreshToken
	}

	res := e.flows.Refresh(ctx, refreshToken)
	if err := e.mapRefreshFailure(ctx, res); err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenRefresh, false, res.Identity, res.SessionID, "", err, nil)
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventTokenRefresh, true, res.Identity, res.SessionID, "", nil, nil)

	return TokenPair{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}, nil
}

func (e *Engine) mapRefreshFailure(ctx context.Context, res internalflows.RefreshResult) error {
	switch res.Failure {
	case internalflows.RefreshFailureNone:
		return nil
	case internalflows.RefreshFailureDecode, internalflows.RefreshFailureSessionNotFound:
		return ErrInvalidRefreshToken
	case internalflows.RefreshFailureRateLimited:
		if errors.Is(res.Err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitRateLimit(ctx, "token_refresh", "")
			return ErrRateLimited
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
	case internalflows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.warn(ctx, "rotated refresh token presented, session revoked", zap.String("session_id", res.SessionID))
		e.emitAudit(ctx, auditEventRefreshReuse, false, "", res.SessionID, "", ErrRefreshReuse, nil)
		return fmt.Errorf("%w: %w", ErrInvalidRefreshToken, ErrRefreshReuse)
	case internalflows.RefreshFailureRotate:
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
	default:
		return fmt.Errorf("refresh failure %d: %v", res.Failure, res.Err)
	}
}

// Validate verifies an access token and that its session is still open.
// Logging out or revoking a session therefore rejects its access tokens
// immediately, before they expire.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	defer e.metricObserveSince(MetricValidateLatency, start)

	res := e.flows.Validate(ctx, accessToken)
	switch res.Failure {
	case internalflows.ValidateFailureNone:
	case internalflows.ValidateFailureTokenClockSkew:
		e.metricInc(MetricValidateFailure)
		return nil, ErrTokenClockSkew
	case internalflows.ValidateFailureSessionNotFound, internalflows.ValidateFailureSessionMismatch:
		e.metricInc(MetricValidateFailure)
		return nil, ErrSessionNotFound
	case internalflows.ValidateFailureUnavailable:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
	default:
		e.metricInc(MetricValidateFailure)
		return nil, ErrUnauthorized
	}

	claims := &Claims{
		Identity:  res.Claims.Identity(),
		SessionID: res.Claims.SID,
		TokenID:   res.Claims.ID,
	}
	if res.Claims.IssuedAt != nil {
		claims.IssuedAt = res.Claims.IssuedAt.Time
	}
	if res.Claims.ExpiresAt != nil {
		claims.ExpiresAt = res.Claims.ExpiresAt.Time
	}
	return claims, nil
}

// Logout ends the session the refresh token belongs to. It is idempotent:
// logging out an unknown or already-ended session succeeds.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := e.flows.LogoutByRefreshToken(ctx, refreshToken)
	return e.finishLogout(ctx, res, ErrInvalidRefreshToken)
}

// LogoutAccess ends the session named by a still-valid access token.
func (e *Engine) LogoutAccess(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := e.flows.LogoutByAccessToken(ctx, accessToken)
	return e.finishLogout(ctx, res, ErrUnauthorized)
}

func (e *Engine) finishLogout(ctx context.Context, res internalflows.LogoutResult, decodeErr error) error {
	var err error
	switch {
	case res.Err == nil:
	case res.SessionID == "":
		err = decodeErr
	default:
		err = fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
	}

	if err == nil {
		e.metricInc(MetricLogout)
	}
	e.emitAudit(ctx, auditEventLogoutSession, err == nil, res.Identity, res.SessionID, "", err, nil)
	return err
}

// LogoutAll ends every session of identity.
func (e *Engine) LogoutAll(ctx context.Context, identity string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	identity = normalizeDestination(identity)
	if identity == "" {
		return newValidationError("identity", "identity is required")
	}

	if err := e.flows.LogoutAll(ctx, identity); err != nil {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		e.emitAudit(ctx, auditEventLogoutAll, false, identity, "", "", err, nil)
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, identity, "", "", nil, nil)
	return nil
}
