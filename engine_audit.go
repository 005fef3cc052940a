package otpgate

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	auditEventOTPIssue         = "otp_issue"
	auditEventOTPResend        = "otp_resend"
	auditEventOTPVerify        = "otp_verify"
	auditEventTokenIssue       = "token_issue"
	auditEventTokenRefresh     = "token_refresh"
	auditEventRefreshReuse     = "refresh_reuse_detected"
	auditEventLogoutSession    = "logout_session"
	auditEventLogoutAll        = "logout_all"
	auditEventRateLimitTrigger = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label written into audit events.
type AuditErrorCode string

const (
	auditErrValidation      AuditErrorCode = "validation"
	auditErrNotify          AuditErrorCode = "notify_failed"
	auditErrNoChallenge     AuditErrorCode = "no_active_challenge"
	auditErrExpired         AuditErrorCode = "expired"
	auditErrMismatch        AuditErrorCode = "mismatch"
	auditErrLockedOut       AuditErrorCode = "locked_out"
	auditErrCooldown        AuditErrorCode = "cooldown_active"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrRefreshReuse    AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrSessionCreation AuditErrorCode = "session_creation_failed"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identity string,
	sessionID string,
	purpose string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Identity:  MaskDestination(identity),
		SessionID: sessionID,
		Purpose:   purpose,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, identity string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTrigger, false, identity, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrNotify):
		return auditErrNotify
	case errors.Is(err, ErrNoActiveChallenge):
		return auditErrNoChallenge
	case errors.Is(err, ErrExpired):
		return auditErrExpired
	case errors.Is(err, ErrMismatch):
		return auditErrMismatch
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, ErrCooldownActive):
		return auditErrCooldown
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenClockSkew):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreation
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// MaskDestination hides the local part of an email address except its
// first character: "alice@example.com" becomes "a***@example.com". Values
// without an "@" are masked whole.
func MaskDestination(destination string) string {
	if destination == "" {
		return ""
	}
	at := strings.LastIndexByte(destination, '@')
	if at <= 0 {
		return "***"
	}
	return destination[:1] + "***" + destination[at:]
}
