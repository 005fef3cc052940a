package otpgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/otpgate/internal"
	internalflows "github.com/MrEthical07/otpgate/internal/flows"
	"github.com/MrEthical07/otpgate/internal/rate"
	"github.com/MrEthical07/otpgate/internal/stores"
	"go.uber.org/zap"
)

const maxNameLength = 128

// BeginSignup opens a signup attempt for name at email and sends the first
// code. The returned handle's SessionID identifies the attempt in Verify,
// Resend and Pending.
func (e *Engine) BeginSignup(ctx context.Context, name, email string) (ChallengeHandle, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return ChallengeHandle{}, newValidationError("name", "name is required")
	}
	return e.begin(ctx, name, email, PurposeSignup)
}

// BeginLogin opens a login attempt for email and sends the first code.
// Credential checks, if any, happen before this call.
func (e *Engine) BeginLogin(ctx context.Context, email string) (ChallengeHandle, error) {
	return e.begin(ctx, "", email, PurposeLogin)
}

func (e *Engine) begin(ctx context.Context, name, email, purpose string) (ChallengeHandle, error) {
	if !e.ready() {
		return ChallengeHandle{}, ErrEngineNotReady
	}
	destination := normalizeDestination(email)
	if err := ValidateDestination(destination); err != nil {
		return ChallengeHandle{}, err
	}

	sessionID, err := internal.NewAttemptID()
	if err != nil {
		return ChallengeHandle{}, fmt.Errorf("generate attempt id: %w", err)
	}

	return e.issue(ctx, internalflows.IssueRequest{
		SessionID:   sessionID,
		Destination: destination,
		Name:        name,
		Purpose:     purpose,
		IP:          clientIPFromContext(ctx),
	})
}

// Issue stores a fresh code for sessionID, superseding any earlier one, and
// delivers it to destination. When delivery fails the challenge stays
// stored and a *NotifyError carrying its handle is returned.
func (e *Engine) Issue(ctx context.Context, sessionID, destination string) (ChallengeHandle, error) {
	if !e.ready() {
		return ChallengeHandle{}, ErrEngineNotReady
	}
	if err := validateSessionID(sessionID); err != nil {
		return ChallengeHandle{}, err
	}
	destination = normalizeDestination(destination)
	if err := ValidateDestination(destination); err != nil {
		return ChallengeHandle{}, err
	}

	return e.issue(ctx, internalflows.IssueRequest{
		SessionID:   sessionID,
		Destination: destination,
		IP:          clientIPFromContext(ctx),
	})
}

func (e *Engine) issue(ctx context.Context, req internalflows.IssueRequest) (ChallengeHandle, error) {
	res := e.flows.Issue(ctx, req)
	handle := ChallengeHandle{SessionID: res.SessionID, ExpiresAt: res.ExpiresAt}

	err := e.mapOTPFailure(ctx, res)
	switch {
	case err == nil:
		e.metricInc(MetricOTPIssued)
	case res.Failure == internalflows.OTPFailureNotify:
		e.metricInc(MetricOTPNotifyFailure)
	default:
		e.metricInc(MetricOTPIssueFailure)
	}

	e.emitAudit(ctx, auditEventOTPIssue, err == nil, req.Destination, req.SessionID, req.Purpose, err, nil)
	if err != nil && res.Failure != internalflows.OTPFailureNotify {
		return ChallengeHandle{}, err
	}
	return handle, err
}

// Resend replaces the attempt's challenge with a new code sent to the same
// destination. It fails with a *CooldownError until the cooldown since the
// previous issue has elapsed.
func (e *Engine) Resend(ctx context.Context, sessionID string) (ChallengeHandle, error) {
	if !e.ready() {
		return ChallengeHandle{}, ErrEngineNotReady
	}
	if err := validateSessionID(sessionID); err != nil {
		return ChallengeHandle{}, err
	}

	res := e.flows.Resend(ctx, sessionID)
	handle := ChallengeHandle{SessionID: sessionID, ExpiresAt: res.ExpiresAt}

	err := e.mapOTPFailure(ctx, res)
	switch {
	case err == nil:
		e.metricInc(MetricOTPResent)
	case res.Failure == internalflows.OTPFailureCooldown:
		e.metricInc(MetricOTPResendCooldown)
	case res.Failure == internalflows.OTPFailureNotify:
		e.metricInc(MetricOTPNotifyFailure)
	}

	e.emitAudit(ctx, auditEventOTPResend, err == nil, res.Destination, sessionID, res.Purpose, err, nil)
	if err != nil && res.Failure != internalflows.OTPFailureNotify {
		return ChallengeHandle{}, err
	}
	return handle, err
}

// Verify checks code against the attempt's active challenge. On success the
// challenge is consumed and a token session is opened for the destination.
//
// Failures are one of ErrNoActiveChallenge, ErrExpired, ErrMismatch or
// ErrLockedOut. A malformed code is rejected with a *ValidationError without
// counting as an attempt.
func (e *Engine) Verify(ctx context.Context, sessionID, code string) (VerifyResult, error) {
	if !e.ready() {
		return VerifyResult{}, ErrEngineNotReady
	}
	if err := validateSessionID(sessionID); err != nil {
		return VerifyResult{}, err
	}
	if err := ValidateCode(code); err != nil {
		return VerifyResult{}, err
	}

	start := time.Now()
	defer e.metricObserveSince(MetricVerifyLatency, start)

	res := e.flows.Verify(ctx, sessionID, code)
	if err := e.mapOTPFailure(ctx, res); err != nil {
		switch res.Failure {
		case internalflows.OTPFailureMismatch:
			e.metricInc(MetricOTPVerifyMismatch)
		case internalflows.OTPFailureExpired:
			e.metricInc(MetricOTPVerifyExpired)
		case internalflows.OTPFailureNoChallenge:
			e.metricInc(MetricOTPVerifyNoChallenge)
		case internalflows.OTPFailureLocked:
			e.metricInc(MetricOTPLockedOut)
		}
		e.emitAudit(ctx, auditEventOTPVerify, false, "", sessionID, "", err, func() map[string]string {
			return map[string]string{"attempts": fmt.Sprint(res.Attempts)}
		})
		return VerifyResult{}, err
	}

	e.metricInc(MetricOTPVerifySuccess)
	e.emitAudit(ctx, auditEventOTPVerify, true, res.Destination, sessionID, res.Purpose, nil, nil)

	tokens, err := e.IssueTokens(ctx, res.Destination)
	if err != nil {
		e.warn(ctx, "token issue after verification failed",
			zap.String("destination", MaskDestination(res.Destination)),
			zap.Error(err),
		)
		return VerifyResult{}, err
	}

	return VerifyResult{
		SessionID: sessionID,
		Identity:  res.Destination,
		Name:      res.Name,
		Purpose:   res.Purpose,
		Tokens:    tokens,
	}, nil
}

// Pending reports the countdown state of an attempt for display. The
// values are advisory; Verify and Resend decide against the store.
func (e *Engine) Pending(ctx context.Context, sessionID string) (PendingAttempt, error) {
	if !e.ready() {
		return PendingAttempt{}, ErrEngineNotReady
	}
	if err := validateSessionID(sessionID); err != nil {
		return PendingAttempt{}, err
	}

	attempt, err := e.challengeStore.GetAttempt(ctx, sessionID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return PendingAttempt{}, ErrNoActiveChallenge
		}
		return PendingAttempt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := e.now()
	resendAt := attempt.IssuedAt.Add(e.config.OTP.ResendCooldown)
	out := PendingAttempt{
		SessionID:   sessionID,
		Destination: MaskDestination(attempt.Destination),
		Purpose:     attempt.Purpose,
		ExpiresAt:   attempt.ChallengeExpiresAt,
		ResendAt:    resendAt,
		ResendIn:    positive(resendAt.Sub(now)),
		Attempts:    attempt.Attempts,
		Locked:      attempt.Attempts > e.config.OTP.MaxAttempts,
	}
	if !attempt.ChallengeExpiresAt.IsZero() {
		out.ExpiresIn = positive(attempt.ChallengeExpiresAt.Sub(now))
	}
	return out, nil
}

// Cancel abandons an attempt. Its challenge can no longer be verified or
// resent. Cancelling an unknown attempt is not an error.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if err := e.challengeStore.Invalidate(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (e *Engine) mapOTPFailure(ctx context.Context, res internalflows.OTPResult) error {
	switch res.Failure {
	case internalflows.OTPFailureNone:
		return nil
	case internalflows.OTPFailureRateLimited:
		if errors.Is(res.Err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "otp_issue", res.Destination)
			return ErrRateLimited
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
	case internalflows.OTPFailureGenerate:
		return fmt.Errorf("generate code: %w", res.Err)
	case internalflows.OTPFailureStore:
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
	case internalflows.OTPFailureNotify:
		e.warn(ctx, "otp delivery failed",
			zap.String("session_id", res.SessionID),
			zap.String("destination", MaskDestination(res.Destination)),
			zap.Error(res.Err),
		)
		return &NotifyError{
			Handle: ChallengeHandle{SessionID: res.SessionID, ExpiresAt: res.ExpiresAt},
			Err:    res.Err,
		}
	case internalflows.OTPFailureNoChallenge:
		return ErrNoActiveChallenge
	case internalflows.OTPFailureExpired:
		return ErrExpired
	case internalflows.OTPFailureMismatch:
		return ErrMismatch
	case internalflows.OTPFailureLocked:
		return ErrLockedOut
	case internalflows.OTPFailureCooldown:
		return &CooldownError{Remaining: res.RetryAfter}
	default:
		return fmt.Errorf("otp flow failure %d: %v", res.Failure, res.Err)
	}
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
