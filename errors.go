package otpgate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotify is returned (wrapped in *NotifyError) when the notifier
	// rejects a delivery. The challenge is still stored.
	ErrNotify = errors.New("otp delivery failed")
	// ErrNoActiveChallenge is returned when nothing is pending for the attempt.
	ErrNoActiveChallenge = errors.New("no active challenge")
	// ErrExpired is returned when the challenge is past its expiry.
	ErrExpired = errors.New("challenge expired")
	// ErrMismatch is returned when the submitted code is wrong.
	ErrMismatch = errors.New("code mismatch")
	// ErrLockedOut is returned once the failed-attempt budget is exhausted.
	ErrLockedOut = errors.New("challenge locked out")
	// ErrCooldownActive is returned (wrapped in *CooldownError) for an early resend.
	ErrCooldownActive = errors.New("resend cooldown active")
	// ErrRateLimited is returned when an issue or refresh budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRefreshToken covers unknown, expired, rotated and malformed refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	// ErrRefreshReuse is joined to ErrInvalidRefreshToken when a rotated token
	// is presented again. The session is revoked.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrUnauthorized is returned for access tokens that fail validation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenClockSkew is returned for access tokens issued in the future.
	ErrTokenClockSkew = errors.New("token issued too far in the future")
	// ErrSessionNotFound is returned when the token's session is gone.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCreationFailed is returned when a token session could not be stored.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError reports a malformed input rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Is lets errors.Is(err, ErrValidation) match any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotifyError reports a delivery failure. Handle identifies the challenge
// that was stored anyway, so the caller can offer a resend.
type NotifyError struct {
	Handle ChallengeHandle
	Err    error
}

func (e *NotifyError) Error() string {
	if e.Err == nil {
		return ErrNotify.Error()
	}
	return fmt.Sprintf("%s: %v", ErrNotify, e.Err)
}

func (e *NotifyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNotify}
	}
	return []error{ErrNotify, e.Err}
}

// CooldownError carries the time left before a resend is accepted.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrCooldownActive, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error {
	return ErrCooldownActive
}
