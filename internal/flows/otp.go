package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/otpgate/internal/stores"
)

// OTPFailureKind classifies challenge flow failures for root-level mapping.
type OTPFailureKind int

const (
	OTPFailureNone OTPFailureKind = iota
	OTPFailureRateLimited
	OTPFailureGenerate
	OTPFailureStore
	OTPFailureNotify
	OTPFailureNoChallenge
	OTPFailureExpired
	OTPFailureMismatch
	OTPFailureLocked
	OTPFailureCooldown
)

// IssueRequest describes a new challenge for a login or signup attempt.
type IssueRequest struct {
	SessionID   string
	Destination string
	Name        string
	Purpose     string
	IP          string
}

// OTPResult carries the outcome of issue, resend and verify. ExpiresAt is
// set whenever a challenge was stored, including after a notify failure.
type OTPResult struct {
	Failure     OTPFailureKind
	Err         error
	SessionID   string
	Destination string
	Name        string
	Purpose     string
	ExpiresAt   time.Time
	RetryAfter  time.Duration
	Attempts    int
}

// OTPChallengeStore is the persistence surface the challenge flows need.
type OTPChallengeStore interface {
	Put(ctx context.Context, challenge *stores.Challenge, name, purpose string, retention time.Duration) error
	Replace(ctx context.Context, sessionID string, codeHash [32]byte, now time.Time, ttl, cooldown, retention time.Duration) (*stores.Attempt, time.Duration, error)
	Consume(ctx context.Context, sessionID string, providedHash [32]byte, now time.Time, maxAttempts int) (stores.ConsumeResult, error)
}

// OTPDeps captures challenge flow dependencies.
type OTPDeps struct {
	CodeTTL          time.Duration
	ResendCooldown   time.Duration
	AttemptRetention time.Duration
	MaxAttempts      int

	Now      func() time.Time
	NewCode  func() (string, error)
	HashCode func(sessionID, code string) [32]byte

	CheckIssueLimiter func(ctx context.Context, destination, ip string) error
	Notify            func(ctx context.Context, destination, code string) error

	Store OTPChallengeStore
}

// RunIssue generates a code, stores it as the attempt's only challenge and
// hands it to the notifier. A notify failure leaves the challenge stored.
func RunIssue(ctx context.Context, req IssueRequest, deps OTPDeps) OTPResult {
	res := OTPResult{
		SessionID:   req.SessionID,
		Destination: req.Destination,
		Name:        req.Name,
		Purpose:     req.Purpose,
	}

	if deps.CheckIssueLimiter != nil {
		if err := deps.CheckIssueLimiter(ctx, req.Destination, req.IP); err != nil {
			res.Failure = OTPFailureRateLimited
			res.Err = err
			return res
		}
	}

	code, err := deps.NewCode()
	if err != nil {
		res.Failure = OTPFailureGenerate
		res.Err = err
		return res
	}

	now := deps.Now()
	challenge := &stores.Challenge{
		SessionID:   req.SessionID,
		Destination: req.Destination,
		CodeHash:    deps.HashCode(req.SessionID, code),
		CreatedAt:   now,
		ExpiresAt:   now.Add(deps.CodeTTL),
	}
	if err := deps.Store.Put(ctx, challenge, req.Name, req.Purpose, deps.AttemptRetention); err != nil {
		res.Failure = OTPFailureStore
		res.Err = err
		return res
	}
	res.ExpiresAt = challenge.ExpiresAt

	if err := deps.Notify(ctx, req.Destination, code); err != nil {
		res.Failure = OTPFailureNotify
		res.Err = err
	}
	return res
}

// RunResend replaces the attempt's challenge with a fresh code once the
// cooldown since the previous issue has elapsed, then delivers it to the
// original destination.
func RunResend(ctx context.Context, sessionID string, deps OTPDeps) OTPResult {
	res := OTPResult{SessionID: sessionID}

	code, err := deps.NewCode()
	if err != nil {
		res.Failure = OTPFailureGenerate
		res.Err = err
		return res
	}

	attempt, wait, err := deps.Store.Replace(
		ctx,
		sessionID,
		deps.HashCode(sessionID, code),
		deps.Now(),
		deps.CodeTTL,
		deps.ResendCooldown,
		deps.AttemptRetention,
	)
	if err != nil {
		res.Err = err
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			res.Failure = OTPFailureNoChallenge
		case errors.Is(err, stores.ErrResendCooldown):
			res.Failure = OTPFailureCooldown
			res.RetryAfter = wait
		default:
			res.Failure = OTPFailureStore
		}
		return res
	}

	res.Destination = attempt.Destination
	res.Name = attempt.Name
	res.Purpose = attempt.Purpose
	res.ExpiresAt = attempt.ChallengeExpiresAt

	if err := deps.Notify(ctx, attempt.Destination, code); err != nil {
		res.Failure = OTPFailureNotify
		res.Err = err
	}
	return res
}

// RunVerify checks code against the attempt's active challenge. Success
// consumes the challenge; nothing can verify against it again.
func RunVerify(ctx context.Context, sessionID, code string, deps OTPDeps) OTPResult {
	res := OTPResult{SessionID: sessionID}

	consumed, err := deps.Store.Consume(ctx, sessionID, deps.HashCode(sessionID, code), deps.Now(), deps.MaxAttempts)
	res.Attempts = consumed.Attempts
	if err != nil {
		res.Err = err
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			res.Failure = OTPFailureNoChallenge
		case errors.Is(err, stores.ErrChallengeExpired):
			res.Failure = OTPFailureExpired
		case errors.Is(err, stores.ErrChallengeMismatch):
			res.Failure = OTPFailureMismatch
		case errors.Is(err, stores.ErrChallengeLocked):
			res.Failure = OTPFailureLocked
		default:
			res.Failure = OTPFailureStore
		}
		return res
	}

	res.Destination = consumed.Challenge.Destination
	res.Name = consumed.Name
	res.Purpose = consumed.Purpose
	res.ExpiresAt = consumed.Challenge.ExpiresAt
	return res
}
