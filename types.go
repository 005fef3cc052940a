package otpgate

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/otpgate/internal/audit"
)

// Attempt purposes. The purpose travels with the challenge and comes back
// in [VerifyResult] so the caller knows whether to create or look up the
// account.
const (
	PurposeSignup = "signup"
	PurposeLogin  = "login"
)

// ChallengeHandle is what a client may learn about an issued challenge:
// which attempt it belongs to and when it stops being verifiable. It never
// carries the code.
type ChallengeHandle struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenPair is the bearer credential pair handed to a verified client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// VerifyResult is returned by a successful [Engine.Verify]. Identity is the
// destination the code was delivered to.
type VerifyResult struct {
	SessionID string
	Identity  string
	Name      string
	Purpose   string
	Tokens    TokenPair
}

// PendingAttempt is the advisory countdown state of an attempt. The
// authoritative expiry check happens in Verify.
type PendingAttempt struct {
	SessionID   string        `json:"session_id"`
	Destination string        `json:"destination"`
	Purpose     string        `json:"purpose"`
	ExpiresAt   time.Time     `json:"expires_at"`
	ExpiresIn   time.Duration `json:"expires_in"`
	ResendAt    time.Time     `json:"resend_at"`
	ResendIn    time.Duration `json:"resend_in"`
	Attempts    int           `json:"attempts"`
	Locked      bool          `json:"locked"`
}

// Claims is the validated view of an access token.
type Claims struct {
	Identity  string
	SessionID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Notifier delivers a code to a destination out of band. A non-nil error
// means the code did not reach the user.
type Notifier interface {
	SendOTP(ctx context.Context, destination, code string) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, destination, code string) error

// SendOTP calls f.
func (f NotifierFunc) SendOTP(ctx context.Context, destination, code string) error {
	return f(ctx, destination, code)
}

// AuditEvent is the structured record emitted for every lifecycle operation.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per audit event.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
