package otpgate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/otpgate/internal/audit"
	internalflows "github.com/MrEthical07/otpgate/internal/flows"
	"github.com/MrEthical07/otpgate/internal/rate"
	"github.com/MrEthical07/otpgate/internal/stores"
	"github.com/MrEthical07/otpgate/jwt"
	"github.com/MrEthical07/otpgate/session"
	"go.uber.org/zap"
)

const maxSessionIDLength = 128

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	codePattern  = regexp.MustCompile(`^\d{6}$`)
)

// Engine runs the OTP challenge protocol and the token lifecycle. All
// methods are safe for concurrent use after [Builder.Build].
type Engine struct {
	config         Config
	logger         *zap.Logger
	now            func() time.Time
	notifier       Notifier
	challengeStore *stores.ChallengeStore
	sessionStore   *session.Store
	rateLimiter    *rate.Limiter
	audit          *internalaudit.Dispatcher
	metrics        *Metrics
	jwtManager     *jwt.Manager
	flows          internalflows.Service
}

// Config returns a copy of the engine configuration. Key material is not
// included.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	out := cloneConfig(e.config)
	out.JWT.PrivateKey = nil
	out.JWT.PublicKey = nil
	return out
}

// Close drains pending audit events. The Redis client is owned by the
// caller and is not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters. A disabled or nil engine
// returns empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks Redis reachability and returns the round trip.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	latency, err := e.sessionStore.Ping(ctx)
	if err != nil {
		return latency, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return latency, nil
}

// ActiveSessions returns the number of token sessions open for identity.
func (e *Engine) ActiveSessions(ctx context.Context, identity string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessionStore.ActiveSessionCount(ctx, normalizeDestination(identity))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserveSince(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) warn(ctx context.Context, msg string, fields ...zap.Field) {
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	e.logger.Warn(msg, fields...)
}

// ValidateDestination checks the address shape accepted for code delivery.
func ValidateDestination(destination string) error {
	if !emailPattern.MatchString(destination) {
		return newValidationError("email", "invalid email address")
	}
	return nil
}

// ValidateCode checks that code is exactly six ASCII digits.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return newValidationError("otp", "OTP must be 6 digits")
	}
	return nil
}

func validateSessionID(sessionID string) error {
	if sessionID == "" || len(sessionID) > maxSessionIDLength || strings.ContainsAny(sessionID, " \t\r\n") {
		return newValidationError("session_id", "invalid session id")
	}
	return nil
}

func normalizeDestination(destination string) string {
	return strings.ToLower(strings.TrimSpace(destination))
}
