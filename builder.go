package otpgate

import (
	"errors"
	"time"

	"github.com/MrEthical07/otpgate/internal"
	internalaudit "github.com/MrEthical07/otpgate/internal/audit"
	internalflows "github.com/MrEthical07/otpgate/internal/flows"
	"github.com/MrEthical07/otpgate/internal/rate"
	"github.com/MrEthical07/otpgate/internal/stores"
	"github.com/MrEthical07/otpgate/jwt"
	"github.com/MrEthical07/otpgate/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. It is single-use: Build may succeed once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	notifier  Notifier
	logger    *zap.Logger
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a private copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client used for challenges, sessions and rate
// limits. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithNotifier sets the out-of-band code delivery. Required.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLogger sets the structured logger for best-effort failures. Defaults
// to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every expiry decision the engine makes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles verify and validate latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:         cfg,
		logger:         logger.Named("otpgate"),
		now:            clock,
		notifier:       b.notifier,
		challengeStore: stores.NewChallengeStore(b.redis, cfg.OTP.RedisPrefix),
		sessionStore:   session.NewStore(b.redis, cfg.Token.RedisPrefix),
	}

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIssueThrottle:   cfg.OTP.EnableIssueThrottle,
		EnableIPThrottle:      cfg.Security.EnableIPThrottle,
		EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
		MaxIssuePerWindow:     cfg.OTP.MaxIssuePerWindow,
		IssueWindow:           cfg.OTP.IssueWindow,
		MaxRefreshPerWindow:   cfg.Security.MaxRefreshAttempts,
		RefreshWindow:         cfg.Security.RefreshCooldownDuration,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     engine.logger.Named("audit"),
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		KeyID:         cfg.JWT.KeyID,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	engine.flows = internalflows.New(engine.flowDeps())

	b.built = true

	return engine, nil
}

func (e *Engine) flowDeps() internalflows.Deps {
	cfg := e.config
	warn := e.logger.Sugar().Warnw

	return internalflows.Deps{
		OTP: internalflows.OTPDeps{
			CodeTTL:           cfg.OTP.CodeTTL,
			ResendCooldown:    cfg.OTP.ResendCooldown,
			AttemptRetention:  cfg.OTP.PendingTTL,
			MaxAttempts:       cfg.OTP.MaxAttempts,
			Now:               e.now,
			NewCode:           internal.NewOTP,
			HashCode:          internal.HashCode,
			CheckIssueLimiter: e.rateLimiter.CheckIssue,
			Notify:            e.notifier.SendOTP,
			Store:             e.challengeStore,
		},
		Tokens: internalflows.TokenDeps{
			AccessTTL:          cfg.Token.AccessTTL,
			RefreshTTL:         cfg.Token.RefreshTTL,
			Now:                e.now,
			NewSessionID:       newTokenSessionID,
			NewRefreshSecret:   internal.NewRefreshSecret,
			HashRefreshSecret:  internal.HashRefreshSecret,
			EncodeRefreshToken: internal.EncodeRefreshToken,
			IssueAccessToken:   e.jwtManager.CreateAccess,
			SessionStore:       e.sessionStore,
		},
		Refresh: internalflows.RefreshDeps{
			AccessTTL:            cfg.Token.AccessTTL,
			RefreshTTL:           cfg.Token.RefreshTTL,
			Now:                  e.now,
			DecodeRefreshToken:   internal.DecodeRefreshToken,
			NewRefreshSecret:     internal.NewRefreshSecret,
			HashRefreshSecret:    internal.HashRefreshSecret,
			EncodeRefreshToken:   internal.EncodeRefreshToken,
			IssueAccessToken:     e.jwtManager.CreateAccess,
			EnableReplayTracking: cfg.Token.EnableReplayTracking,
			Warn:                 warn,
			RateLimiter:          e.rateLimiter,
			SessionStore:         e.sessionStore,
			RefreshHashMismatch:  session.ErrRefreshHashMismatch,
			RedisNil:             redis.Nil,
		},
		Validate: internalflows.ValidateDeps{
			ParseAccess:      e.jwtManager.ParseAccess,
			Now:              e.now,
			MaxClockSkew:     cfg.Token.MaxClockSkew,
			RequireSession:   cfg.Token.RequireLiveSession,
			SessionStore:     e.sessionStore,
			RedisUnavailable: session.ErrRedisUnavailable,
			RedisNil:         redis.Nil,
		},
		Logout: internalflows.LogoutDeps{
			ParseAccess:        e.jwtManager.ParseAccess,
			DecodeRefreshToken: internal.DecodeRefreshToken,
			SessionStore:       e.sessionStore,
		},
	}
}

func newTokenSessionID() (string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	return sid.String(), nil
}
