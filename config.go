package otpgate

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config holds every tunable of the engine. Obtain one with [DefaultConfig],
// adjust it, and pass it to [Builder.WithConfig]. The engine keeps its own
// copy; later mutations of the caller's value have no effect.
type Config struct {
	OTP      OTPConfig
	Token    TokenConfig
	JWT      JWTConfig
	Security SecurityConfig
	Cookie   CookieConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig governs the challenge lifecycle.
//
// PendingTTL bounds how long an attempt (destination, name, purpose) is
// remembered for resend. It must cover at least one code window and one
// cooldown.
type OTPConfig struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	PendingTTL     time.Duration
	MaxAttempts    int
	RedisPrefix    string

	EnableIssueThrottle bool
	MaxIssuePerWindow   int
	IssueWindow         time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig governs token sessions.
type TokenConfig struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RedisPrefix          string
	RequireLiveSession   bool
	EnableReplayTracking bool
	MaxClockSkew         time.Duration
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig selects the access-token signature. "hs256" needs PrivateKey
// as the shared secret; "ed25519" needs PrivateKey and PublicKey.
type JWTConfig struct {
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines production posture and throttles.
type SecurityConfig struct {
	ProductionMode          bool
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig names the cookies the HTTP layer uses to carry tokens and
// the pending signup/login payload.
type CookieConfig struct {
	AccessName   string
	RefreshName  string
	SignupName   string
	LoginName    string
	Path         string
	Domain       string
	SameSite     http.SameSite
	BootstrapTTL time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production-shaped defaults: five minute codes,
// a resend cooldown equal to the code window, five wrong guesses before
// lockout, one day access tokens and seven day refresh tokens.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			CodeTTL:             300 * time.Second,
			ResendCooldown:      300 * time.Second,
			PendingTTL:          24 * time.Hour,
			MaxAttempts:         5,
			RedisPrefix:         "otc",
			EnableIssueThrottle: true,
			MaxIssuePerWindow:   10,
			IssueWindow:         time.Hour,
		},
		Token: TokenConfig{
			AccessTTL:            24 * time.Hour,
			RefreshTTL:           7 * 24 * time.Hour,
			RedisPrefix:          "ats",
			RequireLiveSession:   true,
			EnableReplayTracking: true,
			MaxClockSkew:         30 * time.Second,
		},
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "otpgate",
		},
		Security: SecurityConfig{
			ProductionMode:          false,
			EnableIPThrottle:        false,
			EnableRefreshThrottle:   true,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
		},
		Cookie: CookieConfig{
			AccessName:   "authToken",
			RefreshName:  "refreshToken",
			SignupName:   "tempUserData",
			LoginName:    "tempLoginData",
			Path:         "/",
			SameSite:     http.SameSiteStrictMode,
			BootstrapTTL: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field. Build calls it; callers only
// need it to fail fast at startup.
func (c *Config) Validate() error {
	// OTP
	if c.OTP.CodeTTL <= 0 {
		return errors.New("OTP CodeTTL must be > 0")
	}
	if c.OTP.ResendCooldown < 0 {
		return errors.New("OTP ResendCooldown must be >= 0")
	}
	if c.OTP.PendingTTL < c.OTP.CodeTTL || c.OTP.PendingTTL < c.OTP.ResendCooldown {
		return errors.New("OTP PendingTTL must cover CodeTTL and ResendCooldown")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("OTP MaxAttempts must be >= 1")
	}
	if strings.TrimSpace(c.OTP.RedisPrefix) == "" {
		return errors.New("OTP RedisPrefix must not be empty")
	}
	if c.OTP.EnableIssueThrottle {
		if c.OTP.MaxIssuePerWindow <= 0 {
			return errors.New("OTP MaxIssuePerWindow must be > 0 when issue throttle is enabled")
		}
		if c.OTP.IssueWindow <= 0 {
			return errors.New("OTP IssueWindow must be > 0 when issue throttle is enabled")
		}
	}

	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}
	if strings.TrimSpace(c.Token.RedisPrefix) == "" {
		return errors.New("Token RedisPrefix must not be empty")
	}
	if c.Token.RedisPrefix == c.OTP.RedisPrefix {
		return errors.New("Token RedisPrefix must differ from OTP RedisPrefix")
	}
	if c.Token.MaxClockSkew < 0 || c.Token.MaxClockSkew > 5*time.Minute {
		return errors.New("Token MaxClockSkew must be between 0 and 5m")
	}

	// JWT
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
		if c.Security.ProductionMode && len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 PrivateKey must be >= 32 bytes in production")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Security
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("Security MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("Security RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
	}
	if c.Security.EnableIPThrottle && !c.OTP.EnableIssueThrottle {
		return errors.New("Security EnableIPThrottle requires OTP EnableIssueThrottle")
	}

	// Cookie
	if c.Cookie.AccessName == "" || c.Cookie.RefreshName == "" || c.Cookie.SignupName == "" || c.Cookie.LoginName == "" {
		return errors.New("Cookie names must not be empty")
	}
	if c.Cookie.SameSite == http.SameSiteNoneMode && !c.Security.ProductionMode {
		return errors.New("Cookie SameSite=None requires ProductionMode (secure cookies)")
	}
	if c.Cookie.BootstrapTTL <= 0 {
		return errors.New("Cookie BootstrapTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
