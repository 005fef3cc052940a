// Package serverconfig loads otpgate-server settings from YAML and the
// environment and maps them onto otpgate.Config.
package serverconfig

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OTPGATE_JWT_SECRET.
const EnvPrefix = "OTPGATE"

type Config struct {
	Environment string        `mapstructure:"environment"`
	Server      ServerConfig  `mapstructure:"server"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Redis       RedisConfig   `mapstructure:"redis"`
	OTP         OTPConfig     `mapstructure:"otp"`
	Token       TokenConfig   `mapstructure:"token"`
	JWT         JWTConfig     `mapstructure:"jwt"`
	Cookie      CookieConfig  `mapstructure:"cookie"`
	Email       EmailConfig   `mapstructure:"email"`
	Audit       AuditConfig   `mapstructure:"audit"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

type OTPConfig struct {
	CodeTTL        time.Duration `mapstructure:"code_ttl"`
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type TokenConfig struct {
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type CookieConfig struct {
	Domain   string `mapstructure:"domain"`
	SameSite string `mapstructure:"same_site"`
}

// EmailConfig selects code delivery. Providers are tried in order; a
// DeliveryEndpoint replaces them with a remote POST /api/send-otp.
type EmailConfig struct {
	From             string   `mapstructure:"from"`
	FromName         string   `mapstructure:"from_name"`
	Providers        []string `mapstructure:"providers"`
	ResendAPIKey     string   `mapstructure:"resend_api_key"`
	MailerSendAPIKey string   `mapstructure:"mailersend_api_key"`
	DeliveryEndpoint string   `mapstructure:"delivery_endpoint"`
}

// AuditConfig selects audit destinations. EnsureSchema runs the audit
// migrations at startup, which needs PostgresDSN in postgres:// URL form;
// MigrationsPath replaces the embedded migrations with a directory.
type AuditConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	BufferSize     int      `mapstructure:"buffer_size"`
	KafkaBrokers   []string `mapstructure:"kafka_brokers"`
	KafkaTopic     string   `mapstructure:"kafka_topic"`
	PostgresDSN    string   `mapstructure:"postgres_dsn"`
	EnsureSchema   bool     `mapstructure:"ensure_schema"`
	MigrationsPath string   `mapstructure:"migrations_path"`
	Stdout         bool     `mapstructure:"stdout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Latency bool   `mapstructure:"latency"`
	Path    string `mapstructure:"path"`
}

// Production reports whether the server runs with production posture.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// Load reads config.<env>.yaml from ./configs, the working directory or
// /etc/otpgate, then applies OTPGATE_* overrides. OTPGATE_CONFIG names a
// file explicitly. A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	env := strings.ToLower(v.GetString("environment"))
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config." + env)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/otpgate")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Environment = strings.ToLower(cfg.Environment)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := otpgate.DefaultConfig()

	v.SetDefault("environment", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("logging.level", "info")

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("otp.code_ttl", d.OTP.CodeTTL)
	v.SetDefault("otp.resend_cooldown", d.OTP.ResendCooldown)
	v.SetDefault("otp.max_attempts", d.OTP.MaxAttempts)

	v.SetDefault("token.access_ttl", d.Token.AccessTTL)
	v.SetDefault("token.refresh_ttl", d.Token.RefreshTTL)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", "")

	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.same_site", "strict")

	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "")
	v.SetDefault("email.providers", []string{"resend", "mailersend"})
	v.SetDefault("email.resend_api_key", "")
	v.SetDefault("email.mailersend_api_key", "")
	v.SetDefault("email.delivery_endpoint", "")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.kafka_topic", "otpgate.audit")
	v.SetDefault("audit.postgres_dsn", "")
	v.SetDefault("audit.ensure_schema", false)
	v.SetDefault("audit.migrations_path", "")
	v.SetDefault("audit.stdout", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.latency", true)
	v.SetDefault("metrics.path", "/metrics")
}

// EngineConfig maps the server settings onto an engine config and
// validates the result.
func (c *Config) EngineConfig() (otpgate.Config, error) {
	cfg := otpgate.DefaultConfig()

	cfg.OTP.CodeTTL = c.OTP.CodeTTL
	cfg.OTP.ResendCooldown = c.OTP.ResendCooldown
	cfg.OTP.MaxAttempts = c.OTP.MaxAttempts

	cfg.Token.AccessTTL = c.Token.AccessTTL
	cfg.Token.RefreshTTL = c.Token.RefreshTTL

	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte(c.JWT.Secret)
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience

	cfg.Security.ProductionMode = c.Production()

	sameSite, err := ParseSameSite(c.Cookie.SameSite)
	if err != nil {
		return otpgate.Config{}, err
	}
	cfg.Cookie.Domain = c.Cookie.Domain
	cfg.Cookie.SameSite = sameSite

	cfg.Audit.Enabled = c.Audit.Enabled
	if c.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = c.Audit.BufferSize
	}

	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled && c.Metrics.Latency

	if err := cfg.Validate(); err != nil {
		return otpgate.Config{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}

// ParseSameSite maps "strict", "lax" or "none" to the cookie attribute.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unknown cookie same_site %q", s)
	}
}
