package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/auditsink"
	"github.com/MrEthical07/otpgate/internal/serverconfig"
	otpprom "github.com/MrEthical07/otpgate/metrics/export/prometheus"
	"github.com/MrEthical07/otpgate/migrations"
	"github.com/MrEthical07/otpgate/notify"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const auditSource = "otpgate-server"

// buildNotifier returns the engine's notifier and, when this process sends
// mail itself, the same notifier for POST /api/send-otp. A delivery
// endpoint delegates sending to another service and disables the local
// route.
func buildNotifier(cfg *serverconfig.Config, codeTTL time.Duration, logger *zap.Logger) (otpgate.Notifier, otpgate.Notifier, error) {
	if cfg.Email.DeliveryEndpoint != "" {
		n, err := notify.NewHTTPNotifier(cfg.Email.DeliveryEndpoint, &http.Client{Timeout: 15 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("email delivery delegated", zap.String("endpoint", cfg.Email.DeliveryEndpoint))
		return n, nil, nil
	}

	chain := notify.NewMultiSender(logger)
	for _, name := range cfg.Email.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "resend":
			if cfg.Email.ResendAPIKey == "" {
				logger.Warn("resend listed without an API key, skipping")
				continue
			}
			s, err := notify.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From, logger)
			if err != nil {
				return nil, nil, err
			}
			chain.Add("resend", s)
		case "mailersend":
			if cfg.Email.MailerSendAPIKey == "" {
				logger.Warn("mailersend listed without an API key, skipping")
				continue
			}
			s, err := notify.NewMailerSendSender(cfg.Email.MailerSendAPIKey, cfg.Email.From, cfg.Email.FromName, logger)
			if err != nil {
				return nil, nil, err
			}
			chain.Add("mailersend", s)
		default:
			return nil, nil, fmt.Errorf("unknown email provider %q", name)
		}
	}
	if chain.Len() == 0 {
		return nil, nil, errors.New("no email provider configured: set email.resend_api_key, email.mailersend_api_key or email.delivery_endpoint")
	}

	n := notify.NewOTPNotifier(chain, codeTTL)
	return n, n, nil
}

// buildAuditSink combines the configured audit destinations. The returned
// func releases their connections.
func buildAuditSink(ctx context.Context, cfg *serverconfig.Config, logger *zap.Logger) (otpgate.AuditSink, func(), error) {
	if !cfg.Audit.Enabled {
		return nil, func() {}, nil
	}

	var (
		sinks   auditsink.Fanout
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if len(cfg.Audit.KafkaBrokers) > 0 {
		k := auditsink.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, auditSource, logger)
		sinks = append(sinks, k)
		closers = append(closers, func() {
			if err := k.Close(); err != nil {
				logger.Warn("close kafka audit writer", zap.Error(err))
			}
		})
	}

	if cfg.Audit.PostgresDSN != "" {
		if cfg.Audit.EnsureSchema {
			if err := migrations.Up(cfg.Audit.PostgresDSN, cfg.Audit.MigrationsPath, logger.Named("migrate")); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("migrate audit database: %w", err)
			}
		}

		pool, err := pgxpool.New(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect audit database: %w", err)
		}
		closers = append(closers, pool.Close)
		sinks = append(sinks, auditsink.NewPostgresSink(pool, logger))
	}

	if cfg.Audit.Stdout {
		sinks = append(sinks, otpgate.NewJSONWriterSink(os.Stdout))
	}

	if len(sinks) == 0 {
		logger.Warn("audit enabled without a destination; events are dropped")
	}
	return sinks, closeAll, nil
}

// mountOps adds the health check and, when enabled, the Prometheus
// endpoint with Go runtime collectors.
func mountOps(r *gin.Engine, engine *otpgate.Engine, cfg *serverconfig.Config) {
	r.GET("/healthz", func(c *gin.Context) {
		latency, err := engine.Ping(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "redis_latency_ms": latency.Milliseconds()})
	})

	if !cfg.Metrics.Enabled {
		return
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		otpprom.NewPrometheusExporter(engine),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
}
