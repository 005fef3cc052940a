package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/auditsink"
	"github.com/MrEthical07/otpgate/internal/serverconfig"
	"github.com/MrEthical07/otpgate/notify"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildNotifierProviderChain(t *testing.T) {
	cfg := &serverconfig.Config{Email: serverconfig.EmailConfig{
		From:             "otp@example.com",
		Providers:        []string{"resend", "mailersend"},
		ResendAPIKey:     "re_test",
		MailerSendAPIKey: "ms_test",
	}}

	n, delivery, err := buildNotifier(cfg, 5*time.Minute, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Same(t, n, delivery, "local sending also serves /api/send-otp")
	assert.IsType(t, &notify.OTPNotifier{}, n)
}

func TestBuildNotifierSkipsProvidersWithoutKeys(t *testing.T) {
	cfg := &serverconfig.Config{Email: serverconfig.EmailConfig{
		From:         "otp@example.com",
		Providers:    []string{"resend", "mailersend"},
		ResendAPIKey: "re_test",
	}}

	_, _, err := buildNotifier(cfg, time.Minute, zap.NewNop())
	require.NoError(t, err)

	cfg.Email.ResendAPIKey = ""
	_, _, err = buildNotifier(cfg, time.Minute, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email provider configured")
}

func TestBuildNotifierUnknownProvider(t *testing.T) {
	cfg := &serverconfig.Config{Email: serverconfig.EmailConfig{Providers: []string{"carrier-pigeon"}}}

	_, _, err := buildNotifier(cfg, time.Minute, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestBuildNotifierDelegatesToEndpoint(t *testing.T) {
	cfg := &serverconfig.Config{Email: serverconfig.EmailConfig{
		DeliveryEndpoint: "https://mailer.internal/api/send-otp",
		Providers:        []string{"resend"},
	}}

	n, delivery, err := buildNotifier(cfg, time.Minute, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &notify.HTTPNotifier{}, n)
	assert.Nil(t, delivery)
}

func TestBuildAuditSink(t *testing.T) {
	cfg := &serverconfig.Config{}

	sink, closeFn, err := buildAuditSink(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, sink)
	closeFn()

	cfg.Audit = serverconfig.AuditConfig{
		Enabled:      true,
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "otpgate.audit",
		Stdout:       true,
	}
	sink, closeFn, err = buildAuditSink(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	fan, ok := sink.(auditsink.Fanout)
	require.True(t, ok)
	assert.Len(t, fan, 2)
	closeFn()
}

func TestBuildAuditSinkRejectsBadDSN(t *testing.T) {
	cfg := &serverconfig.Config{Audit: serverconfig.AuditConfig{
		Enabled:     true,
		PostgresDSN: "postgres://%zz",
	}}

	_, _, err := buildAuditSink(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect audit database")
}

func TestBuildAuditSinkMigratesBeforeConnecting(t *testing.T) {
	cfg := &serverconfig.Config{Audit: serverconfig.AuditConfig{
		Enabled:      true,
		PostgresDSN:  "postgres://otpgate@127.0.0.1:1/otpgate?sslmode=disable&connect_timeout=1",
		EnsureSchema: true,
	}}

	_, _, err := buildAuditSink(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate audit database")
}

func TestMountOps(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ecfg := otpgate.DefaultConfig()
	ecfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	ecfg.Metrics.Enabled = true

	engine, err := otpgate.New().
		WithConfig(ecfg).
		WithRedis(rdb).
		WithNotifier(otpgate.NotifierFunc(func(context.Context, string, string) error { return nil })).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	r := gin.New()
	mountOps(r, engine, &serverconfig.Config{Metrics: serverconfig.MetricsConfig{Enabled: true, Path: "/metrics"}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	_, err = engine.BeginLogin(context.Background(), "user@example.com")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "otpgate_otp_issued_total 1")
	assert.Contains(t, string(body), "go_goroutines")

	mr.Close()
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
