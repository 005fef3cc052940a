package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/httpapi"
	"github.com/MrEthical07/otpgate/internal/logging"
	"github.com/MrEthical07/otpgate/internal/serverconfig"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "otpgate-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := serverconfig.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	notifier, delivery, err := buildNotifier(cfg, engineCfg.OTP.CodeTTL, logger)
	if err != nil {
		return err
	}

	sink, closeSink, err := buildAuditSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	engine, err := otpgate.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithNotifier(notifier).
		WithLogger(logger).
		WithAuditSink(sink).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if latency, err := engine.Ping(ctx); err != nil {
		logger.Warn("redis not reachable at startup", zap.Strings("addrs", cfg.Redis.Addrs), zap.Error(err))
	} else {
		logger.Info("redis reachable", zap.Duration("latency", latency))
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := httpapi.New(engine, httpapi.Options{
		Config:      engineCfg,
		Logger:      logger,
		Delivery:    delivery,
		CORSOrigins: cfg.Server.CORSOrigins,
	}).Router()
	mountOps(router, engine, cfg)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
