package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/nightcap-social/nightcap"
	"github.com/nightcap-social/nightcap/directory/postgres"
	"github.com/nightcap-social/nightcap/notify"
	"github.com/nightcap-social/nightcap/web"
)

func main() {
	cfg, err := loadConfig(os.Getenv("NIGHTCAP_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.Env)

	if cfg.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	redisClient, err := connectRedis(cfg)
	if err != nil {
		logger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	notifier, notifierClose, err := buildNotifier(cfg, logger, registry)
	if err != nil {
		logger.Error("notifier init failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = notifierClose() }()

	engineCfg := nightcap.DefaultConfig()
	engineCfg.FlowToken.Secret = []byte(cfg.FlowTokenSecret)
	engineCfg.FlowToken.EmbedCode = cfg.EmbedCodeInLink
	engineCfg.FlowToken.BaseURL = cfg.Web.BaseURL

	engine, err := nightcap.New().
		WithConfig(engineCfg).
		WithRedis(redisClient).
		WithDirectory(postgres.New(pool)).
		WithNotifier(notifier).
		WithAuditSink(nightcap.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Error("engine build failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	server := web.NewServer(engine, web.Config{
		CookieDomain:  cfg.Web.CookieDomain,
		SecureCookies: cfg.Web.SecureCookies,
		HoneypotField: cfg.Web.HoneypotField,
		MetricsPath:   cfg.Web.MetricsPath,
	}, logger, registry)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("nightcapd starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(srv, logger)
}

func newLogger(level, env string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h).With(
		slog.String("service", "nightcapd"),
		slog.String("env", env),
	)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func connectRedis(cfg *appConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func connectDB(cfg *appConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.connString())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// buildNotifier prefers the Kafka topic consumed by the mailer fleet and
// falls back to log-only delivery in dev when no brokers are configured.
func buildNotifier(cfg *appConfig, logger *slog.Logger, registry *prometheus.Registry) (notify.Notifier, func() error, error) {
	if len(cfg.Kafka.Brokers) > 0 {
		n, err := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger, notify.NewDeliveryMetrics(registry))
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	}

	if cfg.Env == "dev" || cfg.Env == "test" {
		logger.Warn("kafka brokers not configured, codes will be logged")
		return notify.LogNotifier{Logger: logger}, func() error { return nil }, nil
	}

	return nil, nil, fmt.Errorf("kafka brokers not configured")
}

func waitForShutdown(srv *http.Server, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
