package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/relayhook/dispatcher/config"
	"github.com/relayhook/dispatcher/internal/callback"
	"github.com/relayhook/dispatcher/internal/cron"
	"github.com/relayhook/dispatcher/internal/email"
	"github.com/relayhook/dispatcher/internal/engine"
	"github.com/relayhook/dispatcher/internal/health"
	"github.com/relayhook/dispatcher/internal/infrastructure/postgres"
	ctxlog "github.com/relayhook/dispatcher/internal/log"
	"github.com/relayhook/dispatcher/internal/metrics"
	"github.com/relayhook/dispatcher/internal/notify"
	"github.com/relayhook/dispatcher/internal/publisher"
	"github.com/relayhook/dispatcher/internal/queue"
	"github.com/relayhook/dispatcher/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		stop()
		log.Fatalf("redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	logger.Info("db connected")

	metrics.Register()
	metrics.WorkerStartTime.Set(float64(time.Now().Unix()))
	checker := health.NewChecker(pool, redisPinger{redisClient}, logger, prometheus.DefaultRegisterer)

	jobStore := postgres.NewJobStore(pool)
	logStore := postgres.NewLogStore(pool)
	cronStore := postgres.NewCronStore(pool, logger)

	limiter := ratelimit.NewRedisLimiter(
		redisClient,
		time.Duration(cfg.RateLimitWindowSeconds)*time.Second,
		cfg.RateLimitMaxEvents,
	)
	caller := callback.New([]byte(cfg.CallbackJWTSecret), logger)
	pub := publisher.New()
	pgQueue := queue.NewPostgresQueue(pool)
	emailSender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notifier := notify.NewEmailNotifier(emailSender)

	eng := engine.New(jobStore, logStore, limiter, caller, pub, pgQueue, notifier, logger)

	// WORKER_COUNT bounds the per-poll claim batch, and with it how many
	// attempts one process executes concurrently.
	poller := queue.NewPoller(
		pool,
		eng,
		time.Duration(cfg.QueuePollIntervalSec)*time.Second,
		cfg.WorkerCount,
		logger,
	)
	go poller.Start(ctx)

	reaper := queue.NewLeaseReaper(
		pool,
		time.Duration(cfg.QueuePollIntervalSec)*time.Second,
		time.Duration(cfg.LeaseTimeoutSec)*time.Second,
		logger,
	)
	go reaper.Start(ctx)

	cronDriver := cron.NewDriver(cronStore, time.Duration(cfg.CronSweepIntervalSec)*time.Second, logger)
	go cronDriver.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	metrics.WorkerShutdownsTotal.Inc()

	logger.Info("scheduler shut down")
}

// redisPinger adapts *redis.Client to health.Pinger.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
