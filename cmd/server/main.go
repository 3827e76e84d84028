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
	"github.com/relayhook/dispatcher/internal/health"
	"github.com/relayhook/dispatcher/internal/infrastructure/postgres"
	ctxlog "github.com/relayhook/dispatcher/internal/log"
	"github.com/relayhook/dispatcher/internal/metrics"
	"github.com/relayhook/dispatcher/internal/queue"
	"github.com/relayhook/dispatcher/internal/scheduler"
	httptransport "github.com/relayhook/dispatcher/internal/transport/http"
	"github.com/relayhook/dispatcher/internal/transport/http/handler"
	"github.com/relayhook/dispatcher/internal/usecase"
	"github.com/relayhook/dispatcher/internal/usercache"
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

	jobStore := postgres.NewJobStore(pool)
	logStore := postgres.NewLogStore(pool)
	users, err := usercache.New(postgres.NewUserStore(pool))
	if err != nil {
		stop()
		log.Fatalf("user cache: %v", err)
	}

	registry := scheduler.NewHandlerRegistry()
	registerHandlers(registry, cfg.WorkerCallbackBaseURL)

	pgQueue := queue.NewPostgresQueue(pool)
	submitter := scheduler.NewSubmitter(users, jobStore, pgQueue)
	jobUsecase := usecase.NewJobUsecase(registry, submitter, jobStore, logStore)
	jobHandler := handler.NewJobHandler(jobUsecase, logger)

	metrics.Register()
	metrics.WorkerStartTime.Set(float64(time.Now().Unix()))
	checker := health.NewChecker(pool, redisPinger{redisClient}, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, jobHandler, cfg.InternalAPISecret),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	metrics.WorkerShutdownsTotal.Inc()
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
