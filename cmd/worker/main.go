package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"erasmusjourney/internal/aggregate"
	"erasmusjourney/internal/config"
	"erasmusjourney/internal/database"
	"erasmusjourney/internal/metrics"
	"erasmusjourney/internal/notify"
	"erasmusjourney/internal/tasks"
	"erasmusjourney/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database, false)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error("close database failed", slog.Any("error", err))
		}
	}()
	logger.Info("database connection ready for worker")

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	queue := asynq.NewClient(redisOpt)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	stats := aggregate.NewService(db)
	refresher := worker.NewRefresher(db, stats, aggregate.NewCostsCache(redisClient, cfg.Cache.CostsTTL), logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeSubmissionPublished, worker.NewPublishTaskHandler(db, stats, refresher, notify.NewPublisher(redisClient), logger))
	mux.Handle(tasks.TypeDestinationRefresh, worker.NewRefreshTaskHandler(refresher, logger))

	scheduler, err := worker.NewScheduler(queue, cfg.Worker.RefreshCron, logger)
	if err != nil {
		log.Fatalf("init scheduler: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Worker.MetricsPort > 0 {
		go serveMetrics(cfg.Worker.MetricsPort, logger)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	logger.Info("worker service started",
		slog.String("redis_addr", redisAddr),
		slog.String("refresh_cron", cfg.Worker.RefreshCron),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}

// serveMetrics exposes the worker's prometheus registry; the API serves its own on /metrics.
func serveMetrics(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("worker metrics listening", slog.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("worker metrics server stopped", slog.Any("error", err))
	}
}
