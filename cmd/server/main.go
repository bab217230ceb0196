package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-pipeline/internal/api"
	"github.com/ignite/campaign-pipeline/internal/config"
	"github.com/ignite/campaign-pipeline/internal/delivery"
	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
	"github.com/ignite/campaign-pipeline/internal/store"
	"github.com/ignite/campaign-pipeline/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	if cfg.Database.URL == "" {
		log.Fatal("database url is required (config database.url or DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("ping database: %v", err)
	}
	cancelPing()

	st := store.NewPostgres(db)

	personalizer := delivery.NewPersonalizer(cfg.Tracking.PublicURL)
	transport := delivery.NewHTTPTransport(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL, cfg.SparkPost.Timeout())
	engine := delivery.NewEngine(st, transport, personalizer, delivery.Config{
		BatchSize:   cfg.Delivery.BatchSize,
		BatchDelay:  cfg.Delivery.BatchDelay(),
		SendTimeout: cfg.Delivery.SendTimeout(),
	})

	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		limiter, err := worker.NewSendRateLimiterFromURL(cfg.Redis.URL, cfg.Redis.SendsPerMin)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer limiter.Close()
		engine.SetRateLimiter(limiter)
		logger.Info("send rate limiter enabled", "sends_per_min", cfg.Redis.SendsPerMin)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := worker.NewScheduler(st, engine, cfg.Workers.SchedulerInterval())
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Stop()

	stats := worker.NewStatsAggregator(st, cfg.Workers.StatsInterval(), cfg.Workers.StatsStaleness())
	stats.Start(ctx)
	defer stats.Stop()

	sweeper := worker.NewRetentionSweeper(st, cfg.Workers.RetentionInterval(), cfg.Workers.RetentionAge(), cfg.Workers.RetentionBatchSize)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewServer(st, scheduler).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
}
