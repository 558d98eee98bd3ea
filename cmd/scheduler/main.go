package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/infrastructure/config"
	"github.com/example/inventory-sync/internal/infrastructure/kafka"
	"github.com/example/inventory-sync/internal/infrastructure/logger"
	"github.com/example/inventory-sync/internal/infrastructure/store"
	"github.com/example/inventory-sync/internal/reconcile"
	"github.com/example/inventory-sync/internal/report"
	"github.com/example/inventory-sync/internal/shopify"
)

func main() {
	cfg, err := config.Load(os.Getenv("INVSYNC_CONFIG"))
	if err != nil {
		panic(err)
	}

	log := logger.NewForEnvironment(cfg.App.Env, cfg.Log.Level)
	defer log.Sync()

	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled by config, exiting")
		return
	}

	log.Info("starting reconciliation scheduler",
		zap.Int("daily_hour", cfg.Scheduler.DailyHour),
		zap.Int("daily_minute", cfg.Scheduler.DailyMinute),
		zap.String("store_domain", cfg.Shopify.StoreDomain))

	db, err := store.ConnectPostgres(cfg.Database.URL,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	client := shopify.NewClient(cfg.Shopify.StoreDomain, cfg.Shopify.AccessToken, cfg.Shopify.Timeout)

	scheduler := reconcile.New(
		store.NewPostgresStore(db),
		client,
		producer,
		log,
		reconcile.Config{
			DailyHour:     cfg.Scheduler.DailyHour,
			DailyMinute:   cfg.Scheduler.DailyMinute,
			CheckInterval: cfg.Scheduler.CheckInterval,
			RetryBackoff:  cfg.Scheduler.RetryBackoff,
			MaxBackoff:    cfg.Scheduler.MaxBackoff,
			BatchSize:     cfg.Shopify.BatchSize,
		},
	)

	if cfg.Report.Enabled {
		scheduler.WithReporter(report.NewMailer(
			cfg.Report.SMTPHost, cfg.Report.SMTPPort, cfg.Report.From, cfg.Report.Recipients))
		log.Info("cycle summary emails enabled", zap.Strings("recipients", cfg.Report.Recipients))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduler stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	wg.Wait()
}
