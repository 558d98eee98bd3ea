package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/engine"
	"github.com/example/inventory-sync/internal/infrastructure/config"
	"github.com/example/inventory-sync/internal/infrastructure/kafka"
	"github.com/example/inventory-sync/internal/infrastructure/logger"
	"github.com/example/inventory-sync/internal/infrastructure/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("INVSYNC_CONFIG"))
	if err != nil {
		panic(err)
	}

	log := logger.NewForEnvironment(cfg.App.Env, cfg.Log.Level)
	defer log.Sync()

	log.Info("starting mutation engine worker",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID))

	db, err := store.ConnectPostgres(cfg.Database.URL,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	pg := store.NewPostgresStore(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}

	eng := engine.New(pg, pg, pg, pg, log, engine.Config{
		MaxVersionRetries: cfg.Worker.MaxVersionRetries,
		MaxStorageRetries: cfg.Worker.MaxStorageRetries,
		RetryBackoff:      cfg.Worker.RetryBackoff,
	})

	if cfg.Ledger.ArchiveEnabled {
		client, err := store.ConnectDynamo(ctx, cfg.Ledger.ArchiveRegion)
		if err != nil {
			log.Fatal("failed to connect to dynamodb", zap.Error(err))
		}
		eng.WithArchive(store.NewDynamoLedgerArchive(client, cfg.Ledger.ArchiveTable))
		log.Info("ledger archive enabled", zap.String("table", cfg.Ledger.ArchiveTable))
	}

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("consuming inventory events")
		if err := consumer.Consume(ctx, eng.HandleMessage); err != nil && ctx.Err() == nil {
			log.Error("consumer stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	wg.Wait()
}
