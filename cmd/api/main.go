package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/auth"
	"github.com/example/inventory-sync/internal/event"
	"github.com/example/inventory-sync/internal/importer"
	"github.com/example/inventory-sync/internal/infrastructure/cache"
	"github.com/example/inventory-sync/internal/infrastructure/config"
	"github.com/example/inventory-sync/internal/infrastructure/kafka"
	"github.com/example/inventory-sync/internal/infrastructure/logger"
	"github.com/example/inventory-sync/internal/ingest"
	"github.com/example/inventory-sync/internal/infrastructure/store"
	"github.com/example/inventory-sync/internal/query"
	"github.com/example/inventory-sync/internal/shopify"
)

func main() {
	cfg, err := config.Load(os.Getenv("INVSYNC_CONFIG"))
	if err != nil {
		panic(err)
	}

	log := logger.NewForEnvironment(cfg.App.Env, cfg.Log.Level)
	defer log.Sync()

	log.Info("starting ingestion front door",
		zap.String("addr", cfg.HTTP.Addr),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic))

	db, err := store.ConnectPostgres(cfg.Database.URL,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	pg := store.NewPostgresStore(db)
	ctx := context.Background()
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	var operators []auth.Operator
	if cfg.Auth.OperatorUsername != "" {
		operators = append(operators, auth.Operator{
			Username:     cfg.Auth.OperatorUsername,
			PasswordHash: cfg.Auth.OperatorPasswordHash,
			Role:         "operator",
		})
	}

	handlers := ingest.NewHandlers(
		shopify.NewVerifier(cfg.Shopify.WebhookSecret),
		event.NewNormalizer(pg),
		pg, pg, pg,
		producer,
		importer.New(pg, producer, log),
		query.NewHandler(pg, log),
		jwtService,
		auth.NewRegistry(operators),
		log,
	)

	redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 24*time.Hour)
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		// The durable marker table still catches duplicates without it
		log.Warn("redis unavailable, duplicate fast path disabled", zap.Error(err))
	} else {
		handlers.WithDuplicateFilter(redisCache)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      ingest.NewRouter(handlers, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
