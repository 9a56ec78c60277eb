package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/selfcheckout/internal/config"
	"github.com/fjod/go_cart/selfcheckout/internal/consumer"
	"github.com/fjod/go_cart/selfcheckout/internal/ledger"
	"github.com/fjod/go_cart/selfcheckout/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New("receipt-projector", cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		zlog.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDB, err := ledger.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		zlog.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoDB.Client().Disconnect(disconnectCtx)
	}()

	repo := ledger.NewMongoRepository(mongoDB)
	if err := repo.CreateIndexes(ctx); err != nil {
		zlog.Fatal("failed to create receipt indexes", zap.Error(err))
	}
	zlog.Info("connected to MongoDB", zap.String("db", cfg.MongoDBName))

	c := consumer.NewReceiptConsumer(repo, consumer.NewKafkaReader(cfg.OutboxTopic, cfg.ConsumerGroup, cfg.KafkaBrokers...), zlog)
	defer c.Close()

	zlog.Info("receipt projector started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.OutboxTopic),
		zap.String("group", cfg.ConsumerGroup))
	c.Run(ctx)

	zlog.Info("receipt projector stopped")
}
