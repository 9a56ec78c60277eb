package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/selfcheckout/internal/cache"
	"github.com/fjod/go_cart/selfcheckout/internal/catalog"
	"github.com/fjod/go_cart/selfcheckout/internal/config"
	h "github.com/fjod/go_cart/selfcheckout/internal/http"
	"github.com/fjod/go_cart/selfcheckout/internal/logger"
	"github.com/fjod/go_cart/selfcheckout/internal/metrics"
	"github.com/fjod/go_cart/selfcheckout/internal/otp"
	"github.com/fjod/go_cart/selfcheckout/internal/publisher"
	r "github.com/fjod/go_cart/selfcheckout/internal/repository"
	"github.com/fjod/go_cart/selfcheckout/internal/service"
)

// store is what both backends provide.
type store interface {
	r.SessionStore
	r.OutboxStore
	r.Directory
	Seed(ctx context.Context, data *r.SeedData) error
}

const usage = `usage: session-service [serve | migrate | seed <file>]`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New("session-service", cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	zap.ReplaceGlobals(zlog)
	// accept trace context from the gateway so request logs carry its trace ids
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	command, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		command, args = os.Args[1], os.Args[2:]
	}

	if err := run(command, args, cfg, zlog); err != nil {
		zlog.Fatal("session-service failed", zap.String("command", command), zap.Error(err))
	}
}

func run(command string, args []string, cfg *config.Config, zlog *zap.Logger) error {
	switch command {
	case "serve", "migrate":
	case "seed":
		if len(args) != 1 {
			return errors.New(usage)
		}
	default:
		return errors.New(usage)
	}

	st, err := openStore(cfg, zlog)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			zlog.Warn("failed to close store", zap.Error(err))
		}
	}()

	switch command {
	case "migrate":
		// openStore already applied pending migrations
		zlog.Info("migrations completed")
		return nil
	case "seed":
		data, err := r.LoadSeedFile(args[0])
		if err != nil {
			return err
		}
		if err := st.Seed(context.Background(), data); err != nil {
			return fmt.Errorf("seed store: %w", err)
		}
		zlog.Info("store seeded",
			zap.Int("retailers", len(data.Retailers)),
			zap.Int("catalog_items", len(data.Catalog)))
		return nil
	}
	return serve(cfg, st, zlog)
}

func openStore(cfg *config.Config, zlog *zap.Logger) (store, error) {
	if cfg.StoreBackend == config.BackendPebble {
		st, err := r.NewPebbleStore(cfg.PebbleDir)
		if err != nil {
			return nil, fmt.Errorf("open pebble store: %w", err)
		}
		zlog.Info("using pebble store", zap.String("dir", cfg.PebbleDir))
		return st, nil
	}

	creds := &r.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.Name,
		MigrationsDirPath: cfg.DB.MigrationsPath,
	}
	repo, err := r.NewRepository(creds, zlog)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repo.RunMigrations(creds); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	zlog.Info("using postgres store", zap.String("host", cfg.DB.Host), zap.String("db", cfg.DB.Name))
	return repo, nil
}

func newSessionCache(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (cache.SessionCache, func(), error) {
	if cfg.RedisAddr == "" {
		zlog.Info("REDIS_ADDR not set, session cache disabled")
		return cache.Noop{}, func() {}, nil
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	zlog.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))
	return cache.NewRedisCache(redisClient), func() { _ = redisClient.Close() }, nil
}

func serve(cfg *config.Config, st store, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionCache, closeCache, err := newSessionCache(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer closeCache()

	reg := metrics.NewRegistry()
	lookup := catalog.NewBreakerLookup(st, catalog.DefaultSettings(), zlog)
	svc := service.NewSessionService(st, st, lookup, sessionCache, reg, zlog, service.Options{
		IncludeServiceCharge: cfg.InvoiceIncludeServiceCharge,
	})

	verifier, err := otp.NewStaticVerifier(cfg.OTPDevCode)
	if err != nil {
		return err
	}
	if !verifier.Enabled() {
		zlog.Info("OTP_DEV_CODE not set, otp verification disabled")
	}

	var wg sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(st, publisher.NewKafkaWriter(cfg.OutboxTopic, cfg.KafkaBrokers...), reg, zlog)
		defer func() {
			if err := poller.Close(); err != nil {
				zlog.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
		zlog.Info("outbox poller started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.OutboxTopic))
	} else {
		zlog.Warn("KAFKA_BROKERS not set, outbox events stay pending")
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Engine:         svc,
			OTP:            verifier,
			Metrics:        reg.Handler(),
			RequestTimeout: cfg.RequestTimeout,
			Log:            zlog,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zlog.Info("session service starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	zlog.Info("shutting down session service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()

	zlog.Info("session service stopped")
	return nil
}
