package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"

	"github.com/rl1809/market-orders/internal/adapter/event"
	"github.com/rl1809/market-orders/internal/adapter/handler"
	"github.com/rl1809/market-orders/internal/adapter/lock"
	"github.com/rl1809/market-orders/internal/adapter/storage"
	"github.com/rl1809/market-orders/internal/config"
	"github.com/rl1809/market-orders/internal/core/mutex"
	"github.com/rl1809/market-orders/internal/core/service"
	"github.com/rl1809/market-orders/internal/logging"
	"github.com/rl1809/market-orders/internal/metrics"
	"github.com/rl1809/market-orders/internal/port"
	"github.com/rl1809/market-orders/internal/shutdown"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	// Storage
	db, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("storage ready", "driver", cfg.StorageDriver)

	// Lock and idempotency
	var (
		locker port.Locker
		cache  port.CacheRepository
		health = []handler.Pinger{db}
	)
	switch cfg.LockDriver {
	case config.LockRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		defer rdb.Close()

		redisAdapter := storage.NewRedisAdapter(rdb)
		if err := redisAdapter.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locker, cache = redisAdapter, redisAdapter
		health = append(health, redisAdapter)
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	case config.LockLocal:
		locker = lock.NewLocalLocker()
		if mem, ok := db.(*storage.MemoryAdapter); ok {
			cache = mem
		}
	default:
		return fmt.Errorf("unknown lock driver %q", cfg.LockDriver)
	}

	// Events
	var events port.EventPublisher = event.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := event.NewKafkaPublisher(
			event.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopicOrders), 1024, logger)
		publisher.Start()
		defer publisher.Close()
		events = publisher
		logger.Info("publishing order events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopicOrders)
	}

	// Services
	orderService := service.NewOrderService(service.Dependencies{
		Orders:       db,
		Users:        db,
		Products:     db,
		Mutex:        mutex.NewCoordinator(locker, logger, mutex.WithTTL(cfg.LockTTL)),
		Events:       events,
		Metrics:      metrics.New(),
		Log:          logger,
		LockAttempts: cfg.LockMaxAttempts,
	})
	userService := service.NewUserService(db, logger)
	productService := service.NewProductService(db, db, logger)

	// gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterOrderServiceServer(grpcServer,
		handler.NewGRPCHandler(orderService, cache, cfg.IdempotencyTTL, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(handler.HTTPDependencies{
		Orders:         orderService,
		Users:          userService,
		Products:       productService,
		Cache:          cache,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Health:         health,
		Log:            logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	return nil
}

// openDatabase returns the configured repository and a func that closes
// its connections.
func openDatabase(ctx context.Context, cfg config.Config) (port.DatabaseRepository, func(), error) {
	switch cfg.StorageDriver {
	case config.StorageMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		return storage.NewMySQLAdapter(db), func() { db.Close() }, nil

	case config.StoragePostgres:
		pool, err := storage.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return storage.NewPostgresAdapter(pool), pool.Close, nil

	case config.StorageMemory:
		return storage.NewMemoryAdapter(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
