package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/order-stream/internal/adapter/crowd"
	"github.com/rl1809/order-stream/internal/adapter/handler"
	"github.com/rl1809/order-stream/internal/adapter/messaging"
	"github.com/rl1809/order-stream/internal/adapter/storage"
	"github.com/rl1809/order-stream/internal/config"
	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/core/eventbus"
	"github.com/rl1809/order-stream/internal/core/service"
	"github.com/rl1809/order-stream/internal/core/stream"
	"github.com/rl1809/order-stream/internal/platform/logging"
	"github.com/rl1809/order-stream/internal/platform/tracing"
	"github.com/rl1809/order-stream/internal/port"
)

// ledger is a Store that can also be seeded with items.
type ledger interface {
	port.Store
	UpsertItem(ctx context.Context, name string, stock int) (domain.Item, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, config.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	// Initialize store
	var store ledger
	var db *sql.DB
	switch cfg.Store {
	case config.StoreMemory:
		store = storage.NewMemoryAdapter()
		logger.Info("using in-memory store")
	default:
		db, err = openMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate mysql", zap.Error(err))
		}
		store = mysqlAdapter
		logger.Info("connected to mysql")
	}

	if err := seed(ctx, store, cfg.SeedItems, logger); err != nil {
		logger.Fatal("failed to seed items", zap.Error(err))
	}

	// Initialize event bus
	policy, ok := eventbus.ParseOverflowPolicy(cfg.BusOverflow)
	if !ok {
		logger.Fatal("unknown bus overflow policy", zap.String("policy", cfg.BusOverflow))
	}
	bus := eventbus.New(
		eventbus.WithBufferSize(cfg.BusBuffer),
		eventbus.WithOverflowPolicy(policy),
		eventbus.WithLogger(logger.Named("bus")),
	)

	opts := []service.Option{service.WithLogger(logger.Named("orders"))}

	// Initialize Redis
	var rdb *redis.Client
	var readings port.ReadingCache
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		redisAdapter := storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)
		opts = append(opts, service.WithIdempotency(redisAdapter))
		readings = redisAdapter
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	// Initialize crowd estimator
	if name, args, ok := crowd.ParseCommand(cfg.CrowdCommand); ok {
		var estimator port.CrowdEstimator = crowd.NewCommandEstimator(cfg.CrowdTimeout, name, args...)
		if readings != nil {
			estimator = crowd.NewCachedEstimator(estimator, readings, cfg.CrowdCacheTTL, logger.Named("crowd"))
		}
		opts = append(opts, service.WithCrowdEstimator(estimator))
		logger.Info("crowd estimator enabled", zap.String("command", name))
	}

	orderService := service.NewOrderService(store, bus, opts...)
	channel := stream.NewChannel(bus, cfg.StreamHeartbeat, logger.Named("stream"))

	var wg sync.WaitGroup

	// Start Kafka forwarder
	forwarderCancel := func() {}
	closeWriter := func() error { return nil }
	if len(cfg.KafkaBrokers) > 0 {
		writer := messaging.NewWriter(cfg.KafkaBrokers)
		closeWriter = writer.Close
		forwarder := messaging.NewKafkaForwarder(bus, writer, cfg.KafkaTopic, logger.Named("kafka"))

		fctx, stop := context.WithCancel(ctx)
		forwarderCancel = stop
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := forwarder.Run(fctx); err != nil {
				logger.Error("kafka forwarder stopped", zap.Error(err))
			}
		}()
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(orderService, channel, logger.Named("grpc")))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(orderService, channel, logger.Named("http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Streams hold their requests open; cancelling the base context ends them.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	forwarderCancel()
	bus.Close()
	wg.Wait()
	logger.Info("event bus closed")

	if err := closeWriter(); err != nil {
		logger.Warn("kafka writer close", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("connections closed")
}

func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func seed(ctx context.Context, store ledger, items map[string]int, logger *zap.Logger) error {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := store.UpsertItem(ctx, name, items[name]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Info("seeded item", zap.String("item", name), zap.Int("stock", items[name]))
	}
	return nil
}
