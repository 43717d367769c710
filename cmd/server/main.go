package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/adapter/handler"
	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/config"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
	"github.com/rl1809/inventory-ledger/internal/port"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("mysql", cfg.Database.DSN())
	if err != nil {
		logger.Fatal("open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetimeDuration())

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("ping mysql", zap.Error(err))
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("apply schema", zap.Error(err))
	}
	logger.Info("connected to mysql", zap.String("host", cfg.Database.Host))

	store := storage.NewMySQLStore(db)

	var cache port.CacheRepository
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("ping redis", zap.Error(err))
		}
		cache = storage.NewRedisCache(rdb)
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr()))
	}

	inventory := service.NewInventoryService(store, cache)
	allocations := service.NewAllocationService(store, cache, cfg.Engine.PrimaryLocation, cfg.Engine.DeliveryQueueSize)
	reservations := service.NewReservationService(store, cache, cfg.Engine.StagingLocation)
	wallets := service.NewWalletService(store, nil)
	orders := &loggingOrderCollaborator{logger: logger}
	transactions := service.NewTransactionService(store, orders)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Engine.DeliveryWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			deliveryLoop(id, allocations.DeliveryQueue(), orders, inventory, cfg.Engine.PrimaryLocation, logger)
		}(i)
	}
	logger.Info("started delivery workers", zap.Int("count", cfg.Engine.DeliveryWorkers))

	// Expiry sweeper: abandon transactions the gateway never resolved.
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		ticker := time.NewTicker(cfg.Engine.SweepIntervalDuration())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := transactions.ExpirePending(ctx, cfg.Engine.PendingMaxAgeDuration(), cfg.Engine.SweepBatchSize)
				if err != nil {
					logger.Warn("expire sweep failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("expired stale transactions", zap.Int("count", n))
				}
			}
		}
	}()

	httpHandler := handler.NewHTTPHandler(allocations, reservations, wallets, transactions, logger)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	allocations.Close()
	wg.Wait()
	logger.Info("delivery workers stopped")

	cancel()
	<-sweeperDone

	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	logger.Info("connections closed")
}

// deliveryLoop hands committed allocations to the order collaborator. A
// delivery that cannot be attached is compensated: the allocated units go
// back into stock so the counters stay truthful.
func deliveryLoop(id int, queue <-chan domain.AllocationResult, orders port.OrderCollaborator,
	inventory *service.InventoryService, location int64, logger *zap.Logger) {

	for result := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := orders.AttachLineItems(ctx, result.OrderID, result.Items); err != nil {
			logger.Error("attach line items failed",
				zap.Int("worker", id),
				zap.String("order_id", result.OrderID.String()),
				zap.Error(err))

			for _, item := range result.Items {
				key := domain.StockKey{ProductID: item.ProductID, LocationID: location}
				if _, rbErr := inventory.Increase(ctx, key, item.Quantity, "rollback:"+result.OrderID.String()); rbErr != nil {
					logger.Error("rollback failed",
						zap.Int("worker", id),
						zap.String("order_id", result.OrderID.String()),
						zap.Int64("product_id", item.ProductID),
						zap.Error(rbErr))
				}
			}
		}

		cancel()
	}
}

// loggingOrderCollaborator stands in for a real order system in a standalone
// deployment. Deliveries and payment outcomes are only logged.
type loggingOrderCollaborator struct {
	logger *zap.Logger
}

func (c *loggingOrderCollaborator) AttachLineItems(ctx context.Context, orderID uuid.UUID, items []domain.OrderLineItem) error {
	c.logger.Info("order line items allocated",
		zap.String("order_id", orderID.String()),
		zap.Int("items", len(items)))
	return nil
}

func (c *loggingOrderCollaborator) OrderPaid(ctx context.Context, orderID uuid.UUID) error {
	c.logger.Info("order paid", zap.String("order_id", orderID.String()))
	return nil
}

func (c *loggingOrderCollaborator) OrderPaymentFailed(ctx context.Context, orderID uuid.UUID) error {
	c.logger.Info("order payment failed", zap.String("order_id", orderID.String()))
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if err := zc.Level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	return zc.Build()
}

