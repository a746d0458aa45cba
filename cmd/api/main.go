package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/safar/print-market/internal/cart"
	"github.com/safar/print-market/internal/checkout"
	"github.com/safar/print-market/internal/config"
	"github.com/safar/print-market/internal/database"
	"github.com/safar/print-market/internal/discount"
	"github.com/safar/print-market/internal/httpapi"
	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/notify"
	"github.com/safar/print-market/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Create logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}
	logger.Info("connected to database")

	carts, closeCarts, err := newCartBackend(cfg.Cart)
	if err != nil {
		logger.Fatal("open cart backend", zap.String("backend", cfg.Cart.Backend), zap.Error(err))
	}
	defer closeCarts()

	notifier, closeNotifier, err := newNotifier(cfg.Broker, logger)
	if err != nil {
		logger.Fatal("connect to message broker", zap.Error(err))
	}
	defer closeNotifier()

	orders := store.NewOrders(db)
	service := checkout.NewService(orders,
		checkout.WithNotifier(notifier),
		checkout.WithLogger(logger),
		checkout.WithAllocation(checkout.Allocation(cfg.Checkout.DiscountAllocation)),
	)

	server := httpapi.NewServer(httpapi.Deps{
		Catalog:   store.NewCatalog(db),
		Orders:    orders,
		Checkout:  service,
		Discounts: discount.NewValidator(store.NewDiscounts(db)),
		Carts: func(customerID string) *cart.Store {
			return cart.NewStore(carts, cart.Key(customerID))
		},
		Profiles: func(ctx context.Context, customerID string) (*models.Customer, error) {
			return store.GetCustomer(ctx, db, customerID)
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func newCartBackend(cfg config.CartConfig) (cart.Backend, func(), error) {
	switch cfg.Backend {
	case "sqlite":
		backend, err := cart.NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { backend.Close() }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return cart.NewRedisBackend(client, cfg.TTL), func() { client.Close() }, nil

	default:
		return cart.NewMemoryBackend(), func() {}, nil
	}
}

// newNotifier publishes order events to RabbitMQ when a broker URL is
// configured and discards them otherwise.
func newNotifier(cfg config.BrokerConfig, logger *zap.Logger) (notify.Notifier, func(), error) {
	if cfg.URL == "" {
		logger.Info("no broker configured, order notifications disabled")
		return notify.Nop{}, func() {}, nil
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := notify.DeclareQueue(ch, cfg.Queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	closeFn := func() {
		ch.Close()
		conn.Close()
	}
	return notify.NewRabbitPublisher(ch, cfg.Queue), closeFn, nil
}
