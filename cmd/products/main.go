package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"product-inventory/internal/config"
	"product-inventory/internal/observability"
	"product-inventory/internal/products"
	"product-inventory/internal/products/cache"
	producthttp "product-inventory/internal/products/http"
	"product-inventory/internal/products/messaging"
	"product-inventory/internal/products/repository"
	"product-inventory/internal/products/service"

	_ "product-inventory/docs"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

const (
	serviceName = "product-service"

	metricCreatedTotal         = "products_created_total"
	metricDeletedTotal         = "products_deleted_total"
	metricStockDecrementsTotal = "stock_decrements_total"
	metricOrderMessagesTotal   = "order_messages_total"

	redisPingTimeout = 5 * time.Second
)

// productStore is what both SQL repositories provide.
type productStore interface {
	service.Repository
	products.StockStore
	producthttp.HealthChecker
}

// @title        Products API
// @version      1.0
// @description  Product catalog and inventory service. Stock is decremented from order.created events.
// @host         localhost:8080
// @BasePath     /
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	os.Exit(run(logger))
}

func run(logger *slog.Logger) int {
	cfg, err := config.LoadProducts()
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("setup tracing", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	db, store, err := openStore(cfg)
	if err != nil {
		logger.Error("open database", "driver", cfg.DBDriver, "error", err)
		return 1
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Error("ping redis", "error", err)
		return 1
	}
	productCache := cache.NewRedis(redisClient, cfg.RedisTTL)

	rabbitConn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("connect rabbitmq", "error", err)
		return 1
	}
	defer rabbitConn.Close()

	if err := messaging.DeclareTopology(rabbitConn, messaging.Topology{
		OrderExchange:   cfg.OrderExchange,
		ProductExchange: cfg.ProductExchange,
		OrderQueue:      cfg.OrderQueue,
	}); err != nil {
		logger.Error("declare topology", "error", err)
		return 1
	}

	publisher, err := messaging.NewRabbitPublisher(rabbitConn, cfg.ProductExchange)
	if err != nil {
		logger.Error("init publisher", "error", err)
		return 1
	}
	defer publisher.Close()

	createdCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricCreatedTotal,
		Help: "Total number of products created",
	})
	deletedCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricDeletedTotal,
		Help: "Total number of products deleted",
	})
	decrementCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricStockDecrementsTotal,
		Help: "Stock decrement attempts by outcome",
	}, []string{"outcome"})
	messageCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricOrderMessagesTotal,
		Help: "Order messages settled by result",
	}, []string{"result"})
	prometheus.MustRegister(createdCounter, deletedCounter, decrementCounter, messageCounter)

	svc := service.New(store, productCache, publisher, logger, createdCounter, deletedCounter)
	stock := service.NewStockService(store, productCache, logger, decrementCounter)

	consumer, err := messaging.NewOrderConsumer(rabbitConn, messaging.ConsumerConfig{
		Queue:         cfg.OrderQueue,
		Prefetch:      cfg.OrderPrefetch,
		HandleTimeout: cfg.OrderHandleTimeout,
	}, stock, publisher, logger, messageCounter)
	if err != nil {
		logger.Error("init order consumer", "error", err)
		return 1
	}
	defer consumer.Close()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(producthttp.RequestIDMiddleware())
	router.Use(producthttp.AccessLogMiddleware(logger))
	producthttp.RegisterRoutes(router, producthttp.NewHandler(svc), map[string]producthttp.HealthChecker{
		"database": store,
		"cache":    productCache,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("products service started", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	consumerDone := make(chan error, 1)
	go func() {
		logger.Info("order consumer started", "queue", cfg.OrderQueue, "prefetch", cfg.OrderPrefetch)
		consumerDone <- consumer.Listen(consumerCtx)
	}()

	exitCode := 0
	consumerStopped := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("http server failed", "error", err)
		exitCode = 1
	case err := <-consumerDone:
		logger.Error("order consumer stopped", "error", err)
		consumerStopped = true
		exitCode = 1
	}

	stopConsumer()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		exitCode = 1
	}

	if !consumerStopped {
		select {
		case err := <-consumerDone:
			if err != nil {
				logger.Error("order consumer stop failed", "error", err)
				exitCode = 1
			}
		case <-shutdownCtx.Done():
			logger.Warn("order consumer shutdown timeout reached")
		}
	}

	logger.Info("products service stopped")
	return exitCode
}

func openStore(cfg config.Products) (*sql.DB, productStore, error) {
	dsn := cfg.DatabaseURL
	if cfg.DBDriver == config.DriverMySQL {
		var err error
		if dsn, err = repository.MySQLDSN(dsn); err != nil {
			return nil, nil, err
		}
	}

	db, err := sql.Open(cfg.DBDriver, dsn)
	if err != nil {
		return nil, nil, err
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	if cfg.DBDriver == config.DriverMySQL {
		return db, repository.NewMySQL(db, cfg.DBLockTimeout), nil
	}
	return db, repository.NewPostgres(db, cfg.DBLockTimeout), nil
}
