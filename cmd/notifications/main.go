package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"product-inventory/internal/config"
	"product-inventory/internal/notifications"
	"product-inventory/internal/observability"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
)

const serviceName = "notifications-service"

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	os.Exit(run(logger))
}

func run(logger *slog.Logger) int {
	cfg, err := config.LoadNotifications()
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

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("connect rabbitmq", "error", err)
		return 1
	}
	defer conn.Close()

	consumer, err := notifications.NewConsumer(conn, cfg.ProductExchange, cfg.Queue, logger)
	if err != nil {
		logger.Error("init consumer", "error", err)
		return 1
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		logger.Info("notifications service started",
			"exchange", cfg.ProductExchange,
			"queue", cfg.Queue,
			"topics", notifications.Topics,
		)
		done <- consumer.Listen(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("consumer failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if !drain(done, cfg, logger) {
			return 1
		}
	}

	logger.Info("notifications service stopped")
	return 0
}

// drain waits for the listener to return after cancellation.
func drain(done <-chan error, cfg config.Notifications, logger *slog.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("consumer stop failed", "error", err)
			return false
		}
	case <-ctx.Done():
		logger.Warn("consumer shutdown timeout reached")
	}
	return true
}
