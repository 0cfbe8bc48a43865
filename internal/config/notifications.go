package config

import (
	"fmt"
	"time"
)

const defaultNotificationsQueue = "notifications.product-events"

type Notifications struct {
	RabbitMQURL     string
	ProductExchange string
	Queue           string
	ShutdownTimeout time.Duration
	OTLPEndpoint    string
}

func LoadNotifications() (Notifications, error) {
	cfg := Notifications{
		RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
		ProductExchange: getEnv("RABBITMQ_PRODUCT_EXCHANGE_NAME", defaultProductExchange),
		Queue:           getEnv("NOTIFICATIONS_QUEUE_NAME", defaultNotificationsQueue),
		ShutdownTimeout: defaultShutdownTimeout,
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.RabbitMQURL == "" {
		return Notifications{}, fmt.Errorf("RABBITMQ_URL is required")
	}

	var err error
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return Notifications{}, err
	}

	return cfg, nil
}
