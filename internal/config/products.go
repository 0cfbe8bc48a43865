package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"

	defaultDBDriver        = DriverPostgres
	defaultHTTPAddr        = ":8080"
	defaultShutdownTimeout = 10 * time.Second

	defaultDBMaxOpenConns    = 25
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 5 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
	defaultDBLockTimeout     = 5 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second

	defaultOrderExchange      = "order_exchange"
	defaultProductExchange    = "product_exchange"
	defaultOrderQueue         = "product-service.order.created"
	defaultOrderPrefetch      = 10
	defaultOrderHandleTimeout = 30 * time.Second
)

type Products struct {
	DatabaseURL       string
	DBDriver          string
	RabbitMQURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisTTL          time.Duration
	HTTPAddr          string
	ShutdownTimeout   time.Duration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBPingTimeout     time.Duration
	DBLockTimeout     time.Duration
	ReadHeaderTimeout time.Duration

	OrderExchange      string
	ProductExchange    string
	OrderQueue         string
	OrderPrefetch      int
	OrderHandleTimeout time.Duration

	OTLPEndpoint string
}

func LoadProducts() (Products, error) {
	cfg := Products{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBDriver:          getEnv("DB_DRIVER", defaultDBDriver),
		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		HTTPAddr:          getEnv("HTTP_ADDR", defaultHTTPAddr),
		ShutdownTimeout:   defaultShutdownTimeout,
		DBMaxOpenConns:    defaultDBMaxOpenConns,
		DBMaxIdleConns:    defaultDBMaxIdleConns,
		DBConnMaxLifetime: defaultDBConnMaxLifetime,
		DBPingTimeout:     defaultDBPingTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		OrderExchange:     getEnv("RABBITMQ_ORDER_EXCHANGE_NAME", defaultOrderExchange),
		ProductExchange:   getEnv("RABBITMQ_PRODUCT_EXCHANGE_NAME", defaultProductExchange),
		OrderQueue:        getEnv("RABBITMQ_ORDER_QUEUE_NAME", defaultOrderQueue),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.DatabaseURL == "" {
		return Products{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RabbitMQURL == "" {
		return Products{}, fmt.Errorf("RABBITMQ_URL is required")
	}
	if cfg.RedisAddr == "" {
		return Products{}, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.DBDriver != DriverPostgres && cfg.DBDriver != DriverMySQL {
		return Products{}, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMySQL, cfg.DBDriver)
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return Products{}, err
	}
	if cfg.RedisTTL, err = getEnvDuration("REDIS_TTL", 0); err != nil {
		return Products{}, err
	}
	if cfg.DBLockTimeout, err = getEnvDuration("DB_LOCK_TIMEOUT", defaultDBLockTimeout); err != nil {
		return Products{}, err
	}
	if cfg.OrderPrefetch, err = getEnvInt("ORDER_PREFETCH", defaultOrderPrefetch); err != nil {
		return Products{}, err
	}
	if cfg.OrderPrefetch < 1 {
		return Products{}, fmt.Errorf("ORDER_PREFETCH must be positive, got %d", cfg.OrderPrefetch)
	}
	if cfg.OrderHandleTimeout, err = getEnvDuration("ORDER_HANDLE_TIMEOUT", defaultOrderHandleTimeout); err != nil {
		return Products{}, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return Products{}, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, nil
}

// getEnvDuration accepts Go duration strings such as "500ms" or "1m".
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, raw)
	}
	return value, nil
}
