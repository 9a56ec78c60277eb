package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	StoreBackend string
	DB           DBConfig
	PebbleDir    string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers  []string
	OutboxTopic   string
	ConsumerGroup string

	MongoURI    string
	MongoDBName string

	// InvoiceIncludeServiceCharge adds the service charge to the invoice total.
	InvoiceIncludeServiceCharge bool
	OTPDevCode                  string
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	MigrationsPath string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	requestTimeout, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	shutdownTimeout, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}
	includeServiceCharge, err := strconv.ParseBool(getEnv("INVOICE_INCLUDE_SERVICE_CHARGE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid INVOICE_INCLUDE_SERVICE_CHARGE: %w", err)
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  requestTimeout,
		ShutdownTimeout: shutdownTimeout,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DB: DBConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           port,
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			Name:           getEnv("DB_NAME", "selfcheckout"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
		PebbleDir:                   getEnv("PEBBLE_DIR", "./data/pebble"),
		RedisAddr:                   getEnv("REDIS_ADDR", ""),
		RedisPassword:               getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:                splitList(getEnv("KAFKA_BROKERS", "")),
		OutboxTopic:                 getEnv("OUTBOX_TOPIC", "selfcheckout-invoices"),
		ConsumerGroup:               getEnv("CONSUMER_GROUP", "receipt-projector"),
		MongoURI:                    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:                 getEnv("MONGO_DB_NAME", "selfcheckout"),
		InvoiceIncludeServiceCharge: includeServiceCharge,
		OTPDevCode:                  getEnv("OTP_DEV_CODE", ""),
	}

	if cfg.StoreBackend != BackendPostgres && cfg.StoreBackend != BackendPebble {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", cfg.StoreBackend, BackendPostgres, BackendPebble)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
