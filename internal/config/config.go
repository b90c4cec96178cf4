// Package config loads the cart service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPPort string `mapstructure:"HTTP_PORT"`
	GRPCPort string `mapstructure:"GRPC_PORT"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`

	DirectoryDBPath         string `mapstructure:"DIRECTORY_DB_PATH"`
	DirectoryMigrationsPath string `mapstructure:"DIRECTORY_MIGRATIONS_PATH"`
	BreakerMaxFailures      uint32 `mapstructure:"BREAKER_MAX_FAILURES"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	CartCacheTTL  time.Duration `mapstructure:"CART_CACHE_TTL"`

	KafkaBrokers        []string      `mapstructure:"-"`
	CheckoutTopic       string        `mapstructure:"CHECKOUT_TOPIC"`
	PaymentResultsTopic string        `mapstructure:"PAYMENT_RESULTS_TOPIC"`
	PaymentGroupID      string        `mapstructure:"PAYMENT_GROUP_ID"`
	OutboxPollInterval  time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`

	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"ENV":                       "development",
	"LOG_LEVEL":                 "info",
	"HTTP_PORT":                 "8080",
	"GRPC_PORT":                 "50052",
	"STORE_DRIVER":              StoreMongo,
	"MONGO_URI":                 "mongodb://localhost:27017",
	"MONGO_DB_NAME":             "cartdb",
	"DB_HOST":                   "localhost",
	"DB_PORT":                   "5432",
	"DB_USER":                   "postgres",
	"DB_PASSWORD":               "postgres",
	"DB_NAME":                   "cartdb",
	"MIGRATIONS_PATH":           "internal/repository/migrations",
	"DIRECTORY_DB_PATH":         "data/professionals.db",
	"DIRECTORY_MIGRATIONS_PATH": "internal/directory/migrations",
	"BREAKER_MAX_FAILURES":      5,
	"REDIS_ADDR":                "",
	"REDIS_PASSWORD":            "",
	"CART_CACHE_TTL":            "15m",
	"KAFKA_BROKERS":             "",
	"CHECKOUT_TOPIC":            "booking-checkout",
	"PAYMENT_RESULTS_TOPIC":     "booking-payment-results",
	"PAYMENT_GROUP_ID":          "cart-service",
	"OUTBOX_POLL_INTERVAL":      "1s",
	"REQUEST_TIMEOUT":           "5s",
	"SHUTDOWN_TIMEOUT":          "10s",
}

// Load reads an optional .env file and then the process environment.
// Values already present in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// KafkaEnabled reports whether checkout events and payment results go through Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// RedisEnabled reports whether the cart cache is backed by Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case StorePostgres:
		if c.DBHost == "" || c.DBName == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("HTTP_PORT is required"))
	}
	if c.KafkaEnabled() && (c.CheckoutTopic == "" || c.PaymentResultsTopic == "") {
		errs = append(errs, errors.New("CHECKOUT_TOPIC and PAYMENT_RESULTS_TOPIC are required when KAFKA_BROKERS is set"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	if c.BreakerMaxFailures == 0 {
		errs = append(errs, errors.New("BREAKER_MAX_FAILURES must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
