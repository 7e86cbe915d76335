// Package config содержит логику чтения конфигурации сервиса гоферкарт.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса гоферкарт.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisAddr   string `env:"REDIS_ADDR"`

	LoyaltyAddress   string `env:"LOYALTY_ADDRESS"`
	PromotionAddress string `env:"PROMOTION_ADDRESS"`
	ShippingAddress  string `env:"SHIPPING_ADDRESS"`
	AddressAddress   string `env:"ADDRESS_ADDRESS"`

	GuestCartTTL time.Duration `env:"GUEST_CART_TTL" envDefault:"168h"`
	UserCartTTL  time.Duration `env:"USER_CART_TTL" envDefault:"2160h"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"1h"`

	MergeMaxItems       int   `env:"MERGE_MAX_ITEMS" envDefault:"100"`
	MergeMaxAmountCents int64 `env:"MERGE_MAX_AMOUNT_CENTS" envDefault:"1000000"`

	RecoveryWindow    time.Duration `env:"RECOVERY_WINDOW" envDefault:"24h"`
	RecoveryBatchSize int           `env:"RECOVERY_BATCH_SIZE" envDefault:"100"`
	RecoveryPause     time.Duration `env:"RECOVERY_PAUSE" envDefault:"200ms"`

	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"5s"`
	WorkerCount   int           `env:"WORKER_COUNT" envDefault:"4"`
	QueueSize     int           `env:"QUEUE_SIZE" envDefault:"256"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis cache address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
