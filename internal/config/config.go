package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	GatewaySecret string `env:"GATEWAY_WEBHOOK_SECRET,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// DisputeSplitBps is the client share of a split resolution in basis
	// points. 5000 is the 50/50 convention; the developer leg absorbs any
	// rounding remainder.
	DisputeSplitBps int64 `env:"DISPUTE_SPLIT_BPS" envDefault:"5000"`

	StoreMaxRetries     uint64 `env:"STORE_MAX_RETRIES" envDefault:"3"`
	NotifyPollIntervalS int    `env:"NOTIFY_POLL_INTERVAL_S" envDefault:"5"`
	NotifyBatchSize     int    `env:"NOTIFY_BATCH_SIZE" envDefault:"20"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
