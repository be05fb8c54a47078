/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	EventExchange             string `mapstructure:"EVENT_EXCHANGE"`
	TransferTriggerQueue      string `mapstructure:"TRANSFER_TRIGGER_QUEUE"`
	ProjectionQueue           string `mapstructure:"PROJECTION_QUEUE"`
	SnapshotInterval          int64  `mapstructure:"SNAPSHOT_INTERVAL"`
	MaxTransferAmount         int64  `mapstructure:"MAX_TRANSFER_AMOUNT"`
	SagaTimeoutMinutes        int    `mapstructure:"SAGA_TIMEOUT_MINUTES"`
	SagaSweepSchedule         string `mapstructure:"SAGA_SWEEP_SCHEDULE"`
	ConflictMaxRetries        int    `mapstructure:"CONFLICT_MAX_RETRIES"`
	CommandRateLimitPerMinute int    `mapstructure:"COMMAND_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("EVENT_EXCHANGE", "ledger.events")
	viper.SetDefault("TRANSFER_TRIGGER_QUEUE", "ledger_service.transfer_triggers")
	viper.SetDefault("PROJECTION_QUEUE", "ledger_service.projections")
	viper.SetDefault("SNAPSHOT_INTERVAL", 50)
	viper.SetDefault("MAX_TRANSFER_AMOUNT", 1_000_000)
	viper.SetDefault("SAGA_TIMEOUT_MINUTES", 30)
	viper.SetDefault("SAGA_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("CONFLICT_MAX_RETRIES", 3)
	viper.SetDefault("COMMAND_RATE_LIMIT_PER_MINUTE", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("TRANSFER_TRIGGER_QUEUE")
	_ = viper.BindEnv("PROJECTION_QUEUE")
	_ = viper.BindEnv("SNAPSHOT_INTERVAL")
	_ = viper.BindEnv("MAX_TRANSFER_AMOUNT")
	_ = viper.BindEnv("SAGA_TIMEOUT_MINUTES")
	_ = viper.BindEnv("SAGA_SWEEP_SCHEDULE")
	_ = viper.BindEnv("CONFLICT_MAX_RETRIES")
	_ = viper.BindEnv("COMMAND_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}

	if config.SnapshotInterval <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive snapshot interval configured; using default\" interval=%d", config.SnapshotInterval)
		config.SnapshotInterval = 50
	}
	if config.MaxTransferAmount <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive max transfer amount configured; using default\" max=%d", config.MaxTransferAmount)
		config.MaxTransferAmount = 1_000_000
	}
	if config.SagaTimeoutMinutes <= 0 {
		config.SagaTimeoutMinutes = 30
	}
	if strings.TrimSpace(config.SagaSweepSchedule) == "" {
		config.SagaSweepSchedule = "@every 1m"
	}
	if config.ConflictMaxRetries <= 0 {
		config.ConflictMaxRetries = 3
	}
	if config.CommandRateLimitPerMinute <= 0 {
		config.CommandRateLimitPerMinute = 120
	}

	return
}
