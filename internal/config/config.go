// Package config loads service settings from the environment and an optional
// config.yaml using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	AdminToken string
	LogLevel   string

	RedisAddr    string
	RedisChannel string

	PersistTimeout     time.Duration
	CleanupInterval    time.Duration
	CleanupMaxAge      time.Duration
	RescanInterval     time.Duration
	CommandBuffer      int
	NotificationBuffer int
	BalanceCheck       bool
	DebitWithdrawals   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "p2p_queue")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ADMIN_TOKEN", "")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_CHANNEL", "p2p-queue.events")

	v.SetDefault("QUEUE_PERSIST_TIMEOUT", "5s")
	v.SetDefault("QUEUE_CLEANUP_INTERVAL", "10m")
	v.SetDefault("QUEUE_CLEANUP_MAX_AGE", "168h")
	v.SetDefault("QUEUE_RESCAN_INTERVAL", "1m")
	v.SetDefault("QUEUE_COMMAND_BUFFER", 64)
	v.SetDefault("QUEUE_NOTIFICATION_BUFFER", 256)
	v.SetDefault("QUEUE_BALANCE_CHECK", false)
	v.SetDefault("QUEUE_DEBIT_WITHDRAWALS", false)
}

// Load reads configuration from the environment, falling back to config.yaml
// in the working directory or ./config, then to defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetString("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBSSLMode:  v.GetString("DB_SSLMODE"),

		ServerPort: v.GetString("SERVER_PORT"),
		AdminToken: v.GetString("ADMIN_TOKEN"),
		LogLevel:   v.GetString("LOG_LEVEL"),

		RedisAddr:    v.GetString("REDIS_ADDR"),
		RedisChannel: v.GetString("REDIS_CHANNEL"),

		PersistTimeout:     v.GetDuration("QUEUE_PERSIST_TIMEOUT"),
		CleanupInterval:    v.GetDuration("QUEUE_CLEANUP_INTERVAL"),
		CleanupMaxAge:      v.GetDuration("QUEUE_CLEANUP_MAX_AGE"),
		RescanInterval:     v.GetDuration("QUEUE_RESCAN_INTERVAL"),
		CommandBuffer:      v.GetInt("QUEUE_COMMAND_BUFFER"),
		NotificationBuffer: v.GetInt("QUEUE_NOTIFICATION_BUFFER"),
		BalanceCheck:       v.GetBool("QUEUE_BALANCE_CHECK"),
		DebitWithdrawals:   v.GetBool("QUEUE_DEBIT_WITHDRAWALS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) GetDBConnectionString() string {
	sslMode := c.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, sslMode)
}

func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"QUEUE_PERSIST_TIMEOUT":  c.PersistTimeout,
		"QUEUE_CLEANUP_INTERVAL": c.CleanupInterval,
		"QUEUE_CLEANUP_MAX_AGE":  c.CleanupMaxAge,
		"QUEUE_RESCAN_INTERVAL":  c.RescanInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.CommandBuffer < 0 {
		return fmt.Errorf("QUEUE_COMMAND_BUFFER must not be negative, got %d", c.CommandBuffer)
	}
	if c.NotificationBuffer < 0 {
		return fmt.Errorf("QUEUE_NOTIFICATION_BUFFER must not be negative, got %d", c.NotificationBuffer)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}
