// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// BaseURL is the externally reachable base URL used when building links
	// embedded in notifications (e.g. https://auth.example.com).
	BaseURL string `mapstructure:"BASE_URL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// MailAPIKey is the API key for the transactional mail provider. When empty,
	// outgoing notifications are logged instead of sent.
	MailAPIKey string `mapstructure:"MAIL_API_KEY"`
	// MailBaseURL is the mail provider API base URL.
	MailBaseURL string `mapstructure:"MAIL_API_BASE_URL"`
	// MailSender is the From address for outgoing notifications.
	MailSender string `mapstructure:"MAIL_SENDER"`

	// SetPasswordTokenTTL is the default set-password token lifetime (e.g. "24h")
	// for directories that do not override it.
	SetPasswordTokenTTL string `mapstructure:"SET_PASSWORD_TOKEN_TTL"`
	// ImpersonationTokenTTL is the default impersonation token lifetime (e.g. "60s")
	// for directories that do not override it.
	ImpersonationTokenTTL string `mapstructure:"IMPERSONATION_TOKEN_TTL"`

	// Audit stream (optional). When Kafka brokers are set, the service emits
	// auth events to Kafka in addition to Postgres.
	// AuditKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	AuditKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for auth events (default partner-auth-events).
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the audit worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("MAIL_API_KEY", "")
	v.SetDefault("MAIL_API_BASE_URL", "")
	v.SetDefault("MAIL_SENDER", "no-reply@localhost")
	v.SetDefault("SET_PASSWORD_TOKEN_TTL", "24h")
	v.SetDefault("IMPERSONATION_TOKEN_TTL", "60s")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "partner-auth-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "partner-auth-audit-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("config: BASE_URL must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// SetPasswordTTL parses SetPasswordTokenTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) SetPasswordTTL() time.Duration {
	d, err := time.ParseDuration(c.SetPasswordTokenTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// ImpersonationTTL parses ImpersonationTokenTTL as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) ImpersonationTTL() time.Duration {
	d, err := time.ParseDuration(c.ImpersonationTokenTTL)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// AuditKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the audit stream is enabled (non-empty list) and to create the producer.
func (c *Config) AuditKafkaBrokersList() []string {
	if c == nil || c.AuditKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.AuditKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
