package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the recovery service
type Config struct {
	AppName  string         `mapstructure:"app_name"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Log      LogConfig      `mapstructure:"log"`
}

// AdminConfig holds the operator HTTP API configuration
type AdminConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// KafkaConfig holds Kafka event publishing configuration
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// StripeConfig holds payment gateway configuration
type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

// JobsConfig holds orchestrator intervals and limits
type JobsConfig struct {
	PaymentRetryInterval    time.Duration `mapstructure:"payment_retry_interval"`
	DunningInterval         time.Duration `mapstructure:"dunning_interval"`
	GracePeriodInterval     time.Duration `mapstructure:"grace_period_interval"`
	AnalyticsInterval       time.Duration `mapstructure:"analytics_interval"`
	JobTimeout              time.Duration `mapstructure:"job_timeout"`
	MaxConcurrentJobs       int           `mapstructure:"max_concurrent_jobs"`
	RetryBatchSize          int           `mapstructure:"retry_batch_size"`
	CommunicationBatchSize  int           `mapstructure:"communication_batch_size"`
	GracePeriodBatchSize    int           `mapstructure:"grace_period_batch_size"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SamplingRatio  float64 `mapstructure:"sampling_ratio"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app_name", "recovery-service")
	viper.SetDefault("admin.address", ":8082")
	viper.SetDefault("postgres.max_conns", 10)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("kafka.topic", "recovery.events")
	viper.SetDefault("jobs.payment_retry_interval", 15*time.Minute)
	viper.SetDefault("jobs.dunning_interval", 30*time.Minute)
	viper.SetDefault("jobs.grace_period_interval", 60*time.Minute)
	viper.SetDefault("jobs.analytics_interval", 24*time.Hour)
	viper.SetDefault("jobs.job_timeout", 5*time.Minute)
	viper.SetDefault("jobs.max_concurrent_jobs", 5)
	viper.SetDefault("jobs.retry_batch_size", 50)
	viper.SetDefault("jobs.communication_batch_size", 100)
	viper.SetDefault("jobs.grace_period_batch_size", 100)
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	viper.SetDefault("tracing.sampling_ratio", 1.0)
	viper.SetDefault("log.level", "info")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Jobs.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("jobs.max_concurrent_jobs must be positive")
	}
	if c.Jobs.JobTimeout <= 0 {
		return fmt.Errorf("jobs.job_timeout must be positive")
	}
	if c.Jobs.RetryBatchSize <= 0 || c.Jobs.CommunicationBatchSize <= 0 || c.Jobs.GracePeriodBatchSize <= 0 {
		return fmt.Errorf("job batch sizes must be positive")
	}
	return nil
}
