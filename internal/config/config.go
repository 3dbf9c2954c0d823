// Package config loads and validates the billing service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the VNT_ prefix (e.g., VNT_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds Postgres connection configuration. The same role and
// host serve every database in the deployment: the catalog database
// (catalog_name, normally "postgres") plus one database per tenant, named by
// the tenant's organization UUID.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	CatalogName        string `mapstructure:"catalog_name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// DSN returns the PostgreSQL connection string for the given database name.
func (c *DatabaseConfig) DSN(dbname string) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, dbname, c.SSLMode,
	)
}

// CatalogDSN returns the connection string for the catalog database.
func (c *DatabaseConfig) CatalogDSN() string {
	return c.DSN(c.CatalogName)
}

// AWSConfig holds AWS client configuration shared by the SQS listener and the
// marketplace metering client.
//
// When RoleARN is set, every client is built on STS AssumeRole credentials.
// The SQS listener intentionally re-assumes the role on every poll iteration
// (fresh client per poll), so a rotated or revoked role takes effect within
// one poll interval.
type AWSConfig struct {
	Region          string            `mapstructure:"region"`
	RoleARN         string            `mapstructure:"role_arn"`
	RoleSessionName string            `mapstructure:"role_session_name"`
	ExternalID      string            `mapstructure:"external_id"`
	SQS             SQSConfig         `mapstructure:"sqs"`
	Marketplace     MarketplaceConfig `mapstructure:"marketplace"`
}

// SQSConfig holds the marketplace notification queue settings.
type SQSConfig struct {
	// QueueURL is the full URL of the subscription notification queue.
	QueueURL string `mapstructure:"queue_url"`
	// MaxMessages is the ReceiveMessage batch size (1-10).
	MaxMessages int32 `mapstructure:"max_messages"`
	// WaitTimeSeconds is the long-poll wait passed to ReceiveMessage.
	WaitTimeSeconds int32 `mapstructure:"wait_time_seconds"`
	// PollInterval is the pause between poll iterations.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// MarketplaceConfig holds AWS Marketplace product settings.
type MarketplaceConfig struct {
	// ProductCode identifies the listed product in BatchMeterUsage calls.
	ProductCode string `mapstructure:"product_code"`
	// CheckoutRedirectURL is where the checkout endpoint sends the customer
	// after a successful ResolveCustomer.
	CheckoutRedirectURL string `mapstructure:"checkout_redirect_url"`
	// CookieDomain scopes the customer-identity cookies set during checkout.
	CookieDomain string `mapstructure:"cookie_domain"`
}

// IdentityConfig holds the identity provider admin API settings used to count
// organization members. Authentication uses the OAuth2 client credentials
// grant against TokenURL.
type IdentityConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Realm        string `mapstructure:"realm"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
}

// JobsConfig holds background job scheduling configuration.
type JobsConfig struct {
	// Enabled globally toggles the scheduled jobs. The CLI subcommands run the
	// same operations regardless of this flag.
	Enabled bool `mapstructure:"enabled"`
	// TierUpdateIntervalHours controls the tier recalculation job (default 24).
	TierUpdateIntervalHours int `mapstructure:"tier_update_interval_hours"`
	// MeteringIntervalHours controls the metered report job (default 1).
	MeteringIntervalHours int `mapstructure:"metering_interval_hours"`
	// CloudCleanupIntervalHours controls the expired-subscription cleanup job (default 24).
	CloudCleanupIntervalHours int `mapstructure:"cloud_cleanup_interval_hours"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.catalog_name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// AWS
		"aws.region",
		"aws.role_arn",
		"aws.role_session_name",
		"aws.external_id",
		"aws.sqs.queue_url",
		"aws.sqs.max_messages",
		"aws.sqs.wait_time_seconds",
		"aws.sqs.poll_interval",
		"aws.marketplace.product_code",
		"aws.marketplace.checkout_redirect_url",
		"aws.marketplace.cookie_domain",

		// Identity
		"identity.base_url",
		"identity.realm",
		"identity.client_id",
		"identity.client_secret",
		"identity.token_url",

		// Jobs
		"jobs.enabled",
		"jobs.tier_update_interval_hours",
		"jobs.metering_interval_hours",
		"jobs.cloud_cleanup_interval_hours",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/vantage-billing")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("VNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Identity.ClientSecret = os.ExpandEnv(cfg.Identity.ClientSecret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.catalog_name", "postgres")
	v.SetDefault("database.user", "vantage")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// AWS defaults
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.role_session_name", "vantage-billing")
	v.SetDefault("aws.sqs.max_messages", 1)
	v.SetDefault("aws.sqs.wait_time_seconds", 20)
	v.SetDefault("aws.sqs.poll_interval", "5s")

	// Identity defaults
	v.SetDefault("identity.realm", "vantage")

	// Jobs defaults
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.tier_update_interval_hours", 24)
	v.SetDefault("jobs.metering_interval_hours", 1)
	v.SetDefault("jobs.cloud_cleanup_interval_hours", 24)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "vantage-billing")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.CatalogName == "" {
		return fmt.Errorf("database.catalog_name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.AWS.SQS.QueueURL != "" {
		if c.AWS.Region == "" {
			return fmt.Errorf("aws.region is required when aws.sqs.queue_url is set")
		}
		if c.AWS.SQS.MaxMessages < 1 || c.AWS.SQS.MaxMessages > 10 {
			return fmt.Errorf("aws.sqs.max_messages must be between 1 and 10, got %d", c.AWS.SQS.MaxMessages)
		}
		if c.AWS.SQS.WaitTimeSeconds < 0 || c.AWS.SQS.WaitTimeSeconds > 20 {
			return fmt.Errorf("aws.sqs.wait_time_seconds must be between 0 and 20, got %d", c.AWS.SQS.WaitTimeSeconds)
		}
		if c.AWS.SQS.PollInterval <= 0 {
			return fmt.Errorf("aws.sqs.poll_interval must be positive")
		}
	}

	if c.AWS.RoleARN != "" && c.AWS.RoleSessionName == "" {
		return fmt.Errorf("aws.role_session_name is required when aws.role_arn is set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
