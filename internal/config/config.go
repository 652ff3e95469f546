package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-in-production"

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Log         LogConfig         `mapstructure:"log"`
	Invitation  InvitationConfig  `mapstructure:"invitation"`
	Mail        MailConfig        `mapstructure:"mail"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "development" or "production"
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"` // IPs or CIDRs allowed to set X-Forwarded-For
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`            // "sqlite" or "postgres"
	DSN             string `mapstructure:"dsn"`               // Connection string
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`    // Maximum idle connections (Postgres)
	MaxOpenConns    int    `mapstructure:"max_open_conns"`    // Maximum open connections (Postgres)
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // Connection max lifetime in minutes (Postgres)
	LogLevel        string `mapstructure:"log_level"`         // gorm logger: "silent", "error", "warn", "info"
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Type             string        `mapstructure:"type"`       // "basic" or "oidc"
	JWTSecret        string        `mapstructure:"jwt_secret"` // Secret for JWT signing
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	TrustProxy       bool          `mapstructure:"trust_proxy"`        // Accept IdToken cookies from an authenticating proxy
	ProxyAdminGroups string        `mapstructure:"proxy_admin_groups"` // Comma-separated groups that grant operator status
	OIDC             OIDCConfig    `mapstructure:"oidc"`
}

// OIDCConfig holds OpenID Connect settings (auth.type=oidc)
type OIDCConfig struct {
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// QueueConfig holds notification queue configuration
type QueueConfig struct {
	Type       string `mapstructure:"type"`        // "memory" or "valkey"
	ValkeyAddr string `mapstructure:"valkey_addr"` // Valkey address (if type=valkey), e.g., "localhost:6379"
	BufferSize int    `mapstructure:"buffer_size"` // In-memory queue capacity
}

// LogConfig holds logging configuration
type LogConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// InvitationConfig holds invitation settings
type InvitationConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	AcceptURL string        `mapstructure:"accept_url"` // Link in e-mails; the token is appended as ?token=
}

// MailConfig selects how invitation e-mails are delivered
type MailConfig struct {
	Provider       string `mapstructure:"provider"` // "log" or "sendgrid"
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromAddress    string `mapstructure:"from_address"`
	FromName       string `mapstructure:"from_name"`
}

// WorkerConfig holds notification worker settings
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// MaintenanceConfig schedules the owner membership repair
type MaintenanceConfig struct {
	RepairSchedule  string `mapstructure:"repair_schedule"` // cron spec; empty disables
	RepairOnStartup bool   `mapstructure:"repair_on_startup"`
}

// RateLimitConfig limits invitation redemption attempts per client
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// MetricsConfig exposes Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8460)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./realfolio.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60) // 60 minutes
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("auth.type", "basic")
	v.SetDefault("auth.jwt_secret", defaultJWTSecret)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.trust_proxy", false)
	v.SetDefault("auth.proxy_admin_groups", "")
	v.SetDefault("auth.oidc.issuer_url", "")
	v.SetDefault("auth.oidc.client_id", "")
	v.SetDefault("auth.oidc.client_secret", "")
	v.SetDefault("auth.oidc.redirect_url", "")
	v.SetDefault("auth.oidc.scopes", []string{})
	v.SetDefault("queue.type", "memory")
	v.SetDefault("queue.valkey_addr", "localhost:6379")
	v.SetDefault("queue.buffer_size", 100)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("invitation.ttl", "168h")
	v.SetDefault("invitation.accept_url", "http://localhost:8460/invitations/accept")
	v.SetDefault("mail.provider", "log")
	v.SetDefault("mail.sendgrid_api_key", "")
	v.SetDefault("mail.from_address", "no-reply@realfolio.local")
	v.SetDefault("mail.from_name", "Realfolio")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("maintenance.repair_schedule", "@daily")
	v.SetDefault("maintenance.repair_on_startup", true)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads configuration from the default locations and environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path, or from ./config.yaml and
// /etc/realfolio/config.yaml when path is empty. A .env file in the working
// directory is loaded first; variables already set in the environment win.
// REALFOLIO_* variables override file values.
func LoadFile(path string) (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/realfolio/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults
	}

	// Environment variables override
	v.SetEnvPrefix("REALFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Queue.Type {
	case "memory", "valkey":
	default:
		return fmt.Errorf("unsupported queue type: %s (supported: memory, valkey)", c.Queue.Type)
	}
	switch c.Mail.Provider {
	case "log":
	case "sendgrid":
		if c.Mail.SendGridAPIKey == "" {
			return errors.New("mail.sendgrid_api_key is required when mail.provider is sendgrid")
		}
	default:
		return fmt.Errorf("unsupported mail provider: %s (supported: log, sendgrid)", c.Mail.Provider)
	}
	switch c.Auth.Type {
	case "basic":
	case "oidc":
		if c.Auth.OIDC.IssuerURL == "" || c.Auth.OIDC.ClientID == "" {
			return errors.New("auth.oidc.issuer_url and auth.oidc.client_id are required when auth.type is oidc")
		}
	default:
		return fmt.Errorf("unsupported auth type: %s (supported: basic, oidc)", c.Auth.Type)
	}
	if c.Server.Mode == "production" && c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("auth.jwt_secret must be set in production mode")
	}
	if c.Invitation.TTL <= 0 {
		return errors.New("invitation.ttl must be positive")
	}
	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p)
			}
		}
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit.rps and rate_limit.burst must be positive when rate limiting is enabled")
	}
	return nil
}
