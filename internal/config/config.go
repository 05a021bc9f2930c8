// Package config loads service configuration.
//
// Sources, lowest precedence first:
//  1. defaults
//  2. config.yaml (optional)
//  3. environment variables with standard names (DATABASE_URL, SERVER_PORT,
//     NOTIFICATION_DISPATCH_TIMEOUT)
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	River        RiverConfig        `mapstructure:"river"`
	Security     SecurityConfig     `mapstructure:"security"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Notification NotificationConfig `mapstructure:"notification"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings. The pool is shared
// by the stores and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// RedisConfig enables the shared delivery claim. An empty URL keeps claims
// in process, which is only correct for a single replica.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains security-related settings. Missing secrets are
// generated on boot.
type SecurityConfig struct {
	// EncryptionKey is the hex encoded 32 byte key sealing channel tokens.
	EncryptionKey       string   `mapstructure:"encryption_key"`
	SessionSecret       string   `mapstructure:"session_secret"`
	JWTVerificationKeys []string `mapstructure:"jwt_verification_keys"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize  int `mapstructure:"general_pool_size"`
	DispatchPoolSize int `mapstructure:"dispatch_pool_size"`
}

// NotificationConfig contains channel endpoints and dispatch tuning.
type NotificationConfig struct {
	Template TemplateChannelConfig `mapstructure:"template"`
	Text     TextChannelConfig     `mapstructure:"text"`

	// DispatchTimeout bounds one trigger end to end. Candidates still pending
	// when it fires are reported as DISPATCH_TIMEOUT and re-enqueued.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ClaimTTL        time.Duration `mapstructure:"claim_ttl"`
	RecordTimeout   time.Duration `mapstructure:"record_timeout"`
	Retention       time.Duration `mapstructure:"retention"`

	// CatalogPath overrides the embedded message catalog.
	CatalogPath   string `mapstructure:"catalog_path"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Timezone      string `mapstructure:"timezone"`
}

type TemplateChannelConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	ProfileKey string        `mapstructure:"profile_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ExpirySkew time.Duration `mapstructure:"expiry_skew"`
}

type TextChannelConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	SenderName string        `mapstructure:"sender_name"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Location resolves Timezone, defaulting to UTC.
func (c NotificationConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// TracingConfig enables OTLP/HTTP export. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/promise")

	// database.max_conns -> DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Security.SessionSecret == "" {
		return fmt.Errorf("security.session_secret must not be empty")
	}
	if len(c.Security.SessionSecret) < 32 {
		return fmt.Errorf("security.session_secret must be at least 32 characters")
	}
	if key, err := hex.DecodeString(c.Security.EncryptionKey); err != nil || len(key) != 32 {
		return fmt.Errorf("security.encryption_key must be 64 hex characters")
	}
	if c.Notification.DispatchTimeout <= 0 {
		return fmt.Errorf("notification.dispatch_timeout must be positive")
	}
	if c.Notification.RetryBackoff >= c.Notification.DispatchTimeout {
		return fmt.Errorf("notification.retry_backoff must be shorter than notification.dispatch_timeout")
	}
	if _, err := c.Notification.Location(); err != nil {
		return fmt.Errorf("notification.timezone: %w", err)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// ensureSecrets generates missing secrets. Generated values do not survive a
// restart, so sealed tokens become unreadable unless the key is configured.
func (c *Config) ensureSecrets() error {
	if c.Security.SessionSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate session secret: %w", err)
		}
		c.Security.SessionSecret = secret
		logBootstrapWarn(
			"auto-generated session_secret; set SECURITY_SESSION_SECRET env var for persistence",
			zap.Int("length", len(secret)),
		)
	}
	if c.Security.EncryptionKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate encryption key: %w", err)
		}
		c.Security.EncryptionKey = key
		logBootstrapWarn(
			"auto-generated encryption_key; set SECURITY_ENCRYPTION_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "promise")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "promise")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.url", "")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	v.SetDefault("security.jwt_verification_keys", []string{})

	// Worker pools
	v.SetDefault("worker.general_pool_size", 64)
	v.SetDefault("worker.dispatch_pool_size", 32)

	// Notification
	v.SetDefault("notification.template.base_url", "https://kapi.kakao.com")
	v.SetDefault("notification.template.profile_key", "")
	v.SetDefault("notification.template.timeout", "5s")
	v.SetDefault("notification.template.expiry_skew", "30s")
	v.SetDefault("notification.text.base_url", "")
	v.SetDefault("notification.text.api_key", "")
	v.SetDefault("notification.text.sender_name", "Promise")
	v.SetDefault("notification.text.timeout", "5s")
	v.SetDefault("notification.dispatch_timeout", "10s")
	v.SetDefault("notification.retry_backoff", "200ms")
	v.SetDefault("notification.claim_ttl", "30s")
	v.SetDefault("notification.record_timeout", "5s")
	v.SetDefault("notification.retention", "2160h")
	v.SetDefault("notification.catalog_path", "")
	v.SetDefault("notification.public_base_url", "http://localhost:3000")
	v.SetDefault("notification.timezone", "UTC")

	// Tracing
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "promise-service")
	v.SetDefault("tracing.sample_ratio", 1.0)
}
