package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/charlesng35/robotdesk/internal/cache"
)

// Config represents the runtime configuration for the robotdesk backend.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Vault        VaultConfig        `mapstructure:"vault"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Email        EmailConfig        `mapstructure:"email"`
	Verification VerificationConfig `mapstructure:"verification"`
	Robot        RobotConfig        `mapstructure:"robot"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	CORSOrigins     []string        `mapstructure:"cors_origins"`
	StrictTransport bool            `mapstructure:"strict_transport"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests to the verification endpoints per client.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
	Pool     DBPoolConfig `mapstructure:"pool"`
}

// DBPoolConfig sizes the connection pool. Zero values keep the driver defaults.
type DBPoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options. KeyPrefix namespaces rate-limit counters when
// several deployments share one Redis.
type RedisCacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TLS       bool          `mapstructure:"tls"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// VaultConfig holds the master key protecting stored robot credentials.
type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	Provider string        `mapstructure:"provider"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
	SMTP     SMTPConfig    `mapstructure:"smtp"`
	Resend   ResendConfig  `mapstructure:"resend"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ResendConfig configures the Resend API transport.
type ResendConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// VerificationConfig configures email verification tokens.
type VerificationConfig struct {
	ExpirationMinutes int    `mapstructure:"expiration_minutes"`
	BaseURL           string `mapstructure:"base_url"`
}

// RobotConfig configures the upstream robot API client.
type RobotConfig struct {
	BaseURL                string        `mapstructure:"base_url"`
	Timeout                time.Duration `mapstructure:"timeout"`
	DefaultSceneCode       string        `mapstructure:"default_scene_code"`
	DefaultTokenLifetime   time.Duration `mapstructure:"default_token_lifetime"`
	TokenRequestsPerMinute int           `mapstructure:"token_requests_per_minute"`
}

// MaintenanceConfig schedules housekeeping jobs.
type MaintenanceConfig struct {
	CachePurgeSchedule   string `mapstructure:"cache_purge_schedule"`
	CallLogSchedule      string `mapstructure:"call_log_schedule"`
	CallLogRetentionDays int    `mapstructure:"call_log_retention_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("ROBOTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.strict_transport", false)
	v.SetDefault("server.rate_limit.requests", 10)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/robotdesk.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", cache.DefaultKeyPrefix)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("auth.jwt.issuer", "robotdesk")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("email.provider", "none")
	v.SetDefault("email.from", "")
	v.SetDefault("email.timeout", "30s")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("verification.expiration_minutes", 10)
	v.SetDefault("verification.base_url", "http://localhost:5173")

	v.SetDefault("robot.base_url", "https://es.robotkeenon.com")
	v.SetDefault("robot.timeout", "30s")
	v.SetDefault("robot.default_scene_code", "HU29fr")
	v.SetDefault("robot.default_token_lifetime", "3600s")
	v.SetDefault("robot.token_requests_per_minute", 30)

	v.SetDefault("maintenance.cache_purge_schedule", "@hourly")
	v.SetDefault("maintenance.call_log_schedule", "@daily")
	v.SetDefault("maintenance.call_log_retention_days", 30)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// driverBlock returns the host settings matching the configured driver.
func (c DatabaseConfig) driverBlock() DBAuthConfig {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql":
		return c.Postgres
	case "mysql", "mariadb":
		return c.MySQL
	default:
		return DBAuthConfig{}
	}
}
