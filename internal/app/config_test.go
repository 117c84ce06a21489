package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/robotdesk/internal/auth"
	"github.com/charlesng35/robotdesk/internal/cache"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, []string{"https://desk.example.com"}, cfg.Server.CORSOrigins)
	require.True(t, cfg.Server.StrictTransport)
	require.Equal(t, 5, cfg.Server.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, "require", cfg.Database.Postgres.Options["sslmode"])

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.Equal(t, "smtp", cfg.Email.Provider)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.Equal(t, 20, cfg.Verification.ExpirationMinutes)
	require.Equal(t, "https://desk.example.com", cfg.Verification.BaseURL)

	require.Equal(t, "https://robots.example.com", cfg.Robot.BaseURL)
	require.Equal(t, 12*time.Second, cfg.Robot.Timeout)
	require.Equal(t, "LOBBY1", cfg.Robot.DefaultSceneCode)
	require.Equal(t, 2*time.Hour, cfg.Robot.DefaultTokenLifetime)
	require.Equal(t, 6, cfg.Robot.TokenRequestsPerMinute)

	require.Equal(t, "@every 30m", cfg.Maintenance.CachePurgeSchedule)
	require.Equal(t, 14, cfg.Maintenance.CallLogRetentionDays)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, 10, cfg.Server.RateLimit.Requests)
	require.Equal(t, time.Minute, cfg.Server.RateLimit.Window)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, EmailProviderNone, cfg.Email.Provider)
	require.Equal(t, 30*time.Second, cfg.Email.Timeout)
	require.Equal(t, 10, cfg.Verification.ExpirationMinutes)
	require.Equal(t, "HU29fr", cfg.Robot.DefaultSceneCode)
	require.Equal(t, 3600*time.Second, cfg.Robot.DefaultTokenLifetime)
	require.Equal(t, 30, cfg.Maintenance.CallLogRetentionDays)
	require.Empty(t, cfg.Auth.JWT.Secret)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{JWT: JWTSettings{Secret: "secret", Issuer: "issuer", TTL: 30 * time.Minute}}
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.JWTServiceConfig())

	var empty AuthConfig
	require.Equal(t, auth.DefaultAccessTokenTTL, empty.JWTServiceConfig().AccessTokenTTL)
}

func TestEmailConfigAdapter(t *testing.T) {
	cfg := EmailConfig{
		Provider: "SMTP",
		From:     "no-reply@example.com",
		SMTP: SMTPConfig{
			Host:     "smtp.example.com",
			Port:     2525,
			Username: "user",
			Password: "pass",
			UseTLS:   true,
			Timeout:  10 * time.Second,
		},
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.True(t, settings.UseTLS)
	require.Equal(t, 10*time.Second, settings.Timeout)

	cfg.Provider = "resend"
	cfg.Timeout = 20 * time.Second
	require.False(t, cfg.SMTPSettings().Enabled)
	require.Equal(t, 20*time.Second, cfg.ResendSettings().Timeout)
}

func TestMailerFromConfig(t *testing.T) {
	mailer, err := MailerFromConfig(EmailConfig{})
	require.NoError(t, err)
	require.NotNil(t, mailer)

	_, err = MailerFromConfig(EmailConfig{Provider: "smtp"})
	require.ErrorContains(t, err, "host is required")

	_, err = MailerFromConfig(EmailConfig{Provider: "resend"})
	require.ErrorContains(t, err, "api key")

	mailer, err = MailerFromConfig(EmailConfig{Provider: "resend", From: "desk@example.com", Resend: ResendConfig{APIKey: "re_test"}})
	require.NoError(t, err)
	require.NotNil(t, mailer)

	_, err = MailerFromConfig(EmailConfig{Provider: "carrier-pigeon"})
	require.ErrorContains(t, err, "unsupported provider")
}

func TestRedisClientConfig(t *testing.T) {
	cfg := CacheConfig{Redis: RedisCacheConfig{
		Enabled:   true,
		Address:   " redis:6379 ",
		Username:  " desk ",
		Password:  "secret",
		DB:        3,
		TLS:       true,
		Timeout:   2 * time.Second,
		KeyPrefix: " staging ",
	}}

	require.Equal(t, cache.RedisConfig{
		Address:   "redis:6379",
		Username:  "desk",
		Password:  "secret",
		DB:        3,
		TLS:       true,
		Timeout:   2 * time.Second,
		KeyPrefix: "staging:",
	}, cfg.RedisClientConfig())
}

func TestRedisKeyPrefix(t *testing.T) {
	require.Equal(t, cache.DefaultKeyPrefix, RedisKeyPrefix(""))
	require.Equal(t, cache.DefaultKeyPrefix, RedisKeyPrefix(" : "))
	require.Equal(t, "desk-eu:", RedisKeyPrefix("desk-eu"))
	require.Equal(t, "desk-eu:", RedisKeyPrefix("desk-eu:"))
}

func TestRobotClientConfig(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := RobotConfig{
		BaseURL:                "https://robots.example.com",
		Timeout:                5 * time.Second,
		DefaultTokenLifetime:   time.Hour,
		TokenRequestsPerMinute: 12,
	}

	clientCfg := cfg.ClientConfig(clock)
	require.Equal(t, "https://robots.example.com", clientCfg.BaseURL)
	require.Equal(t, 5*time.Second, clientCfg.Timeout)
	require.Equal(t, time.Hour, clientCfg.DefaultTokenLifetime)
	require.Equal(t, 12, clientCfg.TokenRequestsPerMinute)
	require.Equal(t, clock, clientCfg.Clock)
}

func TestDatabaseConnectionConfig(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "mysql",
		MySQL: DBAuthConfig{
			Host:     "mysql.example.com",
			Port:     3307,
			Database: "desk",
			Username: "root",
			Password: "pw",
		},
		Postgres: DBAuthConfig{Host: "ignored"},
		Pool:     DBPoolConfig{MaxOpenConns: 8, ConnMaxLifetime: time.Minute},
	}

	conn := cfg.ConnectionConfig()
	require.Equal(t, 8, conn.Pool.MaxOpenConns)
	require.Zero(t, conn.Pool.MaxIdleConns)
	require.Equal(t, time.Minute, conn.Pool.ConnMaxLifetime)
	require.Equal(t, "mysql", conn.Driver)
	require.Equal(t, "mysql.example.com", conn.Host)
	require.Equal(t, 3307, conn.Port)
	require.Equal(t, "desk", conn.Name)
	require.Equal(t, "root", conn.User)

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data/desk.sqlite"}.ConnectionConfig()
	require.Equal(t, "./data/desk.sqlite", sqlite.Path)
	require.Empty(t, sqlite.Host)
}
