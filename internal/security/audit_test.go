package security

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/robotdesk/internal/app"
)

func secureConfig() *app.Config {
	return &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: strings.Repeat("s", 64), TTL: 15 * time.Minute},
		},
		Vault:        app.VaultConfig{EncryptionKey: strings.Repeat("ab", 32)},
		Email:        app.EmailConfig{Provider: "smtp", From: "desk@example.com"},
		Verification: app.VerificationConfig{BaseURL: "https://desk.example.com"},
		Robot:        app.RobotConfig{BaseURL: "https://robots.example.com"},
	}
}

func statuses(result Result) map[string]CheckStatus {
	out := make(map[string]CheckStatus, len(result.Checks))
	for _, check := range result.Checks {
		out[check.ID] = check.Status
	}
	return out
}

func TestAuditServiceRunPasses(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	result := NewAuditService(secureConfig(), clockwork.NewFakeClockAt(now)).Run()

	require.Equal(t, now, result.CheckedAt)
	require.False(t, result.Failed())
	require.Equal(t, len(result.Checks), result.Summary[string(StatusPass)])
}

func TestAuditServiceFlagsWeakSettings(t *testing.T) {
	cfg := secureConfig()
	cfg.Auth.JWT.Secret = "short"
	cfg.Auth.JWT.TTL = 72 * time.Hour
	cfg.Vault.EncryptionKey = strings.Repeat("cd", 20)
	cfg.Email.Provider = "none"
	cfg.Verification.BaseURL = "http://desk.example.com"
	cfg.Robot.BaseURL = "not a url"

	result := NewAuditService(cfg, nil).Run()
	require.True(t, result.Failed())

	got := statuses(result)
	require.Equal(t, StatusFail, got["jwt_secret_strength"])
	require.Equal(t, StatusWarn, got["access_token_ttl"])
	require.Equal(t, StatusWarn, got["vault_encryption_key"])
	require.Equal(t, StatusWarn, got["email_delivery"])
	require.Equal(t, StatusWarn, got["verification_base_url"])
	require.Equal(t, StatusFail, got["robot_api_transport"])
}

func TestAuditServiceAllowsLoopbackHTTP(t *testing.T) {
	cfg := secureConfig()
	cfg.Verification.BaseURL = "http://localhost:5173"
	cfg.Robot.BaseURL = "http://127.0.0.1:8080"

	got := statuses(NewAuditService(cfg, nil).Run())
	require.Equal(t, StatusPass, got["verification_base_url"])
	require.Equal(t, StatusPass, got["robot_api_transport"])
}

func TestAuditServiceMissingVaultKey(t *testing.T) {
	cfg := secureConfig()
	cfg.Vault.EncryptionKey = ""

	got := statuses(NewAuditService(cfg, nil).Run())
	require.Equal(t, StatusFail, got["vault_encryption_key"])
}

func TestAuditServiceNilConfig(t *testing.T) {
	result := NewAuditService(nil, nil).Run()
	require.True(t, result.Failed())
	require.Len(t, result.Checks, 1)
}

func TestResultLogSkipsPassingChecks(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	cfg := secureConfig()
	cfg.Email.Provider = ""
	NewAuditService(cfg, nil).Run().Log(zap.New(core))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zap.WarnLevel, entries[0].Level)
	require.Equal(t, "email_delivery", entries[0].ContextMap()["check"])
}
