package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/robotdesk/internal/app"
	"github.com/charlesng35/robotdesk/internal/database"
	"github.com/charlesng35/robotdesk/internal/database/testutil"
)

func testRuntimeConfig(t *testing.T) *app.Config {
	t.Helper()
	return &app.Config{
		Server: app.ServerConfig{
			RateLimit: app.RateLimitConfig{Requests: 10, Window: time.Minute},
		},
		Database: app.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "robotdesk.sqlite"),
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
		Verification: app.VerificationConfig{ExpirationMinutes: 10, BaseURL: "http://localhost:5173"},
		Robot:        app.RobotConfig{BaseURL: "http://127.0.0.1:1", DefaultSceneCode: "HU29fr"},
		Maintenance: app.MaintenanceConfig{
			CachePurgeSchedule:   "@hourly",
			CallLogSchedule:      "@daily",
			CallLogRetentionDays: 30,
		},
	}
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg := testRuntimeConfig(t)
	generated, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	stack, err := bootstrapRuntime(context.Background(), cfg, generated, zap.NewNop())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	for _, component := range []string{"database", "redis", "maintenance"} {
		require.Contains(t, w.Body.String(), `"component":"`+component+`"`)
	}
	require.Contains(t, w.Body.String(), `"healthy":true`)

	storedSecret, err := database.GetSystemSetting(context.Background(), stack.DB, database.JWTSecretSetting)
	require.NoError(t, err)
	require.Equal(t, cfg.Auth.JWT.Secret, storedSecret)

	require.NoError(t, stack.Shutdown(context.Background(), zap.NewNop()))
}

func TestBootstrapRuntimeRejectsUnknownEmailProvider(t *testing.T) {
	cfg := testRuntimeConfig(t)
	cfg.Email.Provider = "fax"
	generated, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	_, err = bootstrapRuntime(context.Background(), cfg, generated, zap.NewNop())
	require.ErrorContains(t, err, "unsupported provider")
}

func TestResolveSecretsKeepsGeneratedValuesAcrossRestarts(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	first := &app.Config{}
	generated, err := app.ApplyRuntimeDefaults(first)
	require.NoError(t, err)
	require.NoError(t, resolveSecrets(ctx, db, first, generated))

	second := &app.Config{}
	generated, err = app.ApplyRuntimeDefaults(second)
	require.NoError(t, err)
	require.NotEqual(t, first.Auth.JWT.Secret, second.Auth.JWT.Secret)
	require.NoError(t, resolveSecrets(ctx, db, second, generated))

	require.Equal(t, first.Auth.JWT.Secret, second.Auth.JWT.Secret)
	require.Equal(t, first.Vault.EncryptionKey, second.Vault.EncryptionKey)

	explicit := &app.Config{}
	explicit.Auth.JWT.Secret = "operator-supplied-secret"
	explicit.Vault.EncryptionKey = strings.Repeat("cd", 32)
	generated, err = app.ApplyRuntimeDefaults(explicit)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.NoError(t, resolveSecrets(ctx, db, explicit, generated))
	require.Equal(t, "operator-supplied-secret", explicit.Auth.JWT.Secret)

	stored, err := database.GetSystemSetting(ctx, db, database.VaultEncryptionKeySetting)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("cd", 32), stored)
}

func TestEnsureSecretsPresent(t *testing.T) {
	_, err := ensureSecretsPresent(nil)
	require.Error(t, err)

	cfg := &app.Config{}
	_, err = ensureSecretsPresent(cfg)
	require.ErrorContains(t, err, "auth.jwt.secret")

	cfg.Auth.JWT.Secret = " secret "
	cfg.Vault.EncryptionKey = "tiny"
	_, err = ensureSecretsPresent(cfg)
	require.ErrorContains(t, err, "vault.encryption_key")

	cfg.Vault.EncryptionKey = strings.Repeat("ab", 16)
	key, err := ensureSecretsPresent(cfg)
	require.NoError(t, err)
	require.Len(t, key, 16)
	require.Equal(t, "secret", cfg.Auth.JWT.Secret)
}

func TestLoadApplicationConfig(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.ErrorContains(t, err, "does not exist")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))

	cfg, err := loadApplicationConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)

	cfg, err = loadApplicationConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
}
