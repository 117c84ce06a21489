package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
	if err := Ping(db); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestAutoMigrateCreatesTokenTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.User{},
		&models.VerificationToken{},
		&models.CredentialCache{},
		&models.RobotCallLog{},
		&models.RateCounter{},
		&models.SystemSetting{},
	}
	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
	require.True(t, migrator.HasIndex(&models.VerificationToken{}, "TokenHash"), "expected unique token hash index")
}

func TestResolveGeneratedSecret(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	value, err := ResolveGeneratedSecret(ctx, db, VaultEncryptionKeySetting, "first", true)
	require.NoError(t, err)
	require.Equal(t, "first", value)

	// a later boot generating a fresh key keeps the persisted one
	value, err = ResolveGeneratedSecret(ctx, db, VaultEncryptionKeySetting, "second", true)
	require.NoError(t, err)
	require.Equal(t, "first", value)

	// an explicitly configured key replaces it
	value, err = ResolveGeneratedSecret(ctx, db, VaultEncryptionKeySetting, "configured", false)
	require.NoError(t, err)
	require.Equal(t, "configured", value)

	stored, err := GetSystemSetting(ctx, db, VaultEncryptionKeySetting)
	require.NoError(t, err)
	require.Equal(t, "configured", stored)

	_, err = ResolveGeneratedSecret(ctx, db, JWTSecretSetting, "  ", true)
	require.Error(t, err)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
