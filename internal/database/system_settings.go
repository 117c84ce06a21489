package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/robotdesk/internal/models"
)

const (
	VaultEncryptionKeySetting = "vault.encryption_key"
	JWTSecretSetting          = "auth.jwt.secret"
)

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{Key: key, Value: value}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}

	return nil
}

// ResolveGeneratedSecret keeps runtime generated secrets stable across restarts.
// When generated is true and a value was persisted earlier, the persisted value wins.
// Otherwise the candidate is stored and returned.
func ResolveGeneratedSecret(ctx context.Context, db *gorm.DB, key, candidate string, generated bool) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("system settings: %s is empty", key)
	}

	current, err := GetSystemSetting(ctx, db, key)
	if err != nil {
		return "", err
	}
	current = strings.TrimSpace(current)

	if generated && current != "" {
		return current, nil
	}
	if current == candidate {
		return candidate, nil
	}
	if err := UpsertSystemSetting(ctx, db, key, candidate); err != nil {
		return "", err
	}
	return candidate, nil
}
