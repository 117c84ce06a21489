package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/models"
)

// SecretCipher seals secrets before they reach the database.
type SecretCipher interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(ciphertext string) (string, error)
}

// CredentialStore persists robot credentials. Records handed to and returned from the store hold
// plaintext secrets; ClientSecret and AccessToken are encrypted on the way in.
type CredentialStore struct {
	db     *gorm.DB
	cipher SecretCipher
}

// NewCredentialStore constructs a credential store.
func NewCredentialStore(db *gorm.DB, cipher SecretCipher) (*CredentialStore, error) {
	if db == nil {
		return nil, errors.New("credential store: db is required")
	}
	if cipher == nil {
		return nil, errors.New("credential store: cipher is required")
	}
	return &CredentialStore{db: db, cipher: cipher}, nil
}

// Get loads and decrypts the credentials for userID.
func (s *CredentialStore) Get(ctx context.Context, userID string) (*models.CredentialCache, error) {
	var record models.CredentialCache
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error; err != nil {
		return nil, translate(err)
	}

	secret, err := s.cipher.DecryptString(record.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("credential store: client secret: %w", err)
	}
	record.ClientSecret = secret

	if record.AccessToken != nil {
		token, err := s.cipher.DecryptString(*record.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("credential store: access token: %w", err)
		}
		record.AccessToken = &token
	}

	return &record, nil
}

// Create inserts credentials for a user that has none yet.
func (s *CredentialStore) Create(ctx context.Context, record *models.CredentialCache) error {
	if record == nil {
		return errors.New("credential store: record is required")
	}

	sealed := *record
	sealed.Revision = 0
	secret, err := s.cipher.EncryptString(record.ClientSecret)
	if err != nil {
		return fmt.Errorf("credential store: encrypt secret: %w", err)
	}
	sealed.ClientSecret = secret
	if record.AccessToken != nil {
		token, err := s.cipher.EncryptString(*record.AccessToken)
		if err != nil {
			return fmt.Errorf("credential store: encrypt token: %w", err)
		}
		sealed.AccessToken = &token
	}

	if err := s.db.WithContext(ctx).Create(&sealed).Error; err != nil {
		return translate(err)
	}

	record.ID = sealed.ID
	record.CreatedAt = sealed.CreatedAt
	record.UpdatedAt = sealed.UpdatedAt
	record.Revision = 0
	return nil
}

// UpdateCredentials writes the client credential columns only. Cached token columns are left as stored.
func (s *CredentialStore) UpdateCredentials(ctx context.Context, record *models.CredentialCache) error {
	secret, err := s.cipher.EncryptString(record.ClientSecret)
	if err != nil {
		return fmt.Errorf("credential store: encrypt secret: %w", err)
	}
	return s.update(ctx, record, map[string]any{
		"client_id":     record.ClientID,
		"client_secret": secret,
		"store_id":      record.StoreID,
		"scene_code":    record.SceneCode,
	})
}

// UpdateToken writes the cached bearer token columns only.
func (s *CredentialStore) UpdateToken(ctx context.Context, record *models.CredentialCache) error {
	var sealed *string
	if record.AccessToken != nil {
		token, err := s.cipher.EncryptString(*record.AccessToken)
		if err != nil {
			return fmt.Errorf("credential store: encrypt token: %w", err)
		}
		sealed = &token
	}
	return s.update(ctx, record, map[string]any{
		"access_token":     sealed,
		"token_expires_at": record.TokenExpiresAt,
	})
}

func (s *CredentialStore) update(ctx context.Context, record *models.CredentialCache, columns map[string]any) error {
	if record == nil || record.ID == "" {
		return errors.New("credential store: persisted record is required")
	}

	next := record.Revision + 1
	columns["revision"] = next
	result := s.db.WithContext(ctx).
		Model(&models.CredentialCache{}).
		Where("id = ? AND revision = ?", record.ID, record.Revision).
		Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("credential store: update: %w", translate(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}

	record.Revision = next
	return nil
}
