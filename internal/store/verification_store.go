package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/models"
)

// VerificationStore persists verification tokens keyed by user and token hash.
type VerificationStore struct {
	db *gorm.DB
}

// NewVerificationStore constructs a store on top of db.
func NewVerificationStore(db *gorm.DB) *VerificationStore {
	return &VerificationStore{db: db}
}

// WithTx returns a copy bound to the supplied transaction.
func (s *VerificationStore) WithTx(tx *gorm.DB) *VerificationStore {
	return &VerificationStore{db: tx}
}

// Get loads the token belonging to userID.
func (s *VerificationStore) Get(ctx context.Context, userID string) (*models.VerificationToken, error) {
	var record models.VerificationToken
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error; err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

// GetByTokenHash loads the token whose current value hashes to hash.
func (s *VerificationStore) GetByTokenHash(ctx context.Context, hash string) (*models.VerificationToken, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, ErrNotFound
	}
	var record models.VerificationToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hash).Take(&record).Error; err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

// Create inserts a new record. A second record for the same user or hash yields ErrDuplicate.
func (s *VerificationStore) Create(ctx context.Context, record *models.VerificationToken) error {
	if record == nil {
		return errors.New("verification store: record is required")
	}
	record.Revision = 0
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return translate(err)
	}
	return nil
}

// Save writes every mutable column when the stored revision still matches record.Revision.
// On success the in-memory revision is advanced.
func (s *VerificationStore) Save(ctx context.Context, record *models.VerificationToken) error {
	if record == nil || record.ID == "" {
		return errors.New("verification store: persisted record is required")
	}

	next := record.Revision + 1
	result := s.db.WithContext(ctx).
		Model(&models.VerificationToken{}).
		Where("id = ? AND revision = ?", record.ID, record.Revision).
		Updates(map[string]any{
			"token_hash":         record.TokenHash,
			"issued_at":          record.IssuedAt,
			"expiration_minutes": record.ExpirationMinutes,
			"verified":           record.Verified,
			"verified_at":        record.VerifiedAt,
			"available":          record.Available,
			"revision":           next,
		})
	if result.Error != nil {
		return fmt.Errorf("verification store: save: %w", translate(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}

	record.Revision = next
	return nil
}
