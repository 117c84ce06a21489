package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/models"
)

const maxCallLogPage = 100

// CallLogStore records proxied robot API calls.
type CallLogStore struct {
	db *gorm.DB
}

// NewCallLogStore constructs a call log store.
func NewCallLogStore(db *gorm.DB) *CallLogStore {
	return &CallLogStore{db: db}
}

// Record appends an entry.
func (s *CallLogStore) Record(ctx context.Context, entry *models.RobotCallLog) error {
	return translate(s.db.WithContext(ctx).Create(entry).Error)
}

// ListRecent returns the newest entries for userID.
func (s *CallLogStore) ListRecent(ctx context.Context, userID string, limit int) ([]models.RobotCallLog, error) {
	if limit <= 0 || limit > maxCallLogPage {
		limit = maxCallLogPage
	}
	var entries []models.RobotCallLog
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, translate(err)
}

// PurgeBefore deletes entries created before cutoff and reports how many were removed.
func (s *CallLogStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.RobotCallLog{})
	return result.RowsAffected, translate(result.Error)
}
