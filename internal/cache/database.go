package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/robotdesk/internal/models"
)

// DatabaseStore keeps rate-limit counters in the primary SQL database.
type DatabaseStore struct {
	db    *gorm.DB
	clock clockwork.Clock
}

// NewDatabaseStore constructs a database-backed Counter.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return NewDatabaseStoreWithClock(db, clockwork.NewRealClock())
}

// NewDatabaseStoreWithClock constructs a database-backed Counter driven by clock.
func NewDatabaseStoreWithClock(db *gorm.DB, clock clockwork.Clock) *DatabaseStore {
	if db == nil {
		return nil
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DatabaseStore{db: db, clock: clock}
}

// IncrementWithTTL increments a fixed-window counter. The window starts with the first hit.
// Concurrent first hits on a key all count against the same row.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errors.New("cache: database store not initialised")
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock.Now()
	var counter models.RateCounter

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := models.RateCounter{Key: key, ExpiresAt: now.Add(window)}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return err
		}

		// Conditions go through the model so the reserved column name is quoted per dialect.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(&models.RateCounter{Key: key}).
			Take(&counter).Error; err != nil {
			return err
		}

		if !counter.ExpiresAt.After(now) {
			counter.Count = 0
			counter.ExpiresAt = now.Add(window)
		}
		counter.Count++

		return tx.Model(&models.RateCounter{Key: key}).
			Updates(map[string]any{
				"count":      counter.Count,
				"expires_at": counter.ExpiresAt,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return counter.Count, counter.ExpiresAt.Sub(now), nil
}

// PurgeExpired deletes counters whose window has closed and reports how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errors.New("cache: database store not initialised")
	}

	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.clock.Now()).
		Delete(&models.RateCounter{})
	return result.RowsAffected, result.Error
}
