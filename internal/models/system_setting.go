package models

import "time"

// SystemSetting persists installation-wide values, such as generated signing and vault keys, so
// they survive restarts.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;size:128"`
	Value     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
