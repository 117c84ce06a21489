package models

import "gorm.io/datatypes"

// RobotCallLog records a proxied call to the robot API.
type RobotCallLog struct {
	BaseModel

	UserID     string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Operation  string         `gorm:"size:64;not null;index" json:"operation"`
	Method     string         `gorm:"size:8;not null" json:"method"`
	Path       string         `gorm:"not null" json:"path"`
	StatusCode int            `json:"status_code"`
	Success    bool           `gorm:"index" json:"success"`
	Request    datatypes.JSON `json:"request,omitempty"`
	Response   datatypes.JSON `json:"response,omitempty"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}
