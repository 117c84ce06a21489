package models

import "time"

// DefaultExpirationMinutes is the validity window applied to new verification tokens.
const DefaultExpirationMinutes = 10

// VerificationToken proves control of a user's email address. Exactly one row exists per user.
// TokenHash holds the SHA-256 digest of the issued token value; the raw value is only ever sent by email.
type VerificationToken struct {
	BaseModel

	UserID            string     `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	TokenHash         string     `gorm:"size:64;not null;uniqueIndex" json:"-"`
	IssuedAt          time.Time  `gorm:"not null" json:"issued_at"`
	ExpirationMinutes int        `gorm:"not null;default:10" json:"expiration_minutes"`
	Verified          bool       `gorm:"not null;default:false" json:"verified"`
	VerifiedAt        *time.Time `json:"verified_at"`
	Available         bool       `gorm:"not null;default:true" json:"available"`
	Revision          int64      `gorm:"not null;default:0" json:"-"`
}

// ExpiresAt reports the instant the current token value stops being usable.
func (t *VerificationToken) ExpiresAt() time.Time {
	minutes := t.ExpirationMinutes
	if minutes <= 0 {
		minutes = DefaultExpirationMinutes
	}
	return t.IssuedAt.Add(time.Duration(minutes) * time.Minute)
}

// WithinWindow reports whether now falls strictly before the expiry instant.
func (t *VerificationToken) WithinWindow(now time.Time) bool {
	return now.Before(t.ExpiresAt())
}

// IsUsable is the pure validity predicate: unverified, available and inside the window.
func (t *VerificationToken) IsUsable(now time.Time) bool {
	return !t.Verified && t.Available && t.WithinWindow(now)
}
