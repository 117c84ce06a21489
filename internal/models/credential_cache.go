package models

import "time"

// DefaultSceneCode is applied when a user saves robot credentials without a scene code.
const DefaultSceneCode = "HU29fr"

// CredentialCache holds a user's robot API client credentials and the cached bearer token.
// ClientSecret and AccessToken are stored encrypted by the vault.
type CredentialCache struct {
	BaseModel

	UserID         string     `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	ClientID       string     `gorm:"not null" json:"client_id"`
	ClientSecret   string     `gorm:"type:text;not null" json:"-"`
	StoreID        string     `gorm:"not null" json:"store_id"`
	SceneCode      string     `gorm:"not null;default:HU29fr" json:"scene_code"`
	AccessToken    *string    `gorm:"type:text" json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	Revision       int64      `gorm:"not null;default:0" json:"-"`
}

// HasToken reports whether a bearer token is cached.
func (c *CredentialCache) HasToken() bool {
	return c.AccessToken != nil && *c.AccessToken != "" && c.TokenExpiresAt != nil
}

// IsTokenValid reports whether the cached token exists and has not lapsed.
func (c *CredentialCache) IsTokenValid(now time.Time) bool {
	return c.HasToken() && now.Before(*c.TokenExpiresAt)
}

// HasClientCredentials reports whether both client id and secret are configured.
func (c *CredentialCache) HasClientCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}
