// Package users holds the persisted OAuth account records the sync
// subsystem reads its credentials from. Token acquisition and refresh
// happen elsewhere; this package only exposes tokens read-only.
package users

import (
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// User is an OAuth-authenticated Baidu account.
type User struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	BaiduUID          string `gorm:"uniqueIndex;size:64;not null"`
	Username          string `gorm:"size:128"`
	OAuthAccessToken  string `gorm:"column:access_token;type:text"`
	OAuthRefreshToken string `gorm:"column:refresh_token;type:text"`
	TokenExpiresAt    time.Time
	ScopeGranted      string    `gorm:"size:255"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// Token returns the stored credential as an oauth2 token.
func (u *User) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  u.OAuthAccessToken,
		RefreshToken: u.OAuthRefreshToken,
		TokenType:    "Bearer",
		Expiry:       u.TokenExpiresAt,
	}
}

// IsTokenExpired reports whether the stored token can no longer be used.
func (u *User) IsTokenExpired() bool {
	return !u.Token().Valid()
}

// AccessToken returns the raw access token string.
func (u *User) AccessToken() string {
	return u.OAuthAccessToken
}

// UserID returns the provider-assigned account identifier.
func (u *User) UserID() string {
	return u.BaiduUID
}

// ErrUserNotFound is returned when a user lookup fails.
var ErrUserNotFound = gorm.ErrRecordNotFound

// FindByID retrieves a user by primary key.
func FindByID(db *gorm.DB, id uint) (*User, error) {
	var user User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByBaiduUID retrieves a user by provider account id.
func FindByBaiduUID(db *gorm.DB, uid string) (*User, error) {
	var user User
	if err := db.Where("baidu_uid = ?", uid).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// AllUsers retrieves every known user.
func AllUsers(db *gorm.DB) ([]User, error) {
	var all []User
	if err := db.Order("id").Find(&all).Error; err != nil {
		return nil, err
	}
	return all, nil
}
