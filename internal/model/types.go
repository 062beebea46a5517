package model

import (
	"time"
)

// Theme is the UI theme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Valid reports whether t is one of the known themes.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

// Preferences holds per-user settings
type Preferences struct {
	Theme              Theme `json:"theme"`
	EmailNotifications bool  `json:"emailNotifications"`
}

// DefaultPreferences are applied to newly created users.
func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeSystem, EmailNotifications: true}
}

// User represents a user in the system
type User struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"displayName"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Preferences Preferences `json:"preferences"`
}

// Session is a signed-in device/app, linked to one refresh token by its jti
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	RefreshTokenID string    `json:"refreshTokenId"`
	AppID          *string   `json:"appId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	IPAddress      *string   `json:"ipAddress,omitempty"`
	UserAgent      *string   `json:"userAgent,omitempty"`
}

// MagicLinkToken is a one-time sign-in token sent by email
type MagicLinkToken struct {
	Token       string     `json:"token"`
	Email       string     `json:"email"`
	AppID       *string    `json:"appId,omitempty"`
	RedirectURI *string    `json:"redirectUri,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	Attempts    int        `json:"attempts"`
	UsedAt      *time.Time `json:"usedAt,omitempty"`
}

// RevocationEntry blacklists a refresh token id until the token would have expired
type RevocationEntry struct {
	JTI       string    `json:"jti"`
	RevokedAt time.Time `json:"revokedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LinkClaims is what a successful magic-link verification yields.
type LinkClaims struct {
	Email       string  `json:"email"`
	AppID       *string `json:"appId,omitempty"`
	RedirectURI *string `json:"redirectUri,omitempty"`
}
