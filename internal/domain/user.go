// Package domain holds the persisted entities and their own validation rules.
package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	MaxUsernameLen = 36
	MinPasswordLen = 4
	// MaxPasswordLen is the most bytes bcrypt accepts.
	MaxPasswordLen = 72
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrPasswordShort   = errors.New("password too short")
	ErrPasswordLong    = errors.New("password too long")
)

type UserID int64

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

type User struct {
	ID           UserID     `json:"id"`
	Username     string     `json:"username"`
	Avatar       string     `json:"avatar"`
	Email        string     `json:"email,omitempty"`
	Status       UserStatus `json:"status,omitempty"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// The ID is assigned by storage.
func NewUser(username, email, passwordHash string) (*User, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &User{
		Username:     username,
		Email:        email,
		Avatar:       AvatarURL(username),
		Status:       StatusOffline,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

var avatarColors = []string{"7289da", "43b581", "faa61a", "f04747", "747f8d"}

// AvatarURL picks a background color from the username length so a user keeps
// the same avatar across renames of equal length.
func AvatarURL(username string) string {
	color := avatarColors[len(username)%len(avatarColors)]
	return fmt.Sprintf("https://ui-avatars.com/api/?name=%s&background=%s&color=fff&size=128",
		url.QueryEscape(username), color)
}

// Public strips fields that never leave the server.
func (u User) Public() User {
	u.PasswordHash = ""
	u.Email = ""
	return u
}
