// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDTooLong   = errors.New("user id too long")
)

// UserID is the opaque id a client supplies; it is never authenticated.
type UserID string

type User struct {
	ID       UserID `json:"userId"`
	Username string `json:"userName"`
}

// NewUser trims the display name and checks both fields against their limits.
func NewUser(id UserID, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrUsernameEmpty
	}
	if utf8.RuneCountInString(username) > MaxUsernameLen {
		return User{}, ErrUsernameTooLong
	}
	if utf8.RuneCountInString(string(id)) > MaxUserIDLen {
		return User{}, ErrUserIDTooLong
	}
	return User{ID: id, Username: username}, nil
}
