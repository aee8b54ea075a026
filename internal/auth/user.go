// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Field limits.
const (
	MinPasswordLength = 8
	MaxDisplayNameLen = 100
	maxEmailLength    = 254
	maxPasswordLength = 1024
)

// emailPattern is the local@domain.tld shape check.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User is a verified account. Users are only created after the signup code
// has been confirmed.
type User struct {
	ID            ulid.ULID
	Email         string
	DisplayName   string
	PasswordHash  string
	EmailVerified bool
	PointBalance  int
	CreatedAt     time.Time
	LastLoginAt   *time.Time
}

// NewUser creates a verified User with a fresh ID and zero points.
func NewUser(email, displayName, passwordHash string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrValidation("email", "Email is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrValidation("name", "Name is required")
	}
	if passwordHash == "" {
		return nil, ErrValidation("password", "Password hash is required")
	}
	return &User{
		ID:            ulid.Make(),
		Email:         email,
		DisplayName:   displayName,
		PasswordHash:  passwordHash,
		EmailVerified: true,
		PointBalance:  0,
		CreatedAt:     now,
	}, nil
}

// UserRepository manages user persistence. Emails are stored lowercase and
// are unique.
type UserRepository interface {
	// GetByEmail retrieves a user by email. Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// Create stores a new user. Returns a CodeConflict error if the email is taken.
	Create(ctx context.Context, user *User) error

	// UpdateLastLogin sets the last login timestamp.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email has the local@domain.tld shape.
func ValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// ValidateSignup checks signup input. The first failing field is reported.
func ValidateSignup(displayName, email, password string) error {
	if strings.TrimSpace(displayName) == "" || strings.TrimSpace(email) == "" || password == "" {
		return ErrValidation("required", "Name, email, and password are required")
	}
	if len([]rune(strings.TrimSpace(displayName))) > MaxDisplayNameLen {
		return ErrValidation("name", "Name is too long")
	}
	if !ValidEmail(NormalizeEmail(email)) {
		return ErrValidation("email", "Invalid email format")
	}
	return ValidatePassword(password)
}

// ValidatePassword enforces the password strength policy: at least
// MinPasswordLength characters with an uppercase letter, a lowercase letter
// and a digit.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrValidation("password", "Password must be at least 8 characters long")
	}
	if len(password) > maxPasswordLength {
		return ErrValidation("password", "Password is too long")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrValidation("password",
			"Password must contain at least one uppercase letter, one lowercase letter, and one number")
	}
	return nil
}
